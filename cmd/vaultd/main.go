// Command vaultd starts a mystery-box vault node: ledger, operation engine,
// secondary indexer and JSON-RPC API.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/echa/log"
	"github.com/joho/godotenv"

	"github.com/boxvault/boxvault/config"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/events"
	"github.com/boxvault/boxvault/indexer"
	"github.com/boxvault/boxvault/rpc"
	"github.com/boxvault/boxvault/storage"
	"github.com/boxvault/boxvault/wallet"

	// Import handler modules to trigger their init() self-registration.
	_ "github.com/boxvault/boxvault/engine/modules/admin"
	_ "github.com/boxvault/boxvault/engine/modules/boxes"
	_ "github.com/boxvault/boxvault/engine/modules/market"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "vault.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new key and exit")
	flag.Parse()

	// Optional .env file; environment wins over config file either way.
	_ = godotenv.Load()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("BOXVAULT_PASSWORD")
	if password == "" {
		log.Warn("BOXVAULT_PASSWORD not set, keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		w, err := wallet.Generate()
		if err != nil {
			log.Fatalf("genkey: %v", err)
		}
		if err := wallet.SaveKey(*keyPath, password, w.PrivKey()); err != nil {
			log.Fatalf("genkey: %v", err)
		}
		fmt.Printf("Generated key. Public key: %s\n", w.PubKey())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- open DB ----
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		log.Fatalf("mkdir data dir: %v", err)
	}
	db, err := storage.NewLevelDB(cfg.DataDir + "/vault")
	if err != nil {
		log.Fatalf("open db: %v", err)
	}
	defer db.Close()

	state := storage.NewStateDB(db)

	// ---- events and indexer ----
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)

	// ---- operation engine ----
	eng := engine.New(state, emitter, nil)

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(&cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Info("TLS enabled for RPC")
	}

	// ---- RPC ----
	rpcAddr := fmt.Sprintf(":%d", cfg.RPCPort)
	rpcHandler := rpc.NewHandler(eng, idx)
	rpcServer := rpc.NewServer(rpcAddr, rpcHandler, cfg.RPCAuthToken, cfg.AllowedOrigins, tlsCfg)
	if err := rpcServer.Start(); err != nil {
		log.Fatalf("rpc start: %v", err)
	}
	defer rpcServer.Stop()
	if cfg.RPCAuthToken != "" {
		log.Info("RPC Bearer token authentication enabled")
	}

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Info("shutting down")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Warnf("config file not found at %s, using defaults", path)
			return config.Load("")
		}
		return nil, err
	}
	return cfg, nil
}
