package storage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
)

// registerPrefix records a ledger-key prefix into statePrefixes so that
// ComputeRoot() always covers it. All prefix constants must be declared via
// this function.
func registerPrefix(p string) string {
	statePrefixes = append(statePrefixes, p)
	return p
}

// statePrefixes is populated by registerPrefix() below. ComputeRoot()
// iterates these prefixes to build the full ledger view.
var statePrefixes []string

var (
	prefixGlobal     = registerPrefix("glob:")
	prefixBatch      = registerPrefix("batch:")
	prefixBox        = registerPrefix("box:")
	prefixVrfPending = registerPrefix("vrfp:")
	prefixAssignment = registerPrefix("inv:")
	prefixPrice      = registerPrefix("price:")
	prefixOpReceipt  = registerPrefix("oprc:")
	prefixAccount    = registerPrefix("acct:")
	prefixAsset      = registerPrefix("asset:")
)

// globalKey is the fixed discriminant of the singleton Global record.
const globalKey = "config"

func batchKey(id uint64) string {
	return fmt.Sprintf("%s%020d", prefixBatch, id)
}

type stateSnapshot struct {
	dirty   map[string][]byte
	deleted map[string]bool
}

// StateDB implements core.State on top of a DB with an in-memory write
// buffer, snapshot/rollback, atomic create-if-absent, and deterministic
// ledger-root computation.
type StateDB struct {
	db        DB
	dirty     map[string][]byte
	deleted   map[string]bool
	snapshots []stateSnapshot
}

// NewStateDB creates a StateDB backed by db.
func NewStateDB(db DB) *StateDB {
	return &StateDB{
		db:      db,
		dirty:   make(map[string][]byte),
		deleted: make(map[string]bool),
	}
}

// ---- internal helpers ----

func (s *StateDB) get(key string) ([]byte, error) {
	if s.deleted[key] {
		return nil, core.ErrNotFound
	}
	if v, ok := s.dirty[key]; ok {
		return v, nil
	}
	return s.db.Get([]byte(key))
}

func (s *StateDB) set(key string, val []byte) {
	delete(s.deleted, key)
	s.dirty[key] = val
}

func (s *StateDB) del(key string) {
	delete(s.dirty, key)
	s.deleted[key] = true
}

// create writes key only if it does not exist yet. The engine serializes
// operations, so the read-then-write pair here is atomic with respect to
// other ledger mutations.
func (s *StateDB) create(key string, val []byte) error {
	if _, err := s.get(key); err == nil {
		return core.ErrAlreadyExists
	} else if !errors.Is(err, core.ErrNotFound) {
		return err
	}
	s.set(key, val)
	return nil
}

func (s *StateDB) getJSON(key string, out any) error {
	data, err := s.get(key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

func (s *StateDB) setJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	s.set(key, data)
	return nil
}

func (s *StateDB) createJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.create(key, data)
}

// ---- Global ----

func (s *StateDB) GetGlobal() (*core.Global, error) {
	var g core.Global
	if err := s.getJSON(prefixGlobal+globalKey, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

func (s *StateDB) SetGlobal(g *core.Global) error {
	return s.setJSON(prefixGlobal+globalKey, g)
}

func (s *StateDB) CreateGlobal(g *core.Global) error {
	return s.createJSON(prefixGlobal+globalKey, g)
}

// ---- Batch ----

func (s *StateDB) GetBatch(batchID uint64) (*core.Batch, error) {
	var b core.Batch
	if err := s.getJSON(batchKey(batchID), &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *StateDB) SetBatch(b *core.Batch) error {
	return s.setJSON(batchKey(b.BatchID), b)
}

// ---- BoxState ----

func (s *StateDB) GetBox(assetID string) (*core.BoxState, error) {
	var b core.BoxState
	if err := s.getJSON(prefixBox+assetID, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

func (s *StateDB) SetBox(b *core.BoxState) error {
	return s.setJSON(prefixBox+b.AssetID, b)
}

func (s *StateDB) CreateBox(b *core.BoxState) error {
	return s.createJSON(prefixBox+b.AssetID, b)
}

// ---- VrfPending ----

func (s *StateDB) GetVrfPending(assetID string) (*core.VrfPending, error) {
	var p core.VrfPending
	if err := s.getJSON(prefixVrfPending+assetID, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetVrfPending(p *core.VrfPending) error {
	return s.setJSON(prefixVrfPending+p.AssetID, p)
}

func (s *StateDB) CreateVrfPending(p *core.VrfPending) error {
	return s.createJSON(prefixVrfPending+p.AssetID, p)
}

func (s *StateDB) DeleteVrfPending(assetID string) error {
	s.del(prefixVrfPending + assetID)
	return nil
}

// ---- InventoryAssignment ----

func (s *StateDB) GetAssignment(hash core.Hash32) (*core.InventoryAssignment, error) {
	var a core.InventoryAssignment
	if err := s.getJSON(prefixAssignment+hash.Hex(), &a); err != nil {
		return nil, err
	}
	return &a, nil
}

// CreateAssignment is the exclusivity gate: a second create for the same
// inventory hash fails with ErrAlreadyExists and nothing is written.
func (s *StateDB) CreateAssignment(a *core.InventoryAssignment) error {
	return s.createJSON(prefixAssignment+a.InventoryIDHash.Hex(), a)
}

// ---- OpReceipt ----

func (s *StateDB) GetOpReceipt(opID string) (*core.OpReceipt, error) {
	var r core.OpReceipt
	if err := s.getJSON(prefixOpReceipt+opID, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// CreateOpReceipt is the replay gate: the same operation ID can only ever be
// recorded once.
func (s *StateDB) CreateOpReceipt(r *core.OpReceipt) error {
	return s.createJSON(prefixOpReceipt+r.OpID, r)
}

// ---- PriceStore ----

func (s *StateDB) GetPrice(hash core.Hash32) (*core.PriceStore, error) {
	var p core.PriceStore
	if err := s.getJSON(prefixPrice+hash.Hex(), &p); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *StateDB) SetPrice(p *core.PriceStore) error {
	return s.setJSON(prefixPrice+p.InventoryIDHash.Hex(), p)
}

// ---- Account ----

func (s *StateDB) GetAccount(address string) (*core.Account, error) {
	var acc core.Account
	err := s.getJSON(prefixAccount+address, &acc)
	if errors.Is(err, core.ErrNotFound) {
		return &core.Account{Address: address}, nil // zero-value account
	}
	if err != nil {
		return nil, err
	}
	return &acc, nil
}

func (s *StateDB) SetAccount(acc *core.Account) error {
	return s.setJSON(prefixAccount+acc.Address, acc)
}

// ---- Asset ----

func (s *StateDB) GetAsset(id string) (*core.Asset, error) {
	var a core.Asset
	if err := s.getJSON(prefixAsset+id, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *StateDB) SetAsset(a *core.Asset) error {
	return s.setJSON(prefixAsset+a.ID, a)
}

func (s *StateDB) DeleteAsset(id string) error {
	s.del(prefixAsset + id)
	return nil
}

// ---- Snapshot / Rollback / Commit ----

// Snapshot saves the current write buffer and returns a snapshot ID.
func (s *StateDB) Snapshot() (int, error) {
	snap := stateSnapshot{
		dirty:   make(map[string][]byte, len(s.dirty)),
		deleted: make(map[string]bool, len(s.deleted)),
	}
	for k, v := range s.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		snap.dirty[k] = cp
	}
	for k, v := range s.deleted {
		snap.deleted[k] = v
	}
	s.snapshots = append(s.snapshots, snap)
	return len(s.snapshots) - 1, nil
}

// RevertToSnapshot restores the write buffer to a previously saved snapshot.
// The snapshot maps are deep-copied so later writes cannot corrupt them.
func (s *StateDB) RevertToSnapshot(id int) error {
	if id < 0 || id >= len(s.snapshots) {
		return fmt.Errorf("invalid snapshot id %d", id)
	}
	snap := s.snapshots[id]

	dirty := make(map[string][]byte, len(snap.dirty))
	for k, v := range snap.dirty {
		cp := make([]byte, len(v))
		copy(cp, v)
		dirty[k] = cp
	}
	deleted := make(map[string]bool, len(snap.deleted))
	for k, v := range snap.deleted {
		deleted[k] = v
	}

	s.dirty = dirty
	s.deleted = deleted
	s.snapshots = s.snapshots[:id]
	return nil
}

// ComputeRoot returns the deterministic hash of the complete ledger. It
// merges all persisted entries (scanned by the known prefixes) with the
// current write buffer, then hashes the sorted key-value pairs using
// length-prefix encoding. It does not flush or modify state.
func (s *StateDB) ComputeRoot() string {
	merged := make(map[string][]byte)
	for _, prefix := range statePrefixes {
		it := s.db.NewIterator([]byte(prefix))
		for it.Next() {
			k := string(it.Key())
			v := make([]byte, len(it.Value()))
			copy(v, it.Value())
			merged[k] = v
		}
		it.Release()
	}

	for k, v := range s.dirty {
		merged[k] = v
	}
	for k := range s.deleted {
		delete(merged, k)
	}

	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var buf bytes.Buffer
	var lenBuf [4]byte
	for _, k := range keys {
		v := merged[k]
		kb := []byte(k)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(kb)))
		buf.Write(lenBuf[:])
		buf.Write(kb)
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(v)))
		buf.Write(lenBuf[:])
		buf.Write(v)
	}
	return crypto.Hash(buf.Bytes())
}

// Commit atomically flushes the write buffer to the underlying DB via a
// write batch and then clears it.
func (s *StateDB) Commit() error {
	batch := s.db.NewBatch()
	for k, v := range s.dirty {
		batch.Set([]byte(k), v)
	}
	for k := range s.deleted {
		batch.Delete([]byte(k))
	}
	if err := batch.Write(); err != nil {
		return err
	}
	s.dirty = make(map[string][]byte)
	s.deleted = make(map[string]bool)
	s.snapshots = nil
	return nil
}
