package engine_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/crypto"
	"github.com/boxvault/boxvault/engine"
	"github.com/boxvault/boxvault/engine/bank"
	"github.com/boxvault/boxvault/engine/modules/market"
	"github.com/boxvault/boxvault/events"
	"github.com/boxvault/boxvault/indexer"
	"github.com/boxvault/boxvault/internal/testutil"
	"github.com/boxvault/boxvault/merkle"
	"github.com/boxvault/boxvault/storage"
	"github.com/boxvault/boxvault/vrf"
	"github.com/boxvault/boxvault/wallet"

	_ "github.com/boxvault/boxvault/engine/modules/admin"
	_ "github.com/boxvault/boxvault/engine/modules/boxes"
)

const testNow = int64(1_700_000_000)

type testEnv struct {
	t         *testing.T
	eng       *engine.Engine
	state     core.State
	authority *wallet.Wallet
	oracle    *wallet.Wallet
	user      *wallet.Wallet
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	authority, err := wallet.Generate()
	require.NoError(t, err)
	oracle, err := wallet.Generate()
	require.NoError(t, err)
	user, err := wallet.Generate()
	require.NoError(t, err)

	state := testutil.NewStateDB()
	eng := engine.New(state, nil, nil)
	eng.SetClock(func() int64 { return testNow })

	return &testEnv{
		t:         t,
		eng:       eng,
		state:     state,
		authority: authority,
		oracle:    oracle,
		user:      user,
	}
}

func (env *testEnv) exec(w *wallet.Wallet, typ core.OpType, payload any) error {
	env.t.Helper()
	op, err := w.NewOp(typ, payload)
	require.NoError(env.t, err)
	return env.eng.Execute(op)
}

func (env *testEnv) mustExec(w *wallet.Wallet, typ core.OpType, payload any) {
	env.t.Helper()
	require.NoError(env.t, env.exec(w, typ, payload))
}

func (env *testEnv) initVault(minTreasury uint64) {
	env.t.Helper()
	env.mustExec(env.authority, core.OpInitVault, core.InitVaultPayload{
		Oracle:             env.oracle.PubKey(),
		SettlementMint:     "USDC",
		MinTreasuryBalance: minTreasury,
	})
}

func (env *testEnv) publishBatch(batchID uint64, root core.Hash32, totalItems uint64, mode core.ClaimMode, items []core.ItemRef) {
	env.t.Helper()
	env.mustExec(env.authority, core.OpPublishRoot, core.PublishRootPayload{
		BatchID:      batchID,
		MerkleRoot:   root,
		SnapshotTime: testNow - 10,
		TotalItems:   totalItems,
		Mode:         mode,
		Items:        items,
	})
}

// mintBox executes a mint for the user and returns the derived asset ID.
func (env *testEnv) mintBox(batchID uint64) string {
	env.t.Helper()
	op, err := env.user.NewOp(core.OpMintBox, core.MintBoxPayload{
		BatchID: batchID,
		URI:     "ipfs://sealed-box",
	})
	require.NoError(env.t, err)
	require.NoError(env.t, env.eng.Execute(op))
	return crypto.Hash([]byte(op.ID + ":box"))
}

// openAndFulfill runs the open request plus the oracle callback for assetID.
func (env *testEnv) openAndFulfill(assetID string, poolSize uint64, randomness core.Hash32) {
	env.t.Helper()
	env.mustExec(env.user, core.OpOpenBox, core.OpenBoxPayload{
		AssetID:  assetID,
		PoolSize: poolSize,
	})
	requestID, err := vrf.MockProvider{}.RequestRandomness(vrf.Seed(assetID, testNow))
	require.NoError(env.t, err)
	env.mustExec(env.oracle, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID:    assetID,
		RequestID:  requestID,
		Randomness: randomness,
	})
}

// fundTreasury credits the user out of band, then deposits into the treasury.
func (env *testEnv) fundTreasury(amount uint64) {
	env.t.Helper()
	require.NoError(env.t, bank.Credit(env.state, env.user.PubKey(), amount))
	env.mustExec(env.user, core.OpDepositTreasury, core.DepositTreasuryPayload{Amount: amount})
}

// signedPrice builds an oracle-signed price payload.
func (env *testEnv) signedPrice(hash core.Hash32, price uint64, ts int64) core.SetPricePayload {
	env.t.Helper()
	msg := market.PriceMessage(hash, price, ts)
	return core.SetPricePayload{
		InventoryIDHash: hash,
		Price:           price,
		Timestamp:       ts,
		Signature:       crypto.Sign(env.oracle.PrivKey(), msg[:]),
	}
}

func testRandomness() core.Hash32 {
	return core.Hash32(crypto.Keccak256([]byte("test randomness")))
}

func directItems() []core.ItemRef {
	return []core.ItemRef{
		{Name: "Karambit Doppler", URI: "ipfs://item-0"},
		{Name: "Butterfly Fade", URI: "ipfs://item-1"},
		{Name: "Bayonet Tiger Tooth", URI: "ipfs://item-2"},
	}
}

func TestInitVault(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	assert.Equal(t, env.authority.PubKey(), g.Authority)
	assert.Equal(t, env.oracle.PubKey(), g.Oracle)
	assert.True(t, g.BuybackEnabled)
	assert.False(t, g.Paused)
	assert.Equal(t, core.DefaultMinTreasuryBalance, g.MinTreasuryBalance)

	err = env.exec(env.authority, core.OpInitVault, core.InitVaultPayload{
		Oracle:         env.oracle.PubKey(),
		SettlementMint: "USDC",
	})
	assert.ErrorIs(t, err, core.ErrAlreadyExists)
}

func TestDirectClaimLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	items := directItems()
	// direct mode still anchors its item list in a root
	leaves := make([][32]byte, len(items))
	for i, it := range items {
		leaves[i] = merkle.InventoryLeaf(it.Name, it.URI)
	}
	root, err := merkle.BuildRoot(leaves)
	require.NoError(t, err)

	env.publishBatch(1, core.Hash32(root), uint64(len(items)), core.ClaimDirect, items)

	assetID := env.mintBox(1)
	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.False(t, box.Opened)
	assert.Equal(t, env.user.PubKey(), box.Owner)

	env.openAndFulfill(assetID, uint64(len(items)), testRandomness())

	box, err = env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.True(t, box.Opened)
	assert.Less(t, box.RandomIndex, uint64(len(items)))

	env.mustExec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})

	box, err = env.state.GetBox(assetID)
	require.NoError(t, err)
	item := items[box.RandomIndex%uint64(len(items))]
	assert.Equal(t, core.Hash32(merkle.InventoryLeaf(item.Name, item.URI)), box.AssignedInventory)

	asset, err := env.state.GetAsset(assetID)
	require.NoError(t, err)
	assert.Equal(t, item.Name, asset.Name, "metadata flips to the revealed item")
	assert.Equal(t, item.URI, asset.URI)

	_, err = env.state.GetVrfPending(assetID)
	assert.ErrorIs(t, err, core.ErrNotFound, "pending request is consumed")

	// a second reveal has nothing left to bind
	err = env.exec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})
	assert.ErrorIs(t, err, core.ErrInventoryAlreadyAssigned)
}

func TestProofClaimLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	leaves := make([][32]byte, 5)
	for i := range leaves {
		leaves[i] = merkle.InventoryLeaf("skin-"+string(rune('a'+i)), "ipfs://skin")
	}
	root, err := merkle.BuildRoot(leaves)
	require.NoError(t, err)

	env.publishBatch(1, core.Hash32(root), 5, core.ClaimProof, nil)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, 5, testRandomness())

	proof, err := merkle.GenerateProof(leaves, leaves[2])
	require.NoError(t, err)
	proofHashes := make([]core.Hash32, len(proof))
	for i, p := range proof {
		proofHashes[i] = core.Hash32(p)
	}

	env.mustExec(env.user, core.OpAssign, core.AssignPayload{
		AssetID:         assetID,
		InventoryIDHash: core.Hash32(leaves[2]),
		Proof:           proofHashes,
	})

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.Equal(t, core.Hash32(leaves[2]), box.AssignedInventory)

	a, err := env.state.GetAssignment(core.Hash32(leaves[2]))
	require.NoError(t, err)
	assert.Equal(t, assetID, a.AssetID)

	// a second box cannot claim the same inventory item
	assetID2 := env.mintBox(1)
	env.openAndFulfill(assetID2, 5, testRandomness())
	err = env.exec(env.user, core.OpAssign, core.AssignPayload{
		AssetID:         assetID2,
		InventoryIDHash: core.Hash32(leaves[2]),
		Proof:           proofHashes,
	})
	assert.ErrorIs(t, err, core.ErrInventoryAlreadyAssigned)
}

func TestAssignRejectsBadProof(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	leaves := make([][32]byte, 4)
	for i := range leaves {
		leaves[i] = merkle.InventoryLeaf("skin-"+string(rune('a'+i)), "ipfs://skin")
	}
	root, err := merkle.BuildRoot(leaves)
	require.NoError(t, err)

	env.publishBatch(1, core.Hash32(root), 4, core.ClaimProof, nil)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, 4, testRandomness())

	outsider := merkle.InventoryLeaf("not-in-batch", "ipfs://fake")
	proof, err := merkle.GenerateProof(leaves, leaves[0])
	require.NoError(t, err)
	proofHashes := make([]core.Hash32, len(proof))
	for i, p := range proof {
		proofHashes[i] = core.Hash32(p)
	}

	err = env.exec(env.user, core.OpAssign, core.AssignPayload{
		AssetID:         assetID,
		InventoryIDHash: core.Hash32(outsider),
		Proof:           proofHashes,
	})
	assert.ErrorIs(t, err, core.ErrInvalidMerkleProof)

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.True(t, box.AssignedInventory.IsZero(), "failed assign leaves the box unbound")
}

func TestDoubleOpenRejected(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)
	assetID := env.mintBox(1)

	env.mustExec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 10})

	err := env.exec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 10})
	assert.ErrorIs(t, err, core.ErrAlreadyOpened, "second request while pending")

	requestID, err := vrf.MockProvider{}.RequestRandomness(vrf.Seed(assetID, testNow))
	require.NoError(t, err)
	env.mustExec(env.oracle, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID:    assetID,
		RequestID:  requestID,
		Randomness: testRandomness(),
	})

	err = env.exec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 10})
	assert.ErrorIs(t, err, core.ErrAlreadyOpened, "opened box cannot be reopened")
}

func TestVrfCallbackGuards(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)
	assetID := env.mintBox(1)
	env.mustExec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 10})

	requestID, err := vrf.MockProvider{}.RequestRandomness(vrf.Seed(assetID, testNow))
	require.NoError(t, err)

	// only the oracle may fulfill
	err = env.exec(env.user, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID: assetID, RequestID: requestID, Randomness: testRandomness(),
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// request ID must match the pending record
	err = env.exec(env.oracle, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID: assetID, RequestID: requestID + 1, Randomness: testRandomness(),
	})
	assert.ErrorIs(t, err, core.ErrVrfNotFulfilled)

	// degenerate randomness is rejected
	err = env.exec(env.oracle, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID: assetID, RequestID: requestID, Randomness: core.Hash32{},
	})
	assert.ErrorIs(t, err, core.ErrVrfNotFulfilled)

	// no pending request at all
	err = env.exec(env.oracle, core.OpVrfCallback, core.VrfCallbackPayload{
		AssetID: "no-such-box", RequestID: requestID, Randomness: testRandomness(),
	})
	assert.ErrorIs(t, err, core.ErrVrfNotFulfilled)
}

func TestBuybackLifecycle(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(1_000) // low floor so the math stays readable
	env.fundTreasury(2_000_000)

	items := directItems()
	env.publishBatch(1, core.Hash32{1}, uint64(len(items)), core.ClaimDirect, items)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, uint64(len(items)), testRandomness())
	env.mustExec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)

	env.mustExec(env.user, core.OpSetPrice, env.signedPrice(box.AssignedInventory, 1_000_000, testNow-30))

	before, err := bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)

	env.mustExec(env.user, core.OpSellBack, core.SellBackPayload{
		AssetID:  assetID,
		MinPrice: 900_000,
	})

	after, err := bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)
	assert.Equal(t, before+990_000, after, "payout is price minus 1% spread")

	box, err = env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.True(t, box.Redeemed)

	_, err = env.state.GetAsset(assetID)
	assert.ErrorIs(t, err, core.ErrNotFound, "collectible is burned at redemption")

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.TotalBuybacks)
	assert.Equal(t, uint64(990_000), g.TotalBuybackVolume)

	// a redeemed box cannot be sold twice
	err = env.exec(env.user, core.OpSellBack, core.SellBackPayload{AssetID: assetID, MinPrice: 0})
	assert.ErrorIs(t, err, core.ErrAlreadyOpened)
}

func TestBuybackSlippage(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(1_000)
	env.fundTreasury(2_000_000)

	items := directItems()
	env.publishBatch(1, core.Hash32{1}, uint64(len(items)), core.ClaimDirect, items)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, uint64(len(items)), testRandomness())
	env.mustExec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)
	env.mustExec(env.user, core.OpSetPrice, env.signedPrice(box.AssignedInventory, 1_000_000, testNow-30))

	// payout would be 990_000, below the caller's floor
	err = env.exec(env.user, core.OpSellBack, core.SellBackPayload{
		AssetID:  assetID,
		MinPrice: 995_000,
	})
	assert.ErrorIs(t, err, core.ErrSlippageExceeded)

	// the quoted variant enforces the same floor against the caller's quote
	err = env.exec(env.user, core.OpSellBackQuoted, core.SellBackQuotedPayload{
		AssetID:     assetID,
		MarketPrice: 1_000_000,
		MinPrice:    995_000,
	})
	assert.ErrorIs(t, err, core.ErrSlippageExceeded)

	env.mustExec(env.user, core.OpSellBackQuoted, core.SellBackQuotedPayload{
		AssetID:     assetID,
		MarketPrice: 1_000_000,
		MinPrice:    990_000,
	})
}

func TestBuybackSolvencyLeavesStateUntouched(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(1_000_000)
	env.fundTreasury(1_500_000) // below payout + floor

	items := directItems()
	env.publishBatch(1, core.Hash32{1}, uint64(len(items)), core.ClaimDirect, items)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, uint64(len(items)), testRandomness())
	env.mustExec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)
	env.mustExec(env.user, core.OpSetPrice, env.signedPrice(box.AssignedInventory, 1_000_000, testNow-30))

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	treasuryBefore, err := bank.Balance(env.state, g.Treasury)
	require.NoError(t, err)
	userBefore, err := bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)

	err = env.exec(env.user, core.OpSellBack, core.SellBackPayload{AssetID: assetID, MinPrice: 0})
	assert.ErrorIs(t, err, core.ErrTreasuryInsufficient)

	treasuryAfter, err := bank.Balance(env.state, g.Treasury)
	require.NoError(t, err)
	userAfter, err := bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)
	assert.Equal(t, treasuryBefore, treasuryAfter, "failed buyback moves no funds")
	assert.Equal(t, userBefore, userAfter)

	box, err = env.state.GetBox(assetID)
	require.NoError(t, err)
	assert.False(t, box.Redeemed, "failed buyback is fully reverted")
}

func TestStalePriceRejected(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(1_000)
	env.fundTreasury(2_000_000)

	items := directItems()
	env.publishBatch(1, core.Hash32{1}, uint64(len(items)), core.ClaimDirect, items)
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, uint64(len(items)), testRandomness())
	env.mustExec(env.user, core.OpRevealClaim, core.RevealClaimPayload{AssetID: assetID})

	box, err := env.state.GetBox(assetID)
	require.NoError(t, err)

	// no price at all
	err = env.exec(env.user, core.OpSellBack, core.SellBackPayload{AssetID: assetID, MinPrice: 0})
	assert.ErrorIs(t, err, core.ErrPriceStale)

	// aged-out price
	env.mustExec(env.user, core.OpSetPrice, env.signedPrice(box.AssignedInventory, 1_000_000, testNow-600))
	err = env.exec(env.user, core.OpSellBack, core.SellBackPayload{AssetID: assetID, MinPrice: 0})
	assert.ErrorIs(t, err, core.ErrPriceStale)
}

func TestSetPriceRejectsForgedSignature(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	var hash core.Hash32
	hash[0] = 0x42

	// signed by a random key instead of the oracle
	forger, err := wallet.Generate()
	require.NoError(t, err)
	msg := market.PriceMessage(hash, 1_000_000, testNow)
	err = env.exec(env.user, core.OpSetPrice, core.SetPricePayload{
		InventoryIDHash: hash,
		Price:           1_000_000,
		Timestamp:       testNow,
		Signature:       crypto.Sign(forger.PrivKey(), msg[:]),
	})
	assert.ErrorIs(t, err, core.ErrInvalidSignature)

	// a valid signature over different numbers does not transfer
	good := env.signedPrice(hash, 1_000_000, testNow)
	good.Price = 2_000_000
	err = env.exec(env.user, core.OpSetPrice, good)
	assert.ErrorIs(t, err, core.ErrInvalidSignature)
}

func TestPauseBlocksUserOpsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)

	env.mustExec(env.authority, core.OpSetPaused, core.SetPausedPayload{Paused: true})

	err := env.exec(env.user, core.OpMintBox, core.MintBoxPayload{BatchID: 1, URI: "ipfs://x"})
	assert.ErrorIs(t, err, core.ErrBuybackDisabled, "mint is gated while paused")

	// admin controls stay live so the pause can be managed
	env.mustExec(env.authority, core.OpToggleBuyback, core.ToggleBuybackPayload{Enabled: false})
	env.mustExec(env.authority, core.OpSetPaused, core.SetPausedPayload{Paused: false})

	assetID := env.mintBox(1)
	assert.NotEmpty(t, assetID, "mint works again after unpause")
}

func TestAuthorityTransferTwoStep(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	next, err := wallet.Generate()
	require.NoError(t, err)

	// acceptance without a staged transfer fails
	err = env.exec(next, core.OpAcceptAuthority, struct{}{})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	env.mustExec(env.authority, core.OpTransferAuthority, core.TransferAuthorityPayload{
		NewAuthority: next.PubKey(),
	})

	// staging does not hand over power yet
	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	assert.Equal(t, env.authority.PubKey(), g.Authority)
	assert.Equal(t, next.PubKey(), g.PendingAuthority)

	// only the named successor may accept
	err = env.exec(env.user, core.OpAcceptAuthority, struct{}{})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	env.mustExec(next, core.OpAcceptAuthority, struct{}{})

	g, err = env.state.GetGlobal()
	require.NoError(t, err)
	assert.Equal(t, next.PubKey(), g.Authority)
	assert.Empty(t, g.PendingAuthority)

	// the old authority is powerless now
	err = env.exec(env.authority, core.OpSetPaused, core.SetPausedPayload{Paused: true})
	assert.ErrorIs(t, err, core.ErrUnauthorized)
}

func TestWithdrawRespectsFloor(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(1_000_000)
	env.fundTreasury(1_500_000)

	// leaves 900_000, below the 1_000_000 floor
	err := env.exec(env.authority, core.OpWithdrawTreasury, core.WithdrawTreasuryPayload{
		To:     env.user.PubKey(),
		Amount: 600_000,
	})
	assert.ErrorIs(t, err, core.ErrTreasuryInsufficient)

	env.mustExec(env.authority, core.OpWithdrawTreasury, core.WithdrawTreasuryPayload{
		To:     env.user.PubKey(),
		Amount: 500_000,
	})

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	balance, err := bank.Balance(env.state, g.Treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000), balance)
}

func TestPublishRootGuards(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	// non-authority cannot publish
	err := env.exec(env.user, core.OpPublishRoot, core.PublishRootPayload{
		BatchID: 1, MerkleRoot: core.Hash32{1}, SnapshotTime: testNow, TotalItems: 5,
	})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// zero root and zero size are rejected
	err = env.exec(env.authority, core.OpPublishRoot, core.PublishRootPayload{
		BatchID: 1, SnapshotTime: testNow, TotalItems: 5,
	})
	assert.ErrorIs(t, err, core.ErrInvalidBatchId)

	// timestamp too far in the future
	err = env.exec(env.authority, core.OpPublishRoot, core.PublishRootPayload{
		BatchID: 1, MerkleRoot: core.Hash32{1}, SnapshotTime: testNow + 120, TotalItems: 5,
	})
	assert.ErrorIs(t, err, core.ErrInvalidTimestamp)

	// re-publish is fine while nothing has been opened
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)
	env.publishBatch(1, core.Hash32{2}, 10, core.ClaimProof, nil)

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), g.CurrentBatch, "re-publish does not bump the batch counter")

	// once a box is opened the root freezes
	assetID := env.mintBox(1)
	env.openAndFulfill(assetID, 10, testRandomness())
	err = env.exec(env.authority, core.OpPublishRoot, core.PublishRootPayload{
		BatchID: 1, MerkleRoot: core.Hash32{3}, SnapshotTime: testNow, TotalItems: 10,
	})
	assert.ErrorIs(t, err, core.ErrInvalidBatchId)
}

func TestOpenBoxGuards(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)
	assetID := env.mintBox(1)

	// only the owner may open
	err := env.exec(env.authority, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 10})
	assert.ErrorIs(t, err, core.ErrUnauthorized)

	// pool size must fit the batch
	err = env.exec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 0})
	assert.ErrorIs(t, err, core.ErrInvalidPoolSize)
	err = env.exec(env.user, core.OpOpenBox, core.OpenBoxPayload{AssetID: assetID, PoolSize: 11})
	assert.ErrorIs(t, err, core.ErrInvalidPoolSize)

	// assigning before opening fails
	err = env.exec(env.user, core.OpAssign, core.AssignPayload{
		AssetID:         assetID,
		InventoryIDHash: core.Hash32{9},
	})
	assert.ErrorIs(t, err, core.ErrNotOpenedYet)
}

func TestReplayedOperationRejected(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	require.NoError(t, bank.Credit(env.state, env.user.PubKey(), 1_000))

	op, err := env.user.NewOp(core.OpDepositTreasury, core.DepositTreasuryPayload{Amount: 400})
	require.NoError(t, err)
	require.NoError(t, env.eng.Execute(op))

	balance, err := bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)
	require.Equal(t, uint64(600), balance)

	// the identical signed envelope must not apply a second time
	err = env.eng.Execute(op)
	assert.ErrorIs(t, err, core.ErrAlreadyExists)

	balance, err = bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(600), balance, "replayed deposit debits nothing")

	g, err := env.state.GetGlobal()
	require.NoError(t, err)
	treasury, err := bank.Balance(env.state, g.Treasury)
	require.NoError(t, err)
	assert.Equal(t, uint64(400), treasury, "treasury credited exactly once")

	r, err := env.state.GetOpReceipt(op.ID)
	require.NoError(t, err)
	assert.Equal(t, core.OpDepositTreasury, r.Type)

	// a fresh envelope for the same amount is a distinct operation and passes
	env.mustExec(env.user, core.OpDepositTreasury, core.DepositTreasuryPayload{Amount: 400})
	balance, err = bank.Balance(env.state, env.user.PubKey())
	require.NoError(t, err)
	assert.Equal(t, uint64(200), balance)
}

func TestFailedOperationLeavesNoReceipt(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)

	// insufficient funds: the deposit fails and its receipt is reverted
	op, err := env.user.NewOp(core.OpDepositTreasury, core.DepositTreasuryPayload{Amount: 500})
	require.NoError(t, err)
	err = env.eng.Execute(op)
	assert.ErrorIs(t, err, core.ErrInsufficientFunds)

	_, err = env.state.GetOpReceipt(op.ID)
	assert.ErrorIs(t, err, core.ErrNotFound)

	// once funded, the same envelope may be retried
	require.NoError(t, bank.Credit(env.state, env.user.PubKey(), 500))
	require.NoError(t, env.eng.Execute(op))
}

func TestEventsDeliveredOnlyAfterCommit(t *testing.T) {
	authority, err := wallet.Generate()
	require.NoError(t, err)
	oracle, err := wallet.Generate()
	require.NoError(t, err)
	user, err := wallet.Generate()
	require.NoError(t, err)

	db := testutil.NewMemDB()
	state := storage.NewStateDB(db)
	emitter := events.NewEmitter()
	idx := indexer.New(db, emitter)
	eng := engine.New(state, emitter, nil)
	eng.SetClock(func() int64 { return testNow })

	var minted []events.Event
	emitter.Subscribe(events.EventBoxMinted, func(ev events.Event) {
		minted = append(minted, ev)
	})

	run := func(w *wallet.Wallet, typ core.OpType, payload any) error {
		op, err := w.NewOp(typ, payload)
		require.NoError(t, err)
		return eng.Execute(op)
	}

	require.NoError(t, run(authority, core.OpInitVault, core.InitVaultPayload{
		Oracle:         oracle.PubKey(),
		SettlementMint: "USDC",
	}))
	require.NoError(t, run(authority, core.OpPublishRoot, core.PublishRootPayload{
		BatchID:      1,
		MerkleRoot:   core.Hash32{1},
		SnapshotTime: testNow - 10,
		TotalItems:   10,
		Mode:         core.ClaimProof,
	}))

	// rejected mint publishes no event and writes no index entry
	err = run(user, core.OpMintBox, core.MintBoxPayload{BatchID: 99, URI: "ipfs://x"})
	require.ErrorIs(t, err, core.ErrInvalidBatchId)
	assert.Empty(t, minted)
	boxes, err := idx.GetBoxesByOwner(user.PubKey())
	require.NoError(t, err)
	assert.Empty(t, boxes)

	op, err := user.NewOp(core.OpMintBox, core.MintBoxPayload{BatchID: 1, URI: "ipfs://x"})
	require.NoError(t, err)
	require.NoError(t, eng.Execute(op))

	require.Len(t, minted, 1)
	assert.Equal(t, op.ID, minted[0].OpID)

	assetID := crypto.Hash([]byte(op.ID + ":box"))
	boxes, err = idx.GetBoxesByOwner(user.PubKey())
	require.NoError(t, err)
	assert.Equal(t, []string{assetID}, boxes)
}

func TestRejectedOperationIsNotCommitted(t *testing.T) {
	env := newTestEnv(t)
	env.initVault(0)
	env.publishBatch(1, core.Hash32{1}, 10, core.ClaimProof, nil)

	rootBefore := env.state.ComputeRoot()

	err := env.exec(env.user, core.OpMintBox, core.MintBoxPayload{BatchID: 99, URI: "ipfs://x"})
	assert.ErrorIs(t, err, core.ErrInvalidBatchId)

	assert.Equal(t, rootBefore, env.state.ComputeRoot(), "ledger root unchanged after revert")
}
