// Package indexer maintains secondary indexes over committed operations so
// clients can query boxes by owner and buyback history by seller without
// scanning full state.
package indexer

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/boxvault/boxvault/core"
	"github.com/boxvault/boxvault/events"
	"github.com/boxvault/boxvault/storage"
)

const (
	prefixOwnerBoxes   = "idx:owner:box:"
	prefixUserBuybacks = "idx:user:buyback:"
)

// BuybackRecord is one settled buyback as seen by the index.
type BuybackRecord struct {
	OpID    string `json:"op_id"`
	AssetID string `json:"asset_id"`
	Price   uint64 `json:"price"`
	Payout  uint64 `json:"payout"`
}

// Indexer subscribes to vault events and updates secondary lookup tables.
type Indexer struct {
	db      storage.DB
	emitter *events.Emitter
}

// New creates an Indexer backed by db and subscribes to relevant events.
func New(db storage.DB, emitter *events.Emitter) *Indexer {
	idx := &Indexer{db: db, emitter: emitter}
	emitter.Subscribe(events.EventBoxMinted, idx.onBoxMinted)
	emitter.Subscribe(events.EventBuybackExecuted, idx.onBuybackExecuted)
	return idx
}

// GetBoxesByOwner returns all box asset IDs minted to the given pubkey.
func (idx *Indexer) GetBoxesByOwner(owner string) ([]string, error) {
	data, err := idx.db.Get([]byte(prefixOwnerBoxes + owner))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil // empty list
		}
		return nil, err
	}
	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return ids, nil
}

// GetBuybacksByUser returns the buyback history for the given pubkey.
func (idx *Indexer) GetBuybacksByUser(user string) ([]BuybackRecord, error) {
	data, err := idx.db.Get([]byte(prefixUserBuybacks + user))
	if err != nil {
		if errors.Is(err, core.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	var recs []BuybackRecord
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, fmt.Errorf("indexer unmarshal: %w", err)
	}
	return recs, nil
}

// ---- event handlers ----

func (idx *Indexer) onBoxMinted(ev events.Event) {
	owner, _ := ev.Data["owner"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if owner == "" || assetID == "" {
		return
	}
	ids, err := idx.GetBoxesByOwner(owner)
	if err != nil {
		return
	}
	ids = append(ids, assetID)
	data, err := json.Marshal(ids)
	if err != nil {
		return
	}
	_ = idx.db.Set([]byte(prefixOwnerBoxes+owner), data)
}

func (idx *Indexer) onBuybackExecuted(ev events.Event) {
	seller, _ := ev.Data["seller"].(string)
	assetID, _ := ev.Data["asset_id"].(string)
	if seller == "" || assetID == "" {
		return
	}
	rec := BuybackRecord{
		OpID:    ev.OpID,
		AssetID: assetID,
	}
	// Emitted as uint64; arrives as-is from in-process events.
	if v, ok := ev.Data["price"].(uint64); ok {
		rec.Price = v
	}
	if v, ok := ev.Data["payout"].(uint64); ok {
		rec.Payout = v
	}

	recs, err := idx.GetBuybacksByUser(seller)
	if err != nil {
		return
	}
	recs = append(recs, rec)
	data, err := json.Marshal(recs)
	if err != nil {
		return
	}
	_ = idx.db.Set([]byte(prefixUserBuybacks+seller), data)
}
