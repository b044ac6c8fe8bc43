// Package events is a synchronous pub/sub broker for vault lifecycle events.
package events

import (
	"sync"

	"github.com/echa/log"
)

// EventType labels what happened.
type EventType string

const (
	EventVaultInitialized  EventType = "vault_initialized"
	EventRootPublished     EventType = "root_published"
	EventBoxMinted         EventType = "box_minted"
	EventOpenRequested     EventType = "open_requested"
	EventBoxOpened         EventType = "box_opened"
	EventInventoryAssigned EventType = "inventory_assigned"
	EventPriceUpdated      EventType = "price_updated"
	EventBuybackExecuted   EventType = "buyback_executed"
	EventTreasuryDeposit   EventType = "treasury_deposit"
	EventTreasuryWithdraw  EventType = "treasury_withdraw"
	EventBuybackToggled    EventType = "buyback_toggled"
	EventPauseToggled      EventType = "pause_toggled"
	EventAuthorityChanged  EventType = "authority_changed"
)

// Event carries a typed payload emitted after a committed state change.
type Event struct {
	Type EventType      `json:"type"`
	OpID string         `json:"op_id"`
	Data map[string]any `json:"data"`
}

// Handler is a callback invoked for matching events.
type Handler func(Event)

// Emitter is a simple pub/sub broker. Subscribe before Emit.
type Emitter struct {
	mu       sync.RWMutex
	handlers map[EventType][]Handler
}

// NewEmitter creates an Emitter with no subscribers.
func NewEmitter() *Emitter {
	return &Emitter{handlers: make(map[EventType][]Handler)}
}

// Subscribe registers h to be called whenever typ is emitted.
func (e *Emitter) Subscribe(typ EventType, h Handler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handlers[typ] = append(e.handlers[typ], h)
}

// Emit delivers ev to all subscribers for ev.Type synchronously. Each
// handler is guarded by panic recovery so a misbehaving subscriber cannot
// crash the service.
func (e *Emitter) Emit(ev Event) {
	e.mu.RLock()
	handlers := e.handlers[ev.Type]
	e.mu.RUnlock()
	for _, h := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Errorf("events: handler panicked for %s: %v", ev.Type, r)
				}
			}()
			h(ev)
		}()
	}
}
