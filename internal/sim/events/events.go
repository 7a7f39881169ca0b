// Package events is the in-process publish/subscribe bus for domain events.
package events

import (
	"fmt"
	"log/slog"
	"sync"
)

type Kind string

const (
	KindAll Kind = "*"

	CycleCompleted     Kind = "cycle-completed"
	TierPurchased      Kind = "tier-purchased"
	TierUnlocked       Kind = "tier-unlocked"
	DivisionUnlocked   Kind = "division-unlocked"
	ChiefHired         Kind = "chief-hired"
	BottleneckActive   Kind = "bottleneck-activated"
	BottleneckResolved Kind = "bottleneck-resolved"
	ResearchCompleted  Kind = "research-completed"
	PrestigeCompleted  Kind = "prestige-completed"

	ContractCompleted Kind = "contract-completed"
	SaveFailed        Kind = "save-failed"
	OfflineApplied    Kind = "offline-applied"
	StateChanged      Kind = "state-changed"
)

// Event carries the minimal identifying payload; unused fields stay zero.
type Event struct {
	Kind      Kind    `json:"kind"`
	Division  string  `json:"division,omitempty"`
	Tier      int     `json:"tier,omitempty"`
	Amount    float64 `json:"amount,omitempty"`
	ID        string  `json:"id,omitempty"`
	SimTimeMs int64   `json:"sim_time_ms"`
}

type Handler func(Event)

type Publisher interface {
	Publish(Event)
}

// Discard drops every event. Used for replays that must not reach listeners.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Event) {}

// Bus delivers events synchronously to subscribers in subscription order.
// A panicking handler is logged and skipped; the remaining handlers still run.
type Bus struct {
	log *slog.Logger

	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id   int
	kind Kind
	h    Handler
}

func NewBus(log *slog.Logger) *Bus {
	if log == nil {
		log = slog.Default()
	}
	return &Bus{log: log}
}

// Subscribe registers h for kind (or KindAll) and returns its unsubscribe func.
func (b *Bus) Subscribe(kind Kind, h Handler) (unsubscribe func()) {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscription{id: id, kind: kind, h: h})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (b *Bus) Publish(ev Event) {
	b.mu.RLock()
	targets := make([]subscription, 0, len(b.subs))
	for _, s := range b.subs {
		if s.kind == KindAll || s.kind == ev.Kind {
			targets = append(targets, s)
		}
	}
	b.mu.RUnlock()

	for _, s := range targets {
		b.deliver(s, ev)
	}
}

func (b *Bus) deliver(s subscription, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("event handler panicked", "kind", ev.Kind, "subscription", s.id, "panic", fmt.Sprint(r))
		}
	}()
	s.h(ev)
}

// Len reports the number of live subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
