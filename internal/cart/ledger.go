// Package cart keeps each buyer's staged items and notifies listeners on change.
package cart

import (
	"sync"

	"github.com/google/uuid"

	pkgerrors "github.com/angelmondragon/settlement-backend/pkg/errors"
)

// Key identifies a line: one product in one variant.
type Key struct {
	ProductID uuid.UUID `json:"product_id"`
	Size      string    `json:"size"`
	Color     string    `json:"color"`
}

// Entry is a staged line with the price seen when it was added. The snapshot
// is for display only.
type Entry struct {
	ProductID      uuid.UUID `json:"product_id"`
	Size           string    `json:"size"`
	Color          string    `json:"color"`
	Quantity       int       `json:"quantity"`
	UnitPriceCents int64     `json:"unit_price_cents"`
	Name           string    `json:"name"`
	Image          string    `json:"image"`
}

// Key returns the identity of the entry.
func (e Entry) Key() Key {
	return Key{ProductID: e.ProductID, Size: e.Size, Color: e.Color}
}

type ChangeKind string

const (
	ChangeAdded   ChangeKind = "added"
	ChangeUpdated ChangeKind = "updated"
	ChangeRemoved ChangeKind = "removed"
	ChangeCleared ChangeKind = "cleared"
)

// Change is delivered to subscribers after every effective mutation.
type Change struct {
	Kind    ChangeKind `json:"kind"`
	Key     Key        `json:"key"`
	Entries []Entry    `json:"entries"`
	Count   int        `json:"count"`
}

// Ledger is an ordered set of entries. It is safe for concurrent use; listeners
// run synchronously on the mutating goroutine after the lock is released.
type Ledger struct {
	mu          sync.Mutex
	entries     []Entry
	subscribers map[int]func(Change)
	nextSubID   int
}

// NewLedger starts a ledger from previously stored entries.
func NewLedger(entries []Entry) *Ledger {
	l := &Ledger{subscribers: map[int]func(Change){}}
	for _, e := range entries {
		if e.Quantity < 1 {
			continue
		}
		l.entries = append(l.entries, e)
	}
	return l
}

// Add stages qty units of item, merging with an entry of the same key.
func (l *Ledger) Add(item Entry, qty int) error {
	if qty <= 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1").
			WithDetails(map[string]any{"quantity": qty})
	}
	l.mu.Lock()
	kind := ChangeAdded
	if idx := l.indexOf(item.Key()); idx >= 0 {
		l.entries[idx].Quantity += qty
		kind = ChangeUpdated
	} else {
		item.Quantity = qty
		l.entries = append(l.entries, item)
	}
	change := l.changeLocked(kind, item.Key())
	subs := l.subscribersLocked()
	l.mu.Unlock()

	notify(subs, change)
	return nil
}

// UpdateQuantity sets the quantity of key. Anything below 1 removes the entry.
// Unknown keys are ignored.
func (l *Ledger) UpdateQuantity(key Key, qty int) {
	if qty < 1 {
		l.Remove(key)
		return
	}
	l.mu.Lock()
	idx := l.indexOf(key)
	if idx < 0 || l.entries[idx].Quantity == qty {
		l.mu.Unlock()
		return
	}
	l.entries[idx].Quantity = qty
	change := l.changeLocked(ChangeUpdated, key)
	subs := l.subscribersLocked()
	l.mu.Unlock()

	notify(subs, change)
}

// Remove drops key. Unknown keys are ignored.
func (l *Ledger) Remove(key Key) {
	l.mu.Lock()
	idx := l.indexOf(key)
	if idx < 0 {
		l.mu.Unlock()
		return
	}
	l.entries = append(l.entries[:idx], l.entries[idx+1:]...)
	change := l.changeLocked(ChangeRemoved, key)
	subs := l.subscribersLocked()
	l.mu.Unlock()

	notify(subs, change)
}

// Clear empties the ledger.
func (l *Ledger) Clear() {
	l.mu.Lock()
	if len(l.entries) == 0 {
		l.mu.Unlock()
		return
	}
	l.entries = nil
	change := l.changeLocked(ChangeCleared, Key{})
	subs := l.subscribersLocked()
	l.mu.Unlock()

	notify(subs, change)
}

// List returns a copy of the entries in insertion order.
func (l *Ledger) List() []Entry {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.copyLocked()
}

// Count is the total number of units staged.
func (l *Ledger) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.countLocked()
}

// Subscribe registers fn and returns a func that unregisters it.
func (l *Ledger) Subscribe(fn func(Change)) func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextSubID
	l.nextSubID++
	l.subscribers[id] = fn
	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		delete(l.subscribers, id)
	}
}

func (l *Ledger) indexOf(key Key) int {
	for i, e := range l.entries {
		if e.Key() == key {
			return i
		}
	}
	return -1
}

func (l *Ledger) copyLocked() []Entry {
	out := make([]Entry, len(l.entries))
	copy(out, l.entries)
	return out
}

func (l *Ledger) countLocked() int {
	total := 0
	for _, e := range l.entries {
		total += e.Quantity
	}
	return total
}

func (l *Ledger) changeLocked(kind ChangeKind, key Key) Change {
	return Change{Kind: kind, Key: key, Entries: l.copyLocked(), Count: l.countLocked()}
}

func (l *Ledger) subscribersLocked() []func(Change) {
	subs := make([]func(Change), 0, len(l.subscribers))
	for i := 0; i < l.nextSubID; i++ {
		if fn, ok := l.subscribers[i]; ok {
			subs = append(subs, fn)
		}
	}
	return subs
}

func notify(subs []func(Change), change Change) {
	for _, fn := range subs {
		fn(change)
	}
}
