package handle

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	llvmffi "github.com/wippyai/llvm-ffi"
	"github.com/wippyai/llvm-ffi/errors"
)

// Slot identifies a tracked handle in a Ledger.
// Slot 0 is reserved and means untracked.
type Slot uint32

// EventType is a handle lifecycle notification.
type EventType uint8

const (
	EventCreated EventType = iota
	EventReleased
	EventReleaseFailed
	EventAliased
	EventMisuse
)

func (t EventType) String() string {
	switch t {
	case EventCreated:
		return "created"
	case EventReleased:
		return "released"
	case EventReleaseFailed:
		return "release_failed"
	case EventAliased:
		return "aliased"
	case EventMisuse:
		return "misuse"
	default:
		return "unknown"
	}
}

// Event represents a handle lifecycle event.
type Event struct {
	Err  error
	Kind string
	Addr llvmffi.Addr
	Slot Slot
	Type EventType
}

// Observer receives notifications about handle lifecycle events.
type Observer interface {
	OnHandleEvent(Event)
}

// Ledger tracks live owning handles of one adapter. It never releases
// anything itself: Close reports what is still live.
type Ledger struct {
	entries   []entry
	freeList  []Slot
	observers []Observer
	mu        sync.RWMutex
	obsMu     sync.RWMutex
	closed    bool
}

type entry struct {
	kind  string
	addr  llvmffi.Addr
	valid bool
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		entries:  make([]entry, 0, 64),
		freeList: make([]Slot, 0, 16),
	}
}

func (l *Ledger) track(kind string, addr llvmffi.Addr) Slot {
	if l == nil {
		return 0
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return 0
	}
	e := entry{kind: kind, addr: addr, valid: true}
	var slot Slot
	if len(l.freeList) > 0 {
		slot = l.freeList[len(l.freeList)-1]
		l.freeList = l.freeList[:len(l.freeList)-1]
		l.entries[slot-1] = e
	} else {
		l.entries = append(l.entries, e)
		slot = Slot(len(l.entries))
	}
	l.mu.Unlock()

	l.notify(Event{Type: EventCreated, Kind: kind, Addr: addr, Slot: slot})
	return slot
}

func (l *Ledger) settle(slot Slot, typ EventType, kind string, addr llvmffi.Addr, err error) {
	if l == nil {
		return
	}

	l.mu.Lock()
	if slot != 0 && int(slot) <= len(l.entries) && l.entries[slot-1].valid {
		l.entries[slot-1] = entry{}
		l.freeList = append(l.freeList, slot)
	}
	l.mu.Unlock()

	l.notify(Event{Type: typ, Kind: kind, Addr: addr, Slot: slot, Err: err})
}

func (l *Ledger) report(typ EventType, kind string, addr llvmffi.Addr, err error) {
	if l == nil {
		return
	}
	l.notify(Event{Type: typ, Kind: kind, Addr: addr, Err: err})
}

// Subscribe adds an observer for lifecycle events.
func (l *Ledger) Subscribe(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	l.observers = append(l.observers, o)
}

// Unsubscribe removes an observer.
func (l *Ledger) Unsubscribe(o Observer) {
	l.obsMu.Lock()
	defer l.obsMu.Unlock()
	for i, obs := range l.observers {
		if obs == o {
			l.observers = append(l.observers[:i], l.observers[i+1:]...)
			return
		}
	}
}

// Live returns the number of tracked owning handles not yet released.
func (l *Ledger) Live() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries) - len(l.freeList)
}

// Each iterates over live handles in slot order until fn returns false.
func (l *Ledger) Each(fn func(slot Slot, kind string, addr llvmffi.Addr) bool) {
	l.mu.RLock()
	live := make([]entry, len(l.entries))
	copy(live, l.entries)
	l.mu.RUnlock()

	for i, e := range live {
		if !e.valid {
			continue
		}
		if !fn(Slot(i+1), e.kind, e.addr) {
			return
		}
	}
}

// Close stops tracking and returns a leak error naming every owning handle
// that was never released or aliased.
func (l *Ledger) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	var leaked []string
	for _, e := range l.entries {
		if e.valid {
			leaked = append(leaked, fmt.Sprintf("%s@0x%x", e.kind, uint64(e.addr)))
		}
	}
	l.entries = nil
	l.freeList = nil
	l.mu.Unlock()

	if len(leaked) == 0 {
		return nil
	}
	Logger().Warn("owning handles leaked", zap.Strings("handles", leaked))
	return errors.Leak(leaked)
}

func (l *Ledger) notify(e Event) {
	l.obsMu.RLock()
	defer l.obsMu.RUnlock()
	for _, o := range l.observers {
		o.OnHandleEvent(e)
	}
}
