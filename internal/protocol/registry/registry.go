// Package registry routes decoded frames to the listeners waiting on them.
package registry

import (
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/mutectl/internal/protocol/frame"
)

var ErrUnroutableMessage = errors.New("registry: frame has neither nonce nor evt")

// Kind tags which identifier space a listener key lives in.
type Kind uint8

const (
	KindNonce Kind = iota + 1
	KindEvent
	KindOpcode
)

func (k Kind) String() string {
	switch k {
	case KindNonce:
		return "nonce"
	case KindEvent:
		return "evt"
	case KindOpcode:
		return "opcode"
	default:
		return "unknown"
	}
}

// Identifier is the delivery key for a listener. It is comparable.
type Identifier struct {
	Kind  Kind
	Value string
}

func Nonce(v string) Identifier { return Identifier{Kind: KindNonce, Value: v} }

func EventName(v string) Identifier { return Identifier{Kind: KindEvent, Value: v} }

func OpcodeName(op frame.Opcode) Identifier {
	return Identifier{Kind: KindOpcode, Value: op.String()}
}

func (id Identifier) String() string {
	return id.Kind.String() + ":" + id.Value
}

// KeyFor derives the delivery key of f.
func KeyFor(f frame.Frame) (Identifier, error) {
	if f.Opcode != frame.OpFrame {
		return OpcodeName(f.Opcode), nil
	}
	msg, err := f.Message()
	if err != nil {
		return Identifier{}, err
	}
	switch {
	case msg.Nonce != "":
		return Nonce(msg.Nonce), nil
	case msg.Evt != "":
		return EventName(msg.Evt), nil
	default:
		return Identifier{}, fmt.Errorf("%w: %s", ErrUnroutableMessage, f)
	}
}

type Listener func(frame.Frame)

type ListenerID uint64

type entry struct {
	id       ListenerID
	key      Identifier
	once     bool
	listener Listener
}

// Registry holds listeners in registration order.
type Registry struct {
	mu      sync.Mutex
	entries []entry
	nextID  ListenerID
}

func New() *Registry {
	return &Registry{}
}

// Register appends a listener for key. Once listeners are dropped the first
// time they match.
func (r *Registry) Register(key Identifier, once bool, fn Listener) ListenerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	r.entries = append(r.entries, entry{id: r.nextID, key: key, once: once, listener: fn})
	return r.nextID
}

// Unregister removes the listener registered under key with id.
func (r *Registry) Unregister(key Identifier, id ListenerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, e := range r.entries {
		if e.id == id && e.key == key {
			r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
			return
		}
	}
}

// Dispatch invokes every listener matching f's key. Matching once listeners
// are removed before any callback runs, and callbacks run without the lock
// held so they may register or unregister.
func (r *Registry) Dispatch(f frame.Frame) error {
	key, err := KeyFor(f)
	if err != nil {
		return err
	}

	r.mu.Lock()
	var matched []Listener
	kept := r.entries[:0:0]
	for _, e := range r.entries {
		if e.key != key {
			kept = append(kept, e)
			continue
		}
		matched = append(matched, e.listener)
		if !e.once {
			kept = append(kept, e)
		}
	}
	r.entries = kept
	r.mu.Unlock()

	for _, fn := range matched {
		fn(f)
	}
	return nil
}

// Len returns the number of registered listeners.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Count returns the number of listeners registered under key.
func (r *Registry) Count(key Identifier) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.entries {
		if e.key == key {
			n++
		}
	}
	return n
}
