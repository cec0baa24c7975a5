// Package kvcache describes the past key/value inputs of a decoder graph
// for a prompt that has no prior context.
package kvcache

import (
	"errors"
	"fmt"

	"github.com/triandco/nexttoken/internal/model"
)

// Kind distinguishes the key and value halves of a layer's cache.
type Kind uint8

const (
	Key Kind = iota
	Value
)

func (k Kind) String() string {
	switch k {
	case Key:
		return "key"
	case Value:
		return "value"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Slot is one past key or value input. Shape is
// (batch, kv heads, past sequence length, head dim).
type Slot struct {
	Name  string
	Layer int
	Kind  Kind
	Shape [4]int64
	DType model.DType
}

// Elements returns the number of values the slot holds.
func (s Slot) Elements() int64 {
	return s.Shape[0] * s.Shape[1] * s.Shape[2] * s.Shape[3]
}

// Cache is the ordered set of past key/value slots for one forward pass.
type Cache struct {
	slots  []Slot
	seqLen int
}

// New builds an empty cache for cfg: two slots per layer, key before
// value, each with a zero-length sequence axis.
func New(cfg model.Config, batch int) (*Cache, error) {
	if batch < 1 {
		return nil, fmt.Errorf("kvcache: batch must be positive, got %d", batch)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slots := make([]Slot, 0, 2*cfg.NumLayers)
	for layer := range cfg.NumLayers {
		shape := [4]int64{int64(batch), int64(cfg.NumKVHeads), 0, int64(cfg.HeadDim)}
		slots = append(slots,
			Slot{Name: cfg.PastKeyName(layer), Layer: layer, Kind: Key, Shape: shape, DType: cfg.CacheType},
			Slot{Name: cfg.PastValueName(layer), Layer: layer, Kind: Value, Shape: shape, DType: cfg.CacheType},
		)
	}
	return &Cache{slots: slots}, nil
}

// Slots returns the slots in feed order. The slice must not be modified.
func (c *Cache) Slots() []Slot { return c.slots }

func (c *Cache) Len() int    { return len(c.slots) }
func (c *Cache) SeqLen() int { return c.seqLen }

// Names returns the slot names in feed order.
func (c *Cache) Names() []string {
	out := make([]string, len(c.slots))
	for i, s := range c.slots {
		out[i] = s.Name
	}
	return out
}

var ErrSlotMismatch = errors.New("kvcache: slot mismatch")

// Check verifies that every slot name is unique and that the cache holds
// exactly want slots.
func (c *Cache) Check(want int) error {
	if len(c.slots) != want {
		return fmt.Errorf("%w: have %d slots, want %d", ErrSlotMismatch, len(c.slots), want)
	}
	seen := make(map[string]struct{}, len(c.slots))
	for _, s := range c.slots {
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("%w: duplicate name %q", ErrSlotMismatch, s.Name)
		}
		seen[s.Name] = struct{}{}
	}
	return nil
}
