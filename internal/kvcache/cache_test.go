package kvcache

import (
	"errors"
	"testing"

	"github.com/triandco/nexttoken/internal/model"
)

func TestNewPhi3(t *testing.T) {
	t.Parallel()
	c, err := New(model.Default(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 64 {
		t.Fatalf("expected 64 slots, got %d", c.Len())
	}
	if c.SeqLen() != 0 {
		t.Fatalf("expected empty sequence, got %d", c.SeqLen())
	}
	if err := c.Check(64); err != nil {
		t.Fatal(err)
	}
	want := [4]int64{1, 32, 0, 96}
	for i, s := range c.Slots() {
		if s.Shape != want {
			t.Fatalf("slot %d (%s): expected shape %v, got %v", i, s.Name, want, s.Shape)
		}
		if s.Elements() != 0 {
			t.Fatalf("slot %d: expected no elements, got %d", i, s.Elements())
		}
		if s.DType != model.Float16 {
			t.Fatalf("slot %d: expected float16, got %s", i, s.DType)
		}
	}
}

func TestSlotOrder(t *testing.T) {
	t.Parallel()
	c, err := New(model.Default(), 1)
	if err != nil {
		t.Fatal(err)
	}
	slots := c.Slots()

	tests := []struct {
		idx   int
		name  string
		layer int
		kind  Kind
	}{
		{0, "past_key_values.0.key", 0, Key},
		{1, "past_key_values.0.value", 0, Value},
		{2, "past_key_values.1.key", 1, Key},
		{63, "past_key_values.31.value", 31, Value},
	}
	for _, tc := range tests {
		s := slots[tc.idx]
		if s.Name != tc.name || s.Layer != tc.layer || s.Kind != tc.kind {
			t.Errorf("slot %d: expected %s/%d/%s, got %s/%d/%s", tc.idx, tc.name, tc.layer, tc.kind, s.Name, s.Layer, s.Kind)
		}
	}
	if names := c.Names(); names[5] != slots[5].Name {
		t.Fatalf("Names out of order: %q vs %q", names[5], slots[5].Name)
	}
}

func TestNewCustomConfig(t *testing.T) {
	t.Parallel()
	cfg := model.Default()
	cfg.NumLayers = 2
	cfg.NumKVHeads = 8
	cfg.HeadDim = 64
	cfg.CacheType = model.Float32

	c, err := New(cfg, 2)
	if err != nil {
		t.Fatal(err)
	}
	if c.Len() != 4 {
		t.Fatalf("expected 4 slots, got %d", c.Len())
	}
	if got := c.Slots()[3].Shape; got != [4]int64{2, 8, 0, 64} {
		t.Fatalf("unexpected shape %v", got)
	}
	if err := c.Check(64); !errors.Is(err, ErrSlotMismatch) {
		t.Fatalf("expected ErrSlotMismatch, got %v", err)
	}
}

func TestNewRejectsInvalid(t *testing.T) {
	t.Parallel()
	if _, err := New(model.Default(), 0); err == nil {
		t.Fatal("expected error for zero batch")
	}
	cfg := model.Default()
	cfg.HeadDim = 0
	if _, err := New(cfg, 1); !errors.Is(err, model.ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestCheckDuplicates(t *testing.T) {
	t.Parallel()
	c := &Cache{slots: []Slot{{Name: "a"}, {Name: "a"}}}
	if err := c.Check(2); !errors.Is(err, ErrSlotMismatch) {
		t.Fatalf("expected duplicate error, got %v", err)
	}
}

func TestKindString(t *testing.T) {
	t.Parallel()
	if Key.String() != "key" || Value.String() != "value" || Kind(9).String() != "kind(9)" {
		t.Fatal("unexpected Kind strings")
	}
}
