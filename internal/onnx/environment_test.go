package onnx

import (
	"errors"
	"runtime"
	"strings"
	"testing"

	"github.com/triandco/nexttoken/internal/kvcache"
	"github.com/triandco/nexttoken/internal/model"
)

func TestResolveLibraryPath(t *testing.T) {
	t.Parallel()
	env := func(v string) func(string) string {
		return func(key string) string {
			if key == LibraryPathEnv {
				return v
			}
			return ""
		}
	}

	tests := []struct {
		name       string
		flag, conf string
		env        string
		want       string
	}{
		{"flag wins", "/flag/lib.so", "/conf/lib.so", "/env/lib.so", "/flag/lib.so"},
		{"config over env", "", "/conf/lib.so", "/env/lib.so", "/conf/lib.so"},
		{"env", "", "", "/env/lib.so", "/env/lib.so"},
		{"platform default", "", "", "", DefaultLibraryName(runtime.GOOS)},
	}
	for _, tc := range tests {
		if got := ResolveLibraryPath(tc.flag, tc.conf, env(tc.env)); got != tc.want {
			t.Errorf("%s: got %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestDefaultLibraryName(t *testing.T) {
	t.Parallel()
	for goos, want := range map[string]string{
		"windows": "onnxruntime.dll",
		"darwin":  "libonnxruntime.dylib",
		"linux":   "libonnxruntime.so",
	} {
		if got := DefaultLibraryName(goos); got != want {
			t.Errorf("DefaultLibraryName(%q) = %q, want %q", goos, got, want)
		}
	}
}

func TestCheckFeed(t *testing.T) {
	t.Parallel()
	cfg := model.Default()
	cache, err := kvcache.New(cfg, 1)
	if err != nil {
		t.Fatal(err)
	}
	good := Feed{
		InputIDs:      []int64{1, 22172, 3186},
		AttentionMask: []int64{1, 1, 1},
		PositionIDs:   []int64{0, 1, 2},
		Cache:         cache,
	}
	if err := CheckFeed(cfg, good); err != nil {
		t.Fatalf("CheckFeed: %v", err)
	}

	short := good
	short.AttentionMask = []int64{1, 1}
	if err := CheckFeed(cfg, short); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected mask length error, got %v", err)
	}

	noPos := good
	noPos.PositionIDs = nil
	if err := CheckFeed(cfg, noPos); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected position length error, got %v", err)
	}
	cfg.Inputs.PositionIDs = ""
	if err := CheckFeed(cfg, noPos); err != nil {
		t.Fatalf("position ids should be optional without the input: %v", err)
	}

	if err := CheckFeed(cfg, Feed{}); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected empty input error, got %v", err)
	}
	noCache := good
	noCache.Cache = nil
	if err := CheckFeed(cfg, noCache); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected missing cache error, got %v", err)
	}
}

func TestRuntimeError(t *testing.T) {
	t.Parallel()
	boom := errors.New("boom")
	if err := runtimeError(boom); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if err := runtimeError("panic text"); !strings.Contains(err.Error(), "panic text") {
		t.Fatalf("unexpected message: %v", err)
	}
}
