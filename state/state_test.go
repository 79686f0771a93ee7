package state

import (
	"context"
	"errors"
	"path/filepath"
	"regexp"
	"sync"
	"testing"
	"time"
)

type storeFactory struct {
	name string
	open func(t *testing.T) Store
}

func stores() []storeFactory {
	return []storeFactory{
		{"file", func(t *testing.T) Store {
			return NewFileStore(filepath.Join(t.TempDir(), "state", "state.json"))
		}},
		{"sqlite", func(t *testing.T) Store {
			s, err := OpenSQLite(filepath.Join(t.TempDir(), "state.db"))
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
		{"sqlite-memory", func(t *testing.T) Store {
			s, err := OpenSQLite(":memory:")
			if err != nil {
				t.Fatalf("open sqlite: %v", err)
			}
			t.Cleanup(func() { s.Close() })
			return s
		}},
	}
}

func TestManagerLifecycle(t *testing.T) {
	for _, sf := range stores() {
		t.Run(sf.name, func(t *testing.T) {
			ctx := context.Background()
			m := NewManager(sf.open(t))
			m.now = func() time.Time { return time.Unix(1700000000, 0) }

			if _, err := m.Load(ctx); !errors.Is(err, ErrNoKey) {
				t.Fatalf("expected ErrNoKey before activation, got %v", err)
			}
			if err := m.TouchQuery(ctx, time.Now()); !errors.Is(err, ErrNoKey) {
				t.Fatalf("expected ErrNoKey touching inactive state, got %v", err)
			}

			st, err := m.Activate(ctx)
			if err != nil {
				t.Fatalf("activate: %v", err)
			}
			if st.LastQuery != 0 || st.LastCron != 1700000000 {
				t.Fatalf("unexpected activated state: %+v", st)
			}
			if !m.Verify(ctx, st.Key) {
				t.Fatal("stored key must verify")
			}

			if err := m.TouchQuery(ctx, time.Unix(1700000500, 0)); err != nil {
				t.Fatalf("touch query: %v", err)
			}
			if err := m.TouchCron(ctx, time.Unix(1700003600, 0)); err != nil {
				t.Fatalf("touch cron: %v", err)
			}
			got, err := m.Load(ctx)
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if got.Key != st.Key || got.LastQuery != 1700000500 || got.LastCron != 1700003600 {
				t.Fatalf("unexpected state after touches: %+v", got)
			}

			again, err := m.Activate(ctx)
			if err != nil {
				t.Fatalf("reactivate: %v", err)
			}
			if again.Key == st.Key || m.Verify(ctx, st.Key) {
				t.Fatal("reactivation must rotate the key")
			}

			if err := m.Deactivate(ctx); err != nil {
				t.Fatalf("deactivate: %v", err)
			}
			if _, err := m.Load(ctx); !errors.Is(err, ErrNoKey) {
				t.Fatalf("expected ErrNoKey after deactivation, got %v", err)
			}
			if m.Verify(ctx, again.Key) {
				t.Fatal("no key must verify after deactivation")
			}
			if err := m.Deactivate(ctx); err != nil {
				t.Fatalf("second deactivate should be a no-op: %v", err)
			}
		})
	}
}

func TestVerifyRejects(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewFileStore(filepath.Join(t.TempDir(), "s.json")))
	st, err := m.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	cases := map[string]string{
		"empty":        "",
		"short":        st.Key[:31],
		"long":         st.Key + "x",
		"wrong":        "abcdefghijklmnopqrstuvwxyzABCDEF",
		"padded":       " " + st.Key[1:],
		"html wrapped": "<" + st.Key[1:],
	}
	for name, candidate := range cases {
		if m.Verify(ctx, candidate) {
			t.Fatalf("%s candidate %q must not verify", name, candidate)
		}
	}
}

func TestNormalizeCandidate(t *testing.T) {
	cases := map[string]string{
		"abcXYZ019.:": "abcXYZ019.:",
		"a b":         "a_b",
		"<x>":         "_lt_x_gt_",
		"key&more":    "key_amp_more",
		"é":           "_",
	}
	for in, want := range cases {
		if got := NormalizeCandidate(in); got != want {
			t.Fatalf("NormalizeCandidate(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestGenerateKey(t *testing.T) {
	pattern := regexp.MustCompile(`^[0-9a-zA-Z]{32}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		k, err := GenerateKey()
		if err != nil {
			t.Fatalf("generate: %v", err)
		}
		if !pattern.MatchString(k) {
			t.Fatalf("malformed key %q", k)
		}
		if seen[k] {
			t.Fatalf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestConcurrentTouches(t *testing.T) {
	ctx := context.Background()
	m := NewManager(NewFileStore(filepath.Join(t.TempDir(), "s.json")))
	st, err := m.Activate(ctx)
	if err != nil {
		t.Fatalf("activate: %v", err)
	}

	var wg sync.WaitGroup
	for i := 1; i <= 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := m.TouchQuery(ctx, time.Unix(int64(i), 0)); err != nil {
				t.Errorf("touch: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := m.Load(ctx)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got.Key != st.Key || got.LastQuery < 1 || got.LastQuery > 10 {
		t.Fatalf("unexpected state after concurrent touches: %+v", got)
	}
}

func TestOpenStore(t *testing.T) {
	if _, err := OpenStore("file", filepath.Join(t.TempDir(), "s.json")); err != nil {
		t.Fatalf("file store: %v", err)
	}
	s, err := OpenStore("sqlite", filepath.Join(t.TempDir(), "s.db"))
	if err != nil {
		t.Fatalf("sqlite store: %v", err)
	}
	s.Close()
	if _, err := OpenStore("redis", "x"); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
