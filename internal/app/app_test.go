package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hearthhq/hearth/internal/auth"
	"github.com/hearthhq/hearth/internal/config"
	"github.com/hearthhq/hearth/internal/domain"
	"github.com/hearthhq/hearth/internal/store"
)

const seedYAML = `homes:
  - id: home-a
    name: Mom's place
  - id: home-b
    name: Dad's place
    active: false
children:
  - id: child-1
    name: Nora
sources:
  - id: cal-1
    child_id: child-1
    name: Mom shared
    url: https://example.test/mom.ics
    is_primary: true
  - id: cal-2
    child_id: child-1
    name: Dad shared
`

func openStore(t *testing.T) *store.Store {
	t.Helper()
	st, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func writeSeed(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "household.yaml")
	if err := os.WriteFile(path, []byte(seedYAML), 0o600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func TestApplySeedIdempotent(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	path := writeSeed(t)

	for i := 0; i < 2; i++ {
		if err := ApplySeed(ctx, st, path); err != nil {
			t.Fatalf("apply %d: %v", i, err)
		}
	}

	homes, err := st.ListHomes(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(homes) != 2 {
		t.Fatalf("homes = %d, want 2", len(homes))
	}
	for _, h := range homes {
		if h.ID == "home-a" && !h.Active {
			t.Fatal("home-a should default to active")
		}
		if h.ID == "home-b" && h.Active {
			t.Fatal("home-b should honor active: false")
		}
	}

	sources, err := st.ListSources(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(sources) != 2 {
		t.Fatalf("sources = %d, want 2", len(sources))
	}
}

func TestApplySeedMissingFile(t *testing.T) {
	st := openStore(t)
	if err := ApplySeed(context.Background(), st, "/does/not/exist.yaml"); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistryResolverFeedURL(t *testing.T) {
	st := openStore(t)
	ctx := context.Background()
	if err := ApplySeed(ctx, st, writeSeed(t)); err != nil {
		t.Fatal(err)
	}
	r := newRegistryResolver(st, auth.Feeds{"cal-2": "https://example.test/dad.ics?token=s3cret"})

	url, err := r.FeedURL(ctx, "cal-1")
	if err != nil || url != "https://example.test/mom.ics" {
		t.Fatalf("cal-1: url=%q err=%v", url, err)
	}
	url, err = r.FeedURL(ctx, "cal-2")
	if err != nil || url != "https://example.test/dad.ics?token=s3cret" {
		t.Fatalf("cal-2: url=%q err=%v", url, err)
	}
	if _, err := r.FeedURL(ctx, "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("ghost: %v", err)
	}

	feeds, err := r.Feeds(ctx)
	if err != nil || len(feeds) != 2 {
		t.Fatalf("feeds=%v err=%v", feeds, err)
	}
}

func TestApplicationRunCancel(t *testing.T) {
	st := openStore(t)
	cfg := config.Config{BindAddress: "127.0.0.1:0", SeedFile: writeSeed(t), RequestTimeout: time.Second}
	a, err := New(cfg, st, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(100 * time.Millisecond)
		cancel()
	}()
	if err := a.Run(ctx); err != nil {
		t.Fatalf("run failed: %v", err)
	}
}

func TestApplicationRunBadSchedule(t *testing.T) {
	st := openStore(t)
	cfg := config.Config{BindAddress: "127.0.0.1:0", SyncSchedule: "not a schedule"}
	a, err := New(cfg, st, nil, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Run(ctx); err == nil {
		t.Fatal("expected schedule parse error")
	}
}

func TestNewLoadsFeedVault(t *testing.T) {
	st := openStore(t)
	vaultPath := filepath.Join(t.TempDir(), "feeds.vault")
	v := auth.Vault{Path: vaultPath}
	if err := v.Save(auth.Feeds{"cal-1": "https://example.test/a.ics"}, "pass"); err != nil {
		t.Fatalf("save vault: %v", err)
	}

	cfg := config.Config{FeedVaultPath: vaultPath, FeedVaultPass: "pass"}
	if _, err := New(cfg, st, nil, nil); err != nil {
		t.Fatalf("new with vault: %v", err)
	}

	cfg.FeedVaultPass = "wrong"
	if _, err := New(cfg, st, nil, nil); err == nil {
		t.Fatal("expected vault decrypt error")
	}
}
