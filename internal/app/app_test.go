package app

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/enterdb/enterdb/internal/config"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.NumLocalShards = 2
	return cfg
}

func TestNewWithLocalArchiverBackendWiresLocalStorage(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archiver.Enabled = true
	cfg.Archiver.Backend = "local"

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.archiver == nil {
		t.Fatal("expected archiver to be wired for an enabled local backend")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestNewWithoutArchiverLeavesItNil(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.archiver != nil {
		t.Fatal("expected no archiver when disabled")
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestStartThenStopDrainsBucketRotationAndArchiver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Archiver.Enabled = true
	cfg.Archiver.Backend = "local"
	cfg.Archiver.LocalPath = filepath.Join(cfg.DataDir, "archive")

	a, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
