package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValidAfterResolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected default config to validate, got %v", err)
	}
	if cfg.Catalog.Path != filepath.Join(cfg.DataDir, "catalog.db") {
		t.Fatalf("expected catalog path derived from data dir, got %q", cfg.Catalog.Path)
	}
}

func TestValidateRejectsMissingNodeID(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing node_id")
	}
}

func TestValidateRejectsNonPositiveShardCount(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NumLocalShards = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for non-positive num_of_local_shards")
	}
}

func TestValidateRejectsArchiverWithoutBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archiver.Enabled = true
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for archiver enabled without bucket")
	}
	cfg.Archiver.S3Bucket = "snapshots"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid once bucket is set, got %v", err)
	}
}

func TestValidateAllowsLocalArchiverBackendWithoutBucket(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archiver.Enabled = true
	cfg.Archiver.Backend = "local"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected local backend to validate without an S3 bucket, got %v", err)
	}
}

func TestValidateRejectsUnknownArchiverBackend(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archiver.Backend = "azure"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown archiver backend")
	}
}

func TestResolveDerivesLocalArchivePathFromDataDir(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Archiver.Backend = "local"
	cfg.Resolve()
	if cfg.Archiver.LocalPath != filepath.Join(cfg.DataDir, "archive") {
		t.Fatalf("expected local archive path derived from data dir, got %q", cfg.Archiver.LocalPath)
	}
}

func TestLoadFromFileYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.yaml")
	body := "node_id: node-7\ndata_center: dc2\nnum_of_local_shards: 8\n"
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.NodeID != "node-7" || cfg.DataCenter != "dc2" || cfg.NumLocalShards != 8 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	// unset fields still come from DefaultConfig
	if cfg.Ring.VirtualNodesPerNode != 64 {
		t.Fatalf("expected default ring config to survive, got %+v", cfg.Ring)
	}
}

func TestLoadFromFileJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.json")
	body := `{"node_id":"node-9","num_of_local_shards":2}`
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadFromFile(path)
	if err != nil {
		t.Fatalf("LoadFromFile: %v", err)
	}
	if cfg.NodeID != "node-9" || cfg.NumLocalShards != 2 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
}

func TestLoadFromFileRejectsUnknownExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "node.toml")
	if err := os.WriteFile(path, []byte("node_id = \"x\""), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Fatal("expected error for unsupported extension")
	}
}

func TestLoadFromEnvOverridesDefaults(t *testing.T) {
	t.Setenv("ENTERDB_NODE_ID", "node-env")
	t.Setenv("ENTERDB_NUM_LOCAL_SHARDS", "16")
	t.Setenv("ENTERDB_ARCHIVER_ENABLED", "true")
	t.Setenv("ENTERDB_ARCHIVER_S3_BUCKET", "env-bucket")
	t.Setenv("ENTERDB_ARCHIVER_INTERVAL", "5m")

	cfg := DefaultConfig()
	LoadFromEnv(cfg)

	if cfg.NodeID != "node-env" {
		t.Fatalf("expected node id from env, got %q", cfg.NodeID)
	}
	if cfg.NumLocalShards != 16 {
		t.Fatalf("expected shard count from env, got %d", cfg.NumLocalShards)
	}
	if !cfg.Archiver.Enabled || cfg.Archiver.S3Bucket != "env-bucket" {
		t.Fatalf("expected archiver config from env, got %+v", cfg.Archiver)
	}
	if cfg.Archiver.Interval != 5*time.Minute {
		t.Fatalf("expected 5m interval from env, got %v", cfg.Archiver.Interval)
	}
}

func TestLoadFromEnvIgnoresUnsetVars(t *testing.T) {
	cfg := DefaultConfig()
	before := *cfg
	LoadFromEnv(cfg)
	if *cfg != before {
		t.Fatalf("expected config unchanged with no env vars set, got %+v vs %+v", cfg, before)
	}
}

func TestEnsureDataDirCreatesDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "data")
	cfg := DefaultConfig()
	cfg.DataDir = dir
	if err := cfg.EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir: %v", err)
	}
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		t.Fatalf("expected directory to exist, err=%v", err)
	}
}
