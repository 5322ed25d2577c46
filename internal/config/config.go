// Package config provides unified configuration for the enterdb node.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the configuration for a single enterdb node.
type Config struct {
	// NodeID uniquely identifies this node within the ring.
	NodeID string `json:"node_id" yaml:"node_id"`

	// DataCenter is the datacenter this node belongs to.
	DataCenter string `json:"data_center" yaml:"data_center"`

	// DataDir is the base directory for all local data files.
	DataDir string `json:"data_dir" yaml:"data_dir"`

	// NumLocalShards is the default number of shards this node opens per table.
	NumLocalShards int `json:"num_of_local_shards" yaml:"num_of_local_shards"`

	// Ring configures the consistent-hashing placement ring.
	Ring RingConfig `json:"ring" yaml:"ring"`

	// Catalog configures the on-disk catalog store.
	Catalog CatalogConfig `json:"catalog" yaml:"catalog"`

	// Archiver configures periodic catalog/bucket snapshotting to object storage.
	Archiver ArchiverConfig `json:"archiver" yaml:"archiver"`

	// Wrapper configures the background bucket-rotation sweep for wrapped shards.
	Wrapper WrapperConfig `json:"wrapper" yaml:"wrapper"`
}

// RingConfig holds placement-ring configuration.
type RingConfig struct {
	// VirtualNodesPerNode is the number of virtual nodes minted per physical node.
	VirtualNodesPerNode int `json:"virtual_nodes_per_node" yaml:"virtual_nodes_per_node"`

	// DefaultReplicationFactor is used for tables that don't specify one.
	DefaultReplicationFactor int `json:"default_replication_factor" yaml:"default_replication_factor"`
}

// CatalogConfig holds catalog store configuration.
type CatalogConfig struct {
	// Path is the catalog database file path.
	Path string `json:"path" yaml:"path"`
}

// ArchiverConfig holds archiver configuration.
type ArchiverConfig struct {
	// Enabled controls whether the background archiver runs.
	Enabled bool `json:"enabled" yaml:"enabled"`

	// Backend selects the object storage the archiver uploads to: "s3" (the
	// default) or "local", a plain-filesystem store meant for single-node
	// deployments and development that have no S3 bucket to point at.
	Backend string `json:"backend" yaml:"backend"`

	// S3Bucket is the destination bucket for archived snapshots, required
	// when Backend is "s3".
	S3Bucket string `json:"s3_bucket" yaml:"s3_bucket"`

	// S3Prefix is the key prefix under which snapshots are archived.
	S3Prefix string `json:"s3_prefix" yaml:"s3_prefix"`

	// Region is the AWS region of S3Bucket.
	Region string `json:"region" yaml:"region"`

	// LocalPath is the base directory archived snapshots are written under
	// when Backend is "local". Defaults to DataDir/archive when unset.
	LocalPath string `json:"local_path" yaml:"local_path"`

	// Interval is the period between catalog snapshots.
	Interval time.Duration `json:"interval" yaml:"interval"`
}

// WrapperConfig holds bucket-rotation sweep configuration.
type WrapperConfig struct {
	// RotationInterval is the period between rotation-candidate sweeps over
	// every wrapped shard on this node.
	RotationInterval time.Duration `json:"rotation_interval" yaml:"rotation_interval"`
}

// DefaultConfig returns sane defaults for a single-node local deployment.
func DefaultConfig() *Config {
	return &Config{
		NodeID:         "node-1",
		DataCenter:     "dc1",
		DataDir:        "./data/enterdb",
		NumLocalShards: 4,
		Ring: RingConfig{
			VirtualNodesPerNode:      64,
			DefaultReplicationFactor: 1,
		},
		Catalog: CatalogConfig{
			Path: "",
		},
		Archiver: ArchiverConfig{
			Enabled:  false,
			Backend:  "s3",
			S3Prefix: "enterdb",
			Interval: 15 * time.Minute,
		},
		Wrapper: WrapperConfig{
			RotationInterval: 5 * time.Minute,
		},
	}
}

// Resolve derives unset paths from DataDir and fills in defaults that
// depend on other fields having already been loaded.
func (c *Config) Resolve() {
	if c.DataDir == "" {
		c.DataDir = "./data/enterdb"
	}
	if c.Catalog.Path == "" {
		c.Catalog.Path = filepath.Join(c.DataDir, "catalog.db")
	}
	if c.Archiver.Backend == "" {
		c.Archiver.Backend = "s3"
	}
	if c.Archiver.Backend == "local" && c.Archiver.LocalPath == "" {
		c.Archiver.LocalPath = filepath.Join(c.DataDir, "archive")
	}
	if c.Archiver.Interval <= 0 {
		c.Archiver.Interval = 15 * time.Minute
	}
	if c.Wrapper.RotationInterval <= 0 {
		c.Wrapper.RotationInterval = 5 * time.Minute
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.NodeID == "" {
		return fmt.Errorf("node_id is required")
	}
	if c.NumLocalShards <= 0 {
		return fmt.Errorf("num_of_local_shards must be positive, got %d", c.NumLocalShards)
	}
	switch c.Archiver.Backend {
	case "", "s3", "local":
	default:
		return fmt.Errorf("archiver.backend must be \"s3\" or \"local\", got %q", c.Archiver.Backend)
	}
	if c.Archiver.Enabled && c.Archiver.Backend != "local" && c.Archiver.S3Bucket == "" {
		return fmt.Errorf("archiver.s3_bucket is required when archiver is enabled with the s3 backend")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML or JSON file, layered on
// top of DefaultConfig.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()

	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse JSON config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config file format: %s", ext)
	}

	return cfg, nil
}

// LoadFromEnv overlays cfg with any ENTERDB_-prefixed environment variables
// that are set. It first loads a .env file from the working directory, if
// present, so a node can be configured the same way in development without
// exporting variables into the shell; a missing .env is not an error.
func LoadFromEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("ENTERDB_NODE_ID"); v != "" {
		cfg.NodeID = v
	}
	if v := os.Getenv("ENTERDB_DATA_CENTER"); v != "" {
		cfg.DataCenter = v
	}
	if v := os.Getenv("ENTERDB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("ENTERDB_NUM_LOCAL_SHARDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.NumLocalShards = n
		}
	}

	if v := os.Getenv("ENTERDB_RING_VIRTUAL_NODES_PER_NODE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ring.VirtualNodesPerNode = n
		}
	}
	if v := os.Getenv("ENTERDB_RING_DEFAULT_REPLICATION_FACTOR"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Ring.DefaultReplicationFactor = n
		}
	}

	if v := os.Getenv("ENTERDB_CATALOG_PATH"); v != "" {
		cfg.Catalog.Path = v
	}

	if v := os.Getenv("ENTERDB_ARCHIVER_ENABLED"); v != "" {
		cfg.Archiver.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_BACKEND"); v != "" {
		cfg.Archiver.Backend = v
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_LOCAL_PATH"); v != "" {
		cfg.Archiver.LocalPath = v
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_S3_BUCKET"); v != "" {
		cfg.Archiver.S3Bucket = v
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_S3_PREFIX"); v != "" {
		cfg.Archiver.S3Prefix = v
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_REGION"); v != "" {
		cfg.Archiver.Region = v
	}
	if v := os.Getenv("ENTERDB_ARCHIVER_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Archiver.Interval = d
		}
	}

	if v := os.Getenv("ENTERDB_WRAPPER_ROTATION_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Wrapper.RotationInterval = d
		}
	}
}

// EnsureDataDir creates the base data directory if it does not exist.
func (c *Config) EnsureDataDir() error {
	if c.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(c.DataDir, 0755); err != nil {
		return fmt.Errorf("failed to create data directory %s: %w", c.DataDir, err)
	}
	return nil
}
