// Package config handles loading and parsing of artcurate configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration for artcurate.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Metadata MetadataConfig `yaml:"metadata"`
	Storage  StorageConfig  `yaml:"storage"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Server   ServerConfig   `yaml:"server"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// LoggingConfig holds log output settings.
type LoggingConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level"`
	// Format is "text" or "json".
	Format string `yaml:"format"`
}

// MetadataConfig holds metadata store settings.
type MetadataConfig struct {
	// Engine is the metadata backend engine: "sqlite", "memory", "local",
	// "mongo", "dynamodb", "firestore" or "cosmos".
	Engine    string          `yaml:"engine"`
	SQLite    SQLiteConfig    `yaml:"sqlite"`
	Local     LocalMetaConfig `yaml:"local"`
	Mongo     MongoConfig     `yaml:"mongo"`
	DynamoDB  DynamoDBConfig  `yaml:"dynamodb"`
	Firestore FirestoreConfig `yaml:"firestore"`
	Cosmos    CosmosConfig    `yaml:"cosmos"`
}

// SQLiteConfig holds SQLite database settings.
type SQLiteConfig struct {
	// Path is the filesystem path for the SQLite database file.
	Path string `yaml:"path"`
}

// LocalMetaConfig holds settings for the JSONL-journal metadata engine.
type LocalMetaConfig struct {
	// RootDir is the directory holding artworks.jsonl.
	RootDir string `yaml:"root_dir"`
	// CompactOnStartup rewrites the journal with only live records on open.
	CompactOnStartup bool `yaml:"compact_on_startup"`
}

// MongoConfig holds MongoDB connection settings. It is shared by the mongo
// metadata engine and the gridfs storage backend.
type MongoConfig struct {
	URI        string `yaml:"uri"`
	Database   string `yaml:"database"`
	Collection string `yaml:"collection"`
}

// DynamoDBConfig holds DynamoDB metadata store settings.
type DynamoDBConfig struct {
	Table       string `yaml:"table"`
	Region      string `yaml:"region"`
	EndpointURL string `yaml:"endpoint_url"`
}

// FirestoreConfig holds Firestore metadata store settings.
type FirestoreConfig struct {
	ProjectID       string `yaml:"project_id"`
	Collection      string `yaml:"collection"`
	CredentialsFile string `yaml:"credentials_file"`
}

// CosmosConfig holds Azure Cosmos DB metadata store settings.
type CosmosConfig struct {
	Endpoint  string `yaml:"endpoint"`
	MasterKey string `yaml:"master_key"`
	Database  string `yaml:"database"`
	Container string `yaml:"container"`
}

// StorageConfig holds blob storage backend settings.
type StorageConfig struct {
	// Backend is the blob backend type: "local", "memory", "sqlite",
	// "gridfs", "aws", "gcp" or "azure".
	Backend string       `yaml:"backend"`
	Local   LocalConfig  `yaml:"local"`
	Memory  MemoryConfig `yaml:"memory"`
	SQLite  SQLiteConfig `yaml:"sqlite"`
	GridFS  GridFSConfig `yaml:"gridfs"`
	// AWSBucket is the S3 bucket holding artwork images.
	AWSBucket string `yaml:"aws_bucket"`
	// AWSRegion is the AWS region of AWSBucket.
	AWSRegion string `yaml:"aws_region"`
	// AWSPrefix is the optional key prefix for all blobs in AWSBucket.
	AWSPrefix string `yaml:"aws_prefix"`
	// AWSEndpointURL overrides the S3 endpoint (MinIO, LocalStack).
	AWSEndpointURL string `yaml:"aws_endpoint_url"`
	// AWSUsePathStyle forces path-style addressing.
	AWSUsePathStyle bool `yaml:"aws_use_path_style"`
	// AWSAccessKeyID and AWSSecretAccessKey select static credentials
	// instead of the default credential chain.
	AWSAccessKeyID     string `yaml:"aws_access_key_id"`
	AWSSecretAccessKey string `yaml:"aws_secret_access_key"`
	// GCPBucket is the GCS bucket holding artwork images.
	GCPBucket string `yaml:"gcp_bucket"`
	// GCPProject is the GCP project ID.
	GCPProject string `yaml:"gcp_project"`
	// GCPPrefix is the optional object name prefix.
	GCPPrefix string `yaml:"gcp_prefix"`
	// AzureContainer is the Azure Blob container name.
	AzureContainer string `yaml:"azure_container"`
	// AzureAccount is the storage account name, used to construct the
	// account URL https://{account}.blob.core.windows.net.
	AzureAccount string `yaml:"azure_account"`
	// AzureAccountURL is the full account URL; takes precedence over AzureAccount.
	AzureAccountURL string `yaml:"azure_account_url"`
	// AzureConnectionString enables connection string auth (Azurite).
	AzureConnectionString string `yaml:"azure_connection_string"`
	// AzurePrefix is the optional blob name prefix.
	AzurePrefix string `yaml:"azure_prefix"`
	// AzureUseManagedIdentity selects managed identity credentials.
	AzureUseManagedIdentity bool `yaml:"azure_use_managed_identity"`
}

// GridFSConfig holds MongoDB GridFS storage backend settings.
type GridFSConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
	// Bucket is the GridFS bucket for originals; transformed images go to
	// "<bucket>_transformed".
	Bucket string `yaml:"bucket"`
}

// LocalConfig holds local filesystem storage backend settings.
type LocalConfig struct {
	// RootDir is the base directory for blob files.
	RootDir string `yaml:"root_dir"`
}

// MemoryConfig holds in-memory storage backend settings.
type MemoryConfig struct {
	// MaxSizeBytes caps total stored bytes; 0 means unlimited.
	MaxSizeBytes int64 `yaml:"max_size_bytes"`
	// Persistence is "none" or "snapshot".
	Persistence string `yaml:"persistence"`
	// SnapshotPath is the SQLite file used for snapshot persistence.
	SnapshotPath string `yaml:"snapshot_path"`
	// SnapshotIntervalSeconds is the period between background snapshots.
	SnapshotIntervalSeconds int `yaml:"snapshot_interval_seconds"`
}

// PipelineConfig holds curation stage parameters.
type PipelineConfig struct {
	// Stages lists the stages to run, in order. Empty means all four.
	Stages []string `yaml:"stages"`
	// Sentinel replaces empty descriptive fields during cleaning.
	Sentinel string `yaml:"sentinel"`
	// ImageSize is the width and height of the canonical image.
	ImageSize int `yaml:"image_size"`
	// JPEGQuality is the encoder quality for canonical images (1-100).
	JPEGQuality int `yaml:"jpeg_quality"`
	// Seed drives the reproducible dataset split.
	Seed int64 `yaml:"seed"`
	// TestFraction is the share held out as test in the first split.
	TestFraction float64 `yaml:"test_fraction"`
	// ValidationFraction is the share of the remainder held out as validation.
	ValidationFraction float64 `yaml:"validation_fraction"`
}

// ServerConfig holds HTTP server settings for "artcurate serve".
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// ShutdownTimeout is the graceful shutdown timeout in seconds.
	ShutdownTimeout int `yaml:"shutdown_timeout"`
	// AuthToken, when set, is required as a bearer token on every endpoint
	// except /healthz, /metrics and the docs.
	AuthToken string `yaml:"auth_token"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Textfile, when set, receives a node-exporter textfile dump after
	// each CLI run.
	Textfile string `yaml:"textfile"`
}

// Load reads a YAML configuration file from the given path and returns
// a parsed Config with defaults applied. If the primary path fails, it falls
// back to artcurate.example.yaml in the same directory or parent directory.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		fallbackPaths := []string{
			filepath.Join(filepath.Dir(path), "artcurate.example.yaml"),
			filepath.Join(filepath.Dir(path), "..", "artcurate.example.yaml"),
		}
		var fallbackErr error
		for _, fp := range fallbackPaths {
			data, fallbackErr = os.ReadFile(fp)
			if fallbackErr == nil {
				break
			}
		}
		if fallbackErr != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config populated with defaults only.
func Default() *Config {
	cfg := defaultConfig()
	applyDefaults(cfg)
	return cfg
}

// Validate checks value ranges that defaults cannot repair.
func (c *Config) Validate() error {
	p := c.Pipeline
	if p.TestFraction < 0 || p.TestFraction >= 1 {
		return fmt.Errorf("pipeline.test_fraction must be in [0, 1), got %v", p.TestFraction)
	}
	if p.ValidationFraction < 0 || p.ValidationFraction >= 1 {
		return fmt.Errorf("pipeline.validation_fraction must be in [0, 1), got %v", p.ValidationFraction)
	}
	if p.JPEGQuality < 1 || p.JPEGQuality > 100 {
		return fmt.Errorf("pipeline.jpeg_quality must be in [1, 100], got %d", p.JPEGQuality)
	}
	if p.ImageSize <= 0 {
		return fmt.Errorf("pipeline.image_size must be positive, got %d", p.ImageSize)
	}
	return nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metadata: MetadataConfig{
			Engine: "sqlite",
			SQLite: SQLiteConfig{
				Path: "./data/metadata.db",
			},
		},
		Storage: StorageConfig{
			Backend: "local",
			Local: LocalConfig{
				RootDir: "./data/blobs",
			},
		},
		Pipeline: PipelineConfig{
			Sentinel:           "NA",
			ImageSize:          224,
			JPEGQuality:        75,
			Seed:               42,
			TestFraction:       0.2,
			ValidationFraction: 0.2,
		},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            9100,
			ShutdownTimeout: 30,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
	}
}

// applyDefaults fills in any fields that are still at their zero value
// after YAML unmarshaling. Seed and the split fractions keep explicit zeros.
func applyDefaults(cfg *Config) {
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
	if cfg.Metadata.Engine == "" {
		cfg.Metadata.Engine = "sqlite"
	}
	if cfg.Metadata.SQLite.Path == "" {
		cfg.Metadata.SQLite.Path = "./data/metadata.db"
	}
	if cfg.Metadata.Local.RootDir == "" {
		cfg.Metadata.Local.RootDir = "./data/metadata"
	}
	if cfg.Metadata.Mongo.URI == "" {
		cfg.Metadata.Mongo.URI = "mongodb://localhost:27017/"
	}
	if cfg.Metadata.Mongo.Database == "" {
		cfg.Metadata.Mongo.Database = "museum_db"
	}
	if cfg.Metadata.Mongo.Collection == "" {
		cfg.Metadata.Mongo.Collection = "artwork_metadata"
	}
	if cfg.Metadata.DynamoDB.Region == "" {
		cfg.Metadata.DynamoDB.Region = "us-east-1"
	}
	if cfg.Metadata.Firestore.Collection == "" {
		cfg.Metadata.Firestore.Collection = "artworks"
	}
	if cfg.Storage.Backend == "" {
		cfg.Storage.Backend = "local"
	}
	if cfg.Storage.Local.RootDir == "" {
		cfg.Storage.Local.RootDir = "./data/blobs"
	}
	if cfg.Storage.Memory.Persistence == "" {
		cfg.Storage.Memory.Persistence = "none"
	}
	if cfg.Storage.Memory.SnapshotPath == "" {
		cfg.Storage.Memory.SnapshotPath = "./data/blobs.snapshot.db"
	}
	if cfg.Storage.Memory.SnapshotIntervalSeconds == 0 {
		cfg.Storage.Memory.SnapshotIntervalSeconds = 300
	}
	if cfg.Storage.SQLite.Path == "" {
		cfg.Storage.SQLite.Path = "./data/blobs.db"
	}
	if cfg.Storage.GridFS.URI == "" {
		cfg.Storage.GridFS.URI = cfg.Metadata.Mongo.URI
	}
	if cfg.Storage.GridFS.Database == "" {
		cfg.Storage.GridFS.Database = cfg.Metadata.Mongo.Database
	}
	if cfg.Storage.GridFS.Bucket == "" {
		cfg.Storage.GridFS.Bucket = "fs"
	}
	if cfg.Storage.AWSRegion == "" {
		cfg.Storage.AWSRegion = "us-east-1"
	}
	if cfg.Pipeline.Sentinel == "" {
		cfg.Pipeline.Sentinel = "NA"
	}
	if cfg.Pipeline.ImageSize == 0 {
		cfg.Pipeline.ImageSize = 224
	}
	if cfg.Pipeline.JPEGQuality == 0 {
		cfg.Pipeline.JPEGQuality = 75
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 9100
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 30
	}
}
