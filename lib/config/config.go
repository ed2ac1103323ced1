// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"regexp"
	"slices"

	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/devbackup/lib/fault"
	"github.com/bureau-foundation/devbackup/lib/objectstore"
	"github.com/bureau-foundation/devbackup/lib/pipeline"
)

const (
	// EnvironmentVariable names the config file when --config is absent.
	EnvironmentVariable = "DEV_BACKUP_CONFIG"
	// DefaultPath is used when neither --config nor the environment
	// variable is set.
	DefaultPath = "/etc/dev-backup/config.yaml"
)

// Config is the master configuration.
type Config struct {
	Paths     PathsConfig     `yaml:"paths"`
	Cloud     CloudConfig     `yaml:"cloud"`
	Crypto    CryptoConfig    `yaml:"crypto"`
	Remote    RemoteConfig    `yaml:"remote"`
	Tools     ToolsConfig     `yaml:"tools"`
	Policy    PolicyConfig    `yaml:"policy"`
	Retention RetentionConfig `yaml:"retention"`

	// source is the file the config was loaded from.
	source string
}

// PathsConfig configures directory locations.
type PathsConfig struct {
	// Dataset is the btrfs subvolume being backed up (workstation).
	Dataset string `yaml:"dataset"`

	// Snapshots holds dev@<label> snapshots of the dataset
	// (workstation).
	Snapshots string `yaml:"snapshots"`

	// StorageRoot is the storage host's root: artifacts, manifest,
	// keys, restore snapshots.
	StorageRoot string `yaml:"storage_root"`
}

// CloudConfig configures the remote object store.
type CloudConfig struct {
	// Provider is s3, gcs, or file. Empty disables sync.
	Provider string `yaml:"provider"`
	Endpoint string `yaml:"endpoint"`
	// Region defaults to "auto", which Cloudflare R2 expects.
	Region    string `yaml:"region"`
	Bucket    string `yaml:"bucket"`
	AccessKey string `yaml:"access_key"`

	// SecretKey is the inline secret. Prefer SecretKeyFile, which is
	// read into protected memory.
	SecretKey     string `yaml:"secret_key"`
	SecretKeyFile string `yaml:"secret_key_file"`

	// CredentialsFile is a GCS service-account key.
	CredentialsFile string `yaml:"credentials_file"`

	// Directory is the root of a file provider.
	Directory string `yaml:"directory"`
}

// CryptoConfig locates the age keypair. Empty values default to the
// keys directory of the storage root.
type CryptoConfig struct {
	RecipientsFile string `yaml:"recipients_file"`
	IdentityFile   string `yaml:"identity_file"`
}

// RemoteConfig says how a workstation reaches the storage host.
type RemoteConfig struct {
	// LSHost defaults to localhost, which runs the sending side
	// without ssh.
	LSHost string `yaml:"ls_host"`
	// LSUser defaults to the invoking user.
	LSUser string `yaml:"ls_user"`
	// RemoteConfig is the config path passed to dev-backup on the
	// storage host.
	RemoteConfig string `yaml:"remote_config"`
}

// ToolsConfig names the external programs.
type ToolsConfig struct {
	Btrfs            string `yaml:"btrfs"`
	Zstd             string `yaml:"zstd"`
	Age              string `yaml:"age"`
	SSH              string `yaml:"ssh"`
	Self             string `yaml:"self"`
	CompressionLevel int    `yaml:"compression_level"`
}

// PolicyConfig tunes the anchor policy.
type PolicyConfig struct {
	MaxMonthsBetweenAnchor int `yaml:"max_months_between_anchor"`
}

// RetentionConfig tunes snapshot pruning.
type RetentionConfig struct {
	// WindowDays keeps every snapshot younger than this many days.
	WindowDays int `yaml:"window_days"`
	// Root holds <group>/<name>-YYYYMMDD_HHMM snapshot directories.
	Root string `yaml:"root"`
}

// Default returns the built-in configuration.
func Default() *Config {
	tools := pipeline.DefaultTools()
	return &Config{
		Cloud: CloudConfig{Region: objectstore.DefaultRegion},
		Remote: RemoteConfig{
			LSHost:       "localhost",
			LSUser:       currentUser(),
			RemoteConfig: DefaultPath,
		},
		Tools: ToolsConfig{
			Btrfs:            tools.Btrfs,
			Zstd:             tools.Zstd,
			Age:              tools.Age,
			SSH:              tools.SSH,
			Self:             tools.Self,
			CompressionLevel: tools.CompressionLevel,
		},
		Policy:    PolicyConfig{MaxMonthsBetweenAnchor: 12},
		Retention: RetentionConfig{WindowDays: 30, Root: "/snapshot"},
	}
}

func currentUser() string {
	if account, err := user.Current(); err == nil && account.Username != "" {
		return account.Username
	}
	return os.Getenv("USER")
}

// Load loads the file named by DEV_BACKUP_CONFIG, or [DefaultPath].
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		path = DefaultPath
	}
	return LoadFile(path)
}

// LoadFile loads configuration from path, merged over [Default].
func LoadFile(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fault.NotFoundf("config file %s: %w", path, err)
		}
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fault.Validationf("parsing config %s: %w", path, err)
	}
	cfg.source = path
	cfg.expandVariables()
	cfg.applyDerivedDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fault.Validationf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Source returns the file the config was loaded from, or "" for a
// config built in code.
func (c *Config) Source() string {
	return c.source
}

// applyDerivedDefaults fills defaults that depend on other fields.
func (c *Config) applyDerivedDefaults() {
	if c.Crypto.RecipientsFile == "" && c.Paths.StorageRoot != "" {
		c.Crypto.RecipientsFile = c.RecipientsPath()
	}
	if c.Crypto.IdentityFile == "" && c.Paths.StorageRoot != "" {
		c.Crypto.IdentityFile = c.IdentityPath()
	}
	if c.Remote.LSUser == "" {
		c.Remote.LSUser = currentUser()
	}
	if c.Cloud.Region == "" {
		c.Cloud.Region = objectstore.DefaultRegion
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in paths.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Paths.StorageRoot = expandVars(c.Paths.StorageRoot, vars)
	vars["STORAGE_ROOT"] = c.Paths.StorageRoot

	for _, field := range []*string{
		&c.Paths.Dataset,
		&c.Paths.Snapshots,
		&c.Cloud.SecretKeyFile,
		&c.Cloud.CredentialsFile,
		&c.Cloud.Directory,
		&c.Crypto.RecipientsFile,
		&c.Crypto.IdentityFile,
		&c.Remote.RemoteConfig,
		&c.Retention.Root,
	} {
		*field = expandVars(*field, vars)
	}
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name := parts[1]
		defaultValue := parts[2]

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors. Every problem is
// reported, not just the first.
func (c *Config) Validate() error {
	var errs []error

	for name, value := range map[string]string{
		"paths.dataset":      c.Paths.Dataset,
		"paths.snapshots":    c.Paths.Snapshots,
		"paths.storage_root": c.Paths.StorageRoot,
		"retention.root":     c.Retention.Root,
	} {
		if value != "" && !filepath.IsAbs(value) {
			errs = append(errs, fmt.Errorf("%s must be an absolute path, got %q", name, value))
		}
	}

	providers := []string{"", string(objectstore.ProviderS3), string(objectstore.ProviderGCS), string(objectstore.ProviderDirectory)}
	if !slices.Contains(providers, c.Cloud.Provider) {
		errs = append(errs, fmt.Errorf("cloud.provider must be one of s3, gcs, file; got %q", c.Cloud.Provider))
	}
	if c.Cloud.SecretKey != "" && c.Cloud.SecretKeyFile != "" {
		errs = append(errs, fmt.Errorf("cloud.secret_key and cloud.secret_key_file are mutually exclusive"))
	}

	if c.Tools.CompressionLevel < 1 || c.Tools.CompressionLevel > 19 {
		errs = append(errs, fmt.Errorf("tools.compression_level must be between 1 and 19, got %d", c.Tools.CompressionLevel))
	}
	for name, value := range map[string]string{
		"tools.btrfs": c.Tools.Btrfs,
		"tools.zstd":  c.Tools.Zstd,
		"tools.age":   c.Tools.Age,
		"tools.ssh":   c.Tools.SSH,
		"tools.self":  c.Tools.Self,
	} {
		if value == "" {
			errs = append(errs, fmt.Errorf("%s must not be empty", name))
		}
	}

	if c.Retention.WindowDays < 0 {
		errs = append(errs, fmt.Errorf("retention.window_days must not be negative, got %d", c.Retention.WindowDays))
	}

	slices.SortFunc(errs, func(a, b error) int {
		switch {
		case a.Error() < b.Error():
			return -1
		case a.Error() > b.Error():
			return 1
		}
		return 0
	})
	return errors.Join(errs...)
}

// Field names accepted by [Config.Require].
const (
	FieldDataset     = "paths.dataset"
	FieldSnapshots   = "paths.snapshots"
	FieldStorageRoot = "paths.storage_root"
	FieldRecipients  = "crypto.recipients_file"
	FieldIdentity    = "crypto.identity_file"
	FieldCloud       = "cloud.provider"
)

// Require returns a validation fault listing every named field that is
// empty.
func (c *Config) Require(fields ...string) error {
	values := map[string]string{
		FieldDataset:     c.Paths.Dataset,
		FieldSnapshots:   c.Paths.Snapshots,
		FieldStorageRoot: c.Paths.StorageRoot,
		FieldRecipients:  c.Crypto.RecipientsFile,
		FieldIdentity:    c.Crypto.IdentityFile,
		FieldCloud:       c.Cloud.Provider,
	}
	var missing []string
	for _, field := range fields {
		if values[field] == "" {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fault.Validationf("configuration is missing %v", missing)
	}
	return nil
}

// ManifestPath returns the manifest location under the storage root.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.StorageRoot, "manifests", "snapshots_v2.tsv")
}

// AnchorsDir returns the directory registered anchors are moved to.
func (c *Config) AnchorsDir() string {
	return filepath.Join(c.Paths.StorageRoot, "artifacts", "anchors")
}

// IncrementalsDir returns the directory registered incrementals are
// moved to.
func (c *Config) IncrementalsDir() string {
	return filepath.Join(c.Paths.StorageRoot, "artifacts", "incr")
}

// RestoreSnapshotsDir returns where hydrated snapshots are received on
// the storage host.
func (c *Config) RestoreSnapshotsDir() string {
	return filepath.Join(c.Paths.StorageRoot, "restore", "snapshots")
}

// KeysDir returns the storage root's key directory.
func (c *Config) KeysDir() string {
	return filepath.Join(c.Paths.StorageRoot, "keys")
}

// RecipientsPath returns the default age recipients file.
func (c *Config) RecipientsPath() string {
	return filepath.Join(c.KeysDir(), "ls_dev_backup.pub")
}

// IdentityPath returns the default age identity file.
func (c *Config) IdentityPath() string {
	return filepath.Join(c.KeysDir(), "ls_dev_backup.key")
}

// StorageLayout lists every directory of a storage root.
func (c *Config) StorageLayout() []string {
	root := c.Paths.StorageRoot
	return []string{
		c.AnchorsDir(),
		c.IncrementalsDir(),
		filepath.Join(root, "manifests"),
		c.KeysDir(),
		c.RestoreSnapshotsDir(),
		filepath.Join(root, "tmp"),
		filepath.Join(root, "logs"),
		filepath.Join(root, "locks"),
	}
}

// PipelineTools converts the tools section for lib/pipeline.
func (c *Config) PipelineTools() pipeline.Tools {
	return pipeline.Tools{
		Btrfs:            c.Tools.Btrfs,
		Zstd:             c.Tools.Zstd,
		Age:              c.Tools.Age,
		SSH:              c.Tools.SSH,
		Self:             c.Tools.Self,
		CompressionLevel: c.Tools.CompressionLevel,
	}
}

// ObjectStore converts the cloud section for lib/objectstore. A secret
// key file is passed through by path and read by the S3 backend.
func (c *Config) ObjectStore() (objectstore.Config, error) {
	if err := c.Require(FieldCloud); err != nil {
		return objectstore.Config{}, err
	}
	return objectstore.Config{
		Provider:        objectstore.Provider(c.Cloud.Provider),
		Bucket:          c.Cloud.Bucket,
		Endpoint:        c.Cloud.Endpoint,
		Region:          c.Cloud.Region,
		AccessKey:       c.Cloud.AccessKey,
		SecretKey:       c.Cloud.SecretKey,
		SecretKeyFile:   c.Cloud.SecretKeyFile,
		CredentialsFile: c.Cloud.CredentialsFile,
		Directory:       c.Cloud.Directory,
	}, nil
}
