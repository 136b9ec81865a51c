package config

import (
	"encoding/json"
	"net/url"
	"path/filepath"
	"time"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"

	"github.com/sidkik/pairsync/pkg/errors"
	"github.com/sidkik/pairsync/pkg/sync"
	"github.com/sidkik/pairsync/pkg/sync/server"
)

const (
	// DefaultPath is the default path to the pairsync config.
	DefaultPath = "~/.pairsync.yaml"

	// InitialVersion is the first version of the config. Config files that
	// do not specify a version will default to this version.
	InitialVersion = "v1alpha1"

	// SupportedVersion is the config version supported by the current
	// binary.
	SupportedVersion = "v1alpha1"

	// DefaultListen is the address the Responder listens on by default.
	DefaultListen = ":8080"

	// DefaultWorkers is the default number of concurrent file writes.
	DefaultWorkers = sync.DefaultWorkers

	// DefaultMaxBodyBytes is the default limit on request bodies.
	DefaultMaxBodyBytes = server.DefaultMaxBodyBytes

	// DefaultPollInterval is how often watch mode syncs when nothing
	// changes.
	DefaultPollInterval = 30 * time.Second
)

// Config is the configuration shared by both peers. Each role only uses
// some of the fields.
type Config struct {
	Version string `json:"version,omitempty"`

	// Secret is the token shared by both peers.
	Secret string `json:"secret"`

	// StorageDir is the directory holding the synced files.
	StorageDir string `json:"storageDir"`

	// Listen is the address the Responder serves on.
	Listen string `json:"listen,omitempty"`

	// Remote is the base URL of the Responder, used by the Initiator.
	Remote string `json:"remote,omitempty"`

	Workers      int      `json:"workers,omitempty"`
	MaxBodyBytes int64    `json:"maxBodyBytes,omitempty"`
	PollInterval Duration `json:"pollInterval,omitempty"`
}

// Duration is a time.Duration written in config files as a string such as
// "30s".
type Duration struct {
	time.Duration
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err != nil {
		return errors.WithContext(err, "duration must be a string such as \"30s\"")
	}

	parsed, err := time.ParseDuration(str)
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// homedirExpand will be overridden in mock tests
var homedirExpand = homedir.Expand

// GetPath expands `path`, or the default config path if `path` is empty. The
// result can be directly passed to file operations.
func GetPath(path string) (string, error) {
	if path == "" {
		path = DefaultPath
	}
	return homedirExpand(path)
}

// Parse reads the config at `path`, or the default path if `path` is empty,
// and fills in defaults for unset fields.
func Parse(path string) (Config, error) {
	path, err := GetPath(path)
	if err != nil {
		return Config{}, errors.WithContext(err, "expand config path")
	}

	config := Config{Version: InitialVersion}
	if err := decodeFile(path, &config); err != nil {
		if _, ok := err.(errors.FileNotFound); ok {
			return Config{}, errors.NewFriendlyError("The pairsync config "+
				"file doesn't exist at %q. Please run `pairsync config init` "+
				"to create it.", path)
		}
		return Config{}, errors.WithContext(err, "parse")
	}

	if config.StorageDir != "" {
		config.StorageDir, err = homedirExpand(config.StorageDir)
		if err != nil {
			return Config{}, errors.WithContext(err, "expand storage path")
		}

		// Evaluate relative paths relative to the config path.
		if !filepath.IsAbs(config.StorageDir) {
			config.StorageDir = filepath.Join(filepath.Dir(path), config.StorageDir)
		}
	}

	config.setDefaults()
	return config, nil
}

func (c *Config) setDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if c.PollInterval.Duration <= 0 {
		c.PollInterval.Duration = DefaultPollInterval
	}
}

// ValidateServe checks that the config has the fields required to run a
// Responder.
func (c Config) ValidateServe() error {
	return c.validateCommon()
}

// ValidateSync checks that the config has the fields required to run an
// Initiator.
func (c Config) ValidateSync() error {
	if err := c.validateCommon(); err != nil {
		return err
	}

	if c.Remote == "" {
		return errors.NewFriendlyError("The `remote` field is required to sync. " +
			"Set it to the Responder's URL, such as http://host:8080.")
	}

	remote, err := url.Parse(c.Remote)
	if err != nil || (remote.Scheme != "http" && remote.Scheme != "https") || remote.Host == "" {
		return errors.NewFriendlyError("The remote %q is not a valid URL. "+
			"It should look like http://host:8080.", c.Remote)
	}
	return nil
}

func (c Config) validateCommon() error {
	if c.Secret == "" {
		return errors.NewFriendlyError("The `secret` field is required. " +
			"Both peers must use the same secret.")
	}

	if c.StorageDir == "" {
		return errors.NewFriendlyError("The `storageDir` field is required.")
	}
	return nil
}

// WriteTemplate writes a commented config file to `path` (or the default
// path if empty), and returns the expanded path. An existing file is only
// replaced if `force` is set.
func WriteTemplate(path, secret string, force bool) (string, error) {
	path, err := GetPath(path)
	if err != nil {
		return "", errors.WithContext(err, "expand config path")
	}

	exists, err := afero.Exists(fs, path)
	if err != nil {
		return "", errors.WithContext(err, "check if config exists")
	}

	if exists && !force {
		return "", errors.NewFriendlyError("A config file already exists at %q. "+
			"Use --force to overwrite it.", path)
	}

	if secret == "" {
		secret = "change-me"
	}

	// The file holds the shared secret, so keep it private.
	if err := afero.WriteFile(fs, path, []byte(Template(secret)), 0600); err != nil {
		return "", errors.WithContext(err, "write")
	}
	return path, nil
}

// Template returns the contents of a new config file.
func Template(secret string) string {
	secretJSON, _ := json.Marshal(secret)
	return `# The config file version.
version: ` + SupportedVersion + `

# The shared secret. Both peers must use the same value.
secret: ` + string(secretJSON) + `

# The directory holding the synced files. Relative paths are relative to
# this file.
storageDir: ~/pairsync

# The address the Responder listens on when running ` + "`pairsync serve`" + `.
listen: "` + DefaultListen + `"

# The Responder's URL, used by ` + "`pairsync sync`" + `.
# remote: http://localhost:8080

# The maximum number of concurrent file writes.
# workers: 8

# The largest request body the Responder accepts, in bytes.
# maxBodyBytes: 10737418240

# How often watch mode syncs when no files change.
# pollInterval: 30s
`
}
