// Package config decodes the validated configuration the engine
// consumes. Parsing and example emission are external-collaborator
// concerns per spec.md §1; this package only defines the shape and a
// straightforward TOML/JSON loader, following the teacher's
// internal/config/config.go.
package config

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the top-level parsed representation described in spec.md §6.
type Config struct {
	Filesystems map[string]FilesystemSpec `toml:"filesystems" json:"filesystems"`
	Profiles    map[string]ProfileSpec    `toml:"profiles" json:"profiles"`
	Engine      EngineSpec                `toml:"engine" json:"engine"`
}

// EngineSpec holds engine-wide tunables.
type EngineSpec struct {
	MaxConcurrentProfiles int   `toml:"max_concurrent_profiles" json:"max_concurrent_profiles"`
	WorkerThreads         int   `toml:"worker_threads" json:"worker_threads"`
	ChunkSize             int64 `toml:"chunk_size" json:"chunk_size"`
	StrictChangeDetection bool  `toml:"strict_change_detection" json:"strict_change_detection"`
}

// FilesystemSpec is a tagged union over the filesystem driver kinds
// recognized by the engine (spec.md §6/§4.7).
type FilesystemSpec struct {
	Kind string `toml:"kind" json:"kind"` // "local", "webdav", "s3"

	// local
	Root string `toml:"root,omitempty" json:"root,omitempty"`

	// webdav
	URL            string `toml:"url,omitempty" json:"url,omitempty"`
	Username       string `toml:"username,omitempty" json:"username,omitempty"`
	AuthPasswordID string `toml:"auth_password_id,omitempty" json:"auth_password_id,omitempty"`
	TLSVerify      bool   `toml:"tls_verify,omitempty" json:"tls_verify,omitempty"`

	// s3. AccessKeyID is read verbatim from config; the matching secret
	// key is resolved through AuthPasswordID, the same split webdav uses
	// for Username/AuthPasswordID. Leaving both blank falls back to the
	// default AWS credential chain (environment, instance role, etc).
	Bucket      string `toml:"bucket,omitempty" json:"bucket,omitempty"`
	Prefix      string `toml:"prefix,omitempty" json:"prefix,omitempty"`
	Region      string `toml:"region,omitempty" json:"region,omitempty"`
	AccessKeyID string `toml:"access_key_id,omitempty" json:"access_key_id,omitempty"`
}

// ProfileSpec describes one named backup profile (spec.md §3/§6).
type ProfileSpec struct {
	SourceFS           string   `toml:"source_fs" json:"source_fs"`
	SourceRoot         string   `toml:"source_root" json:"source_root"`
	DestFS             string   `toml:"dest_fs" json:"dest_fs"`
	DestRoot           string   `toml:"dest_root" json:"dest_root"`
	Includes           []string `toml:"includes,omitempty" json:"includes,omitempty"`
	Excludes           []string `toml:"excludes,omitempty" json:"excludes,omitempty"`
	Compress           bool     `toml:"compress" json:"compress"`
	Encrypt            bool     `toml:"encrypt" json:"encrypt"`
	PasswordID         string   `toml:"password_id,omitempty" json:"password_id,omitempty"`
	OverwriteOnRestore bool     `toml:"overwrite_on_restore" json:"overwrite_on_restore"`
}

// Validate checks cross-field invariants a well-formed config must
// satisfy before the engine accepts it.
func (c *Config) Validate() error {
	for name, fs := range c.Filesystems {
		switch fs.Kind {
		case "local":
			if fs.Root == "" {
				return fmt.Errorf("filesystem %q: local requires root", name)
			}
		case "webdav":
			if fs.URL == "" {
				return fmt.Errorf("filesystem %q: webdav requires url", name)
			}
		case "s3":
			if fs.Bucket == "" {
				return fmt.Errorf("filesystem %q: s3 requires bucket", name)
			}
		default:
			return fmt.Errorf("filesystem %q: unknown kind %q", name, fs.Kind)
		}
	}

	for name, p := range c.Profiles {
		if _, ok := c.Filesystems[p.SourceFS]; !ok {
			return fmt.Errorf("profile %q: unknown source_fs %q", name, p.SourceFS)
		}
		if _, ok := c.Filesystems[p.DestFS]; !ok {
			return fmt.Errorf("profile %q: unknown dest_fs %q", name, p.DestFS)
		}
		if p.Encrypt && p.PasswordID == "" {
			return fmt.Errorf("profile %q: encrypt requires password_id", name)
		}
	}

	if c.Engine.WorkerThreads < 0 {
		return fmt.Errorf("engine: worker_threads must be >= 0")
	}
	if c.Engine.MaxConcurrentProfiles < 0 {
		return fmt.Errorf("engine: max_concurrent_profiles must be >= 0")
	}

	return nil
}

// Defaults fills zero-valued tunables with the engine's defaults,
// mirroring spec.md §4.5/§4.6 defaults.
func (c *Config) Defaults() {
	if c.Engine.ChunkSize <= 0 {
		c.Engine.ChunkSize = 1 << 20 // 1 MiB
	}
	if c.Engine.WorkerThreads <= 0 {
		c.Engine.WorkerThreads = 4
	}
	if c.Engine.MaxConcurrentProfiles <= 0 {
		c.Engine.MaxConcurrentProfiles = 1
	}
}

// Manager reads and writes Config in either TOML or JSON form.
type Manager struct{}

// Read decodes a Config from r, selected by ext ("toml" or "json"; any
// other value is treated as toml).
func (m *Manager) Read(r io.Reader, ext string) (*Config, error) {
	var cfg Config
	switch strings.ToLower(ext) {
	case "json":
		if err := json.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decoding json config: %w", err)
		}
	default:
		if _, err := toml.NewDecoder(r).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decoding toml config: %w", err)
		}
	}
	return &cfg, nil
}

// Write encodes cfg to w in the given format.
func (m *Manager) Write(w io.Writer, cfg *Config, ext string) error {
	switch strings.ToLower(ext) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(cfg); err != nil {
			return fmt.Errorf("encoding json config: %w", err)
		}
	default:
		if err := toml.NewEncoder(w).Encode(cfg); err != nil {
			return fmt.Errorf("encoding toml config: %w", err)
		}
	}
	return nil
}

// ReadFromFile reads a Config from path, choosing the format by
// extension, applying defaults, and validating it.
func ReadFromFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	cfg, err := m.Read(f, extOf(path))
	if err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config from %s: %w", path, err)
	}
	return cfg, nil
}

// Example returns a minimal, documented Config suitable for
// `config example write`.
func Example() *Config {
	return &Config{
		Filesystems: map[string]FilesystemSpec{
			"home":   {Kind: "local", Root: "/home/user"},
			"remote": {Kind: "webdav", URL: "https://backup.example.com/dav", Username: "user", AuthPasswordID: "webdav-remote", TLSVerify: true},
		},
		Profiles: map[string]ProfileSpec{
			"documents": {
				SourceFS: "home", SourceRoot: "Documents",
				DestFS: "remote", DestRoot: "documents",
				Includes: []string{"**/*"},
				Excludes: []string{"**/*.tmp"},
				Compress: true, Encrypt: true, PasswordID: "documents",
			},
		},
		Engine: EngineSpec{
			MaxConcurrentProfiles: 2,
			WorkerThreads:         4,
			ChunkSize:             1 << 20,
			StrictChangeDetection: false,
		},
	}
}

// WriteExampleTo writes the example config to path in the format implied
// by its extension, refusing to overwrite an existing file.
func WriteExampleTo(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating config file: %w", err)
	}
	defer f.Close()

	m := &Manager{}
	return m.Write(f, Example(), extOf(path))
}

func extOf(path string) string {
	return strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
}
