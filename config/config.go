// Package config loads and validates the declarative repository
// configuration that drives a build run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"go.yaml.in/yaml/v3"
)

// Duration wraps time.Duration so that config files can use human-readable
// values like "500ms" or "5m".
type Duration time.Duration

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Archive is the repository identity written to the Release file.
type Archive struct {
	Origin      string `toml:"origin" yaml:"origin"`
	Label       string `toml:"label" yaml:"label"`
	Suite       string `toml:"suite" yaml:"suite"`
	Codename    string `toml:"codename" yaml:"codename"`
	Version     string `toml:"version" yaml:"version"`
	Description string `toml:"description" yaml:"description"`
}

// Fetch holds retry and timeout parameters for remote downloads.
type Fetch struct {
	Retries        int      `toml:"retries" yaml:"retries"`
	Timeout        Duration `toml:"timeout" yaml:"timeout"`
	BackoffInitial Duration `toml:"backoff_initial" yaml:"backoff_initial"`
	BackoffMax     Duration `toml:"backoff_max" yaml:"backoff_max"`
}

// Signing controls how the Release file is signed.
type Signing struct {
	// KeyEnv names the environment variable holding the ASCII-armored
	// private key. KeyFile points at a key file instead. KeyEnv wins when
	// both are set.
	KeyEnv  string `toml:"key_env" yaml:"key_env"`
	KeyFile string `toml:"key_file" yaml:"key_file"`
	// Required makes a signing failure abort the run. An unsigned
	// repository is untrusted by strict clients, so this defaults to true.
	Required *bool `toml:"required" yaml:"required"`
}

// S3 configures the optional mirror of the published tree.
type S3 struct {
	Endpoint  string `toml:"endpoint" yaml:"endpoint"`
	Bucket    string `toml:"bucket" yaml:"bucket"`
	Region    string `toml:"region" yaml:"region"`
	AccessEnv string `toml:"access_key_env" yaml:"access_key_env"`
	SecretEnv string `toml:"secret_key_env" yaml:"secret_key_env"`
}

// Build describes an external package-build invocation, run in Dir before
// the owning source's path is resolved.
type Build struct {
	Dir     string   `toml:"dir" yaml:"dir"`
	Command []string `toml:"command" yaml:"command"`
	Timeout Duration `toml:"timeout" yaml:"timeout"`
}

// Source declares one package origin. Exactly one of Path, URL, Listing or
// GitHub must be set.
type Source struct {
	Name      string `toml:"name" yaml:"name"`
	Component string `toml:"component" yaml:"component"`

	// Path is a local .deb file or a directory of .deb files.
	Path string `toml:"path" yaml:"path"`
	// URL is a direct download of a single .deb artifact.
	URL string `toml:"url" yaml:"url"`
	// Listing is an HTML-indexed directory; anchors matching Pattern are
	// candidate artifacts.
	Listing string `toml:"listing" yaml:"listing"`
	// GitHub is an "owner/repo" slug; release assets matching Pattern are
	// candidate artifacts.
	GitHub string `toml:"github" yaml:"github"`

	// Tag restricts a GitHub source to one release tag. Empty means all
	// releases.
	Tag string `toml:"tag" yaml:"tag"`

	// Pattern selects artifacts from Listing or GitHub sources. When
	// several distinct versions of the same package match, the highest
	// Debian version wins unless All is set.
	Pattern string `toml:"pattern" yaml:"pattern"`
	All     bool   `toml:"all" yaml:"all"`

	// SHA256 is the expected checksum for Path and URL sources.
	SHA256 string `toml:"sha256" yaml:"sha256"`

	// Build optionally produces the artifacts for a Path source.
	Build *Build `toml:"build" yaml:"build"`
}

// Kind returns the fetch strategy implied by the declared fields.
func (s *Source) Kind() string {
	switch {
	case s.Path != "":
		return "local"
	case s.URL != "":
		return "url"
	case s.Listing != "":
		return "listing"
	case s.GitHub != "":
		return "github"
	}
	return "unknown"
}

// Config is the validated top-level configuration for one repository target.
type Config struct {
	Archive Archive `toml:"archive" yaml:"archive"`

	Architectures      []string `toml:"architectures" yaml:"architectures"`
	Components         []string `toml:"components" yaml:"components"`
	RequiredComponents []string `toml:"required_components" yaml:"required_components"`

	// RepoRoot is the live repository root; the staging tree and retained
	// previous trees live next to it.
	RepoRoot string `toml:"repo_root" yaml:"repo_root"`

	// KeepVersions is the pool retention policy: latest K versions per
	// (package, architecture) per component.
	KeepVersions int `toml:"keep_versions" yaml:"keep_versions"`

	Workers        int   `toml:"workers" yaml:"workers"`
	PublishPartial *bool `toml:"publish_partial" yaml:"publish_partial"`

	Fetch   Fetch    `toml:"fetch" yaml:"fetch"`
	Signing Signing  `toml:"signing" yaml:"signing"`
	S3      *S3      `toml:"s3" yaml:"s3"`
	Sources []Source `toml:"source" yaml:"sources"`
}

// SigningRequired reports whether a signing failure aborts the run.
func (c *Config) SigningRequired() bool {
	return c.Signing.Required == nil || *c.Signing.Required
}

// PartialPublishAllowed reports whether a run with per-source failures may
// still publish the successful subset.
func (c *Config) PartialPublishAllowed() bool {
	return c.PublishPartial == nil || *c.PublishPartial
}

// ComponentRequired reports whether an empty component aborts the run.
func (c *Config) ComponentRequired(component string) bool {
	for _, rc := range c.RequiredComponents {
		if rc == component {
			return true
		}
	}
	return false
}

// SigningKey resolves the armored private key per the signing configuration.
// It returns "" when no key source is configured.
func (c *Config) SigningKey() (string, error) {
	if c.Signing.KeyEnv != "" {
		key := os.Getenv(c.Signing.KeyEnv)
		if key == "" {
			return "", fmt.Errorf("signing key environment variable %s is empty", c.Signing.KeyEnv)
		}
		return key, nil
	}
	if c.Signing.KeyFile != "" {
		data, err := os.ReadFile(c.Signing.KeyFile)
		if err != nil {
			return "", fmt.Errorf("reading signing key file: %w", err)
		}
		return string(data), nil
	}
	return "", nil
}

// Load reads, decodes and validates a configuration file. The codec is
// selected by extension: .toml, or .yaml/.yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg := &Config{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format %q (want .toml, .yaml or .yml)", ext)
	}

	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.KeepVersions <= 0 {
		c.KeepVersions = 2
	}
	if c.Workers <= 0 {
		c.Workers = runtime.GOMAXPROCS(0)
	}
	if c.Fetch.Retries <= 0 {
		c.Fetch.Retries = 3
	}
	if c.Fetch.Timeout <= 0 {
		c.Fetch.Timeout = Duration(5 * time.Minute)
	}
	if c.Fetch.BackoffInitial <= 0 {
		c.Fetch.BackoffInitial = Duration(500 * time.Millisecond)
	}
	if c.Fetch.BackoffMax <= 0 {
		c.Fetch.BackoffMax = Duration(30 * time.Second)
	}
	if c.Archive.Codename == "" {
		c.Archive.Codename = c.Archive.Suite
	}
	for i := range c.Sources {
		if c.Sources[i].Component == "" && len(c.Components) > 0 {
			c.Sources[i].Component = c.Components[0]
		}
	}
}

func (c *Config) validate() error {
	if c.Archive.Suite == "" {
		return fmt.Errorf("archive.suite is required")
	}
	if c.RepoRoot == "" {
		return fmt.Errorf("repo_root is required")
	}
	if len(c.Architectures) == 0 {
		return fmt.Errorf("at least one architecture is required")
	}
	if len(c.Components) == 0 {
		return fmt.Errorf("at least one component is required")
	}

	components := make(map[string]bool, len(c.Components))
	for _, comp := range c.Components {
		components[comp] = true
	}
	for _, rc := range c.RequiredComponents {
		if !components[rc] {
			return fmt.Errorf("required component %q is not declared in components", rc)
		}
	}

	names := make(map[string]bool, len(c.Sources))
	for i := range c.Sources {
		s := &c.Sources[i]
		if s.Name == "" {
			return fmt.Errorf("source %d: name is required", i)
		}
		if names[s.Name] {
			return fmt.Errorf("duplicate source name %q", s.Name)
		}
		names[s.Name] = true

		if !components[s.Component] {
			return fmt.Errorf("source %q: component %q is not declared", s.Name, s.Component)
		}

		declared := 0
		for _, v := range []string{s.Path, s.URL, s.Listing, s.GitHub} {
			if v != "" {
				declared++
			}
		}
		if declared != 1 {
			return fmt.Errorf("source %q: exactly one of path, url, listing or github must be set", s.Name)
		}
		if s.Pattern != "" {
			if _, err := regexp.Compile(s.Pattern); err != nil {
				return fmt.Errorf("source %q: invalid pattern: %w", s.Name, err)
			}
		}
		if (s.Listing != "" || s.GitHub != "") && s.Pattern == "" {
			return fmt.Errorf("source %q: %s sources require a pattern", s.Name, s.Kind())
		}
		if s.GitHub != "" && len(strings.Split(s.GitHub, "/")) != 2 {
			return fmt.Errorf("source %q: github must be an owner/repo slug", s.Name)
		}
		if s.Tag != "" && s.GitHub == "" {
			return fmt.Errorf("source %q: tag only applies to github sources", s.Name)
		}
		if s.Build != nil && s.Path == "" {
			return fmt.Errorf("source %q: build requires a path source for its artifacts", s.Name)
		}
		if s.SHA256 != "" && len(s.SHA256) != 64 {
			return fmt.Errorf("source %q: sha256 must be 64 hex characters", s.Name)
		}
	}
	return nil
}
