package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/mblock-stager/internal/domain/toolchain"
)

// Config holds every path, version and URL the stager works with.
type Config struct {
	// BuildDir is the working directory all artifacts are staged into.
	BuildDir string `yaml:"build_dir"`
	// MBlock describes the locally provided application installer.
	MBlock MBlock `yaml:"mblock"`
	// Arduino describes the downloaded Arduino distribution.
	Arduino Arduino `yaml:"arduino"`
	// Resources describes how the ml resources tree is assembled.
	Resources Resources `yaml:"resources"`
}

// MBlock settings.
type MBlock struct {
	// Version of the Windows installer.
	Version string `yaml:"version"`
	// Installer is the installer path, relative to the project root.
	Installer string `yaml:"installer"`
	// Extractor is the 7-zip binary used to unpack the installer.
	Extractor string `yaml:"extractor"`
}

// Arduino settings.
type Arduino struct {
	// Version of the Arduino IDE distribution.
	Version string `yaml:"version"`
	// URL of the tarball. Its base name is kept for the downloaded file.
	URL string `yaml:"url"`
	// Checksum optionally pins the tarball, e.g. "sha512:<hex>".
	Checksum string `yaml:"checksum,omitempty"`
	// Timeout bounds the whole download. Zero disables it.
	Timeout time.Duration `yaml:"timeout,omitempty"`
}

// Resources settings. Relative paths are resolved as documented per field.
type Resources struct {
	// Template is the resources subtree inside the extracted mBlock directory.
	Template string `yaml:"template"`
	// Output is the assembled tree inside BuildDir.
	Output string `yaml:"output"`
	// Toolchain is where the AVR toolchain lives inside Output.
	Toolchain string `yaml:"toolchain"`
	// ToolchainSource is the AVR toolchain inside the extracted Arduino directory.
	ToolchainSource string `yaml:"toolchain_source"`
	// Symlinks is the repair table applied to the copied toolchain.
	Symlinks []toolchain.Repair `yaml:"symlinks"`
}

const (
	// DefaultConfigFilename is the default settings file name.
	DefaultConfigFilename = "mblock-stager.yaml"

	// DefaultBuildDir is the default working directory.
	DefaultBuildDir = "build"

	// DefaultMBlockVersion is the mBlock release the resources come from.
	DefaultMBlockVersion = "5.6.0"

	// DefaultArduinoVersion is the Arduino release the toolchain comes from.
	DefaultArduinoVersion = "1.8.19"

	// DefaultExtractor is the 7-zip binary looked up in PATH.
	DefaultExtractor = "7za"

	// DefaultFilePermissions is the permission of written settings files.
	DefaultFilePermissions = 0o600

	// arduinoURLPattern receives the Arduino version.
	arduinoURLPattern = "https://downloads.arduino.cc/arduino-%s-linuxaarch64.tar.xz"

	defaultTemplate        = "resources/ml"
	defaultOutput          = "ml"
	defaultToolchain       = "v1/external/arduino/avr-toolchain"
	defaultToolchainSource = "hardware/tools/avr"
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errUnsafePath is returned when a relative setting points outside its root.
	errUnsafePath = errors.New("path must stay inside its parent directory")
	// errInvalidURL is returned for a non-HTTP(S) Arduino URL.
	errInvalidURL = errors.New("arduino url must be an absolute http(s) url")
)

// Default returns a validated configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	//nolint:errcheck // Defaults always validate.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from path and validates it.
// A missing DefaultConfigFilename yields Default; a missing explicit file is an error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if errors.Is(err, os.ErrNotExist) && path == DefaultConfigFilename {
		return Default(), nil
	}

	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err = yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err = Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Save writes cfg to path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks formats.
//
//nolint:cyclop // A flat list of defaults reads better than helpers.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if cfg.BuildDir == "" {
		cfg.BuildDir = DefaultBuildDir
	}

	if cfg.MBlock.Version == "" {
		cfg.MBlock.Version = DefaultMBlockVersion
	}

	if cfg.MBlock.Installer == "" {
		cfg.MBlock.Installer = "V" + cfg.MBlock.Version + ".exe"
	}

	if cfg.MBlock.Extractor == "" {
		cfg.MBlock.Extractor = DefaultExtractor
	}

	if cfg.Arduino.Version == "" {
		cfg.Arduino.Version = DefaultArduinoVersion
	}

	if cfg.Arduino.URL == "" {
		cfg.Arduino.URL = fmt.Sprintf(arduinoURLPattern, cfg.Arduino.Version)
	}

	u, err := url.ParseRequestURI(cfg.Arduino.URL)
	if err != nil {
		return fmt.Errorf("invalid arduino url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return fmt.Errorf("%q: %w", cfg.Arduino.URL, errInvalidURL)
	}

	if cfg.Arduino.Timeout < 0 {
		cfg.Arduino.Timeout = 0
	}

	return validateResources(&cfg.Resources)
}

func validateResources(res *Resources) error {
	defaults := []struct {
		value    *string
		fallback string
	}{
		{&res.Template, defaultTemplate},
		{&res.Output, defaultOutput},
		{&res.Toolchain, defaultToolchain},
		{&res.ToolchainSource, defaultToolchainSource},
	}

	for _, d := range defaults {
		if *d.value == "" {
			*d.value = d.fallback
		}

		if !filepath.IsLocal(*d.value) {
			return fmt.Errorf("resources path %q: %w", *d.value, errUnsafePath)
		}
	}

	if len(res.Symlinks) == 0 {
		res.Symlinks = toolchain.DefaultAVRRepairs()
	}

	for _, repair := range res.Symlinks {
		if err := repair.Validate(); err != nil {
			return fmt.Errorf("invalid symlink repair: %w", err)
		}
	}

	return nil
}

// MBlockDir is where the installer is extracted.
func (c *Config) MBlockDir() string {
	return filepath.Join(c.BuildDir, "mBlock")
}

// ArduinoDownloadDir receives the tarball and its extracted tree.
func (c *Config) ArduinoDownloadDir() string {
	return filepath.Join(c.BuildDir, "arduino")
}

// ArduinoDir is the directory the tarball unpacks to.
func (c *Config) ArduinoDir() string {
	return filepath.Join(c.ArduinoDownloadDir(), "arduino-"+c.Arduino.Version)
}

// TemplateDir is the base resources tree copied into ResourcesDir.
func (c *Config) TemplateDir() string {
	return filepath.Join(c.MBlockDir(), c.Resources.Template)
}

// ResourcesDir is the assembled tree consumed by the packager.
func (c *Config) ResourcesDir() string {
	return filepath.Join(c.BuildDir, c.Resources.Output)
}

// ToolchainSourceDir is the replacement toolchain inside the Arduino tree.
func (c *Config) ToolchainSourceDir() string {
	return filepath.Join(c.ArduinoDir(), c.Resources.ToolchainSource)
}
