package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/mblock-stager/internal/domain/toolchain"
)

// TestValidateDefaults checks that an empty config gets the documented defaults.
func TestValidateDefaults(t *testing.T) {
	t.Parallel()

	cfg := new(Config)
	require.NoError(t, Validate(cfg))

	require.Equal(t, "build", cfg.BuildDir)
	require.Equal(t, "V5.6.0.exe", cfg.MBlock.Installer)
	require.Equal(t, "7za", cfg.MBlock.Extractor)
	require.Equal(t, "https://downloads.arduino.cc/arduino-1.8.19-linuxaarch64.tar.xz", cfg.Arduino.URL)
	require.Equal(t, toolchain.DefaultAVRRepairs(), cfg.Resources.Symlinks)

	require.Equal(t, filepath.Join("build", "mBlock"), cfg.MBlockDir())
	require.Equal(t, filepath.Join("build", "arduino", "arduino-1.8.19"), cfg.ArduinoDir())
	require.Equal(t, filepath.Join("build", "mBlock", "resources", "ml"), cfg.TemplateDir())
	require.Equal(t, filepath.Join("build", "ml"), cfg.ResourcesDir())
	require.Equal(t,
		filepath.Join("build", "arduino", "arduino-1.8.19", "hardware", "tools", "avr"),
		cfg.ToolchainSourceDir())
}

// TestValidateVersionDrivesNames ensures derived names follow overridden versions.
func TestValidateVersionDrivesNames(t *testing.T) {
	t.Parallel()

	cfg := &Config{
		MBlock:  MBlock{Version: "5.7.0"},
		Arduino: Arduino{Version: "1.8.20"},
	}
	require.NoError(t, Validate(cfg))
	require.Equal(t, "V5.7.0.exe", cfg.MBlock.Installer)
	require.Contains(t, cfg.Arduino.URL, "arduino-1.8.20-linuxaarch64.tar.xz")
}

// TestValidateRejects covers malformed settings.
func TestValidateRejects(t *testing.T) {
	t.Parallel()

	require.Error(t, Validate(nil))
	require.Error(t, Validate(&Config{Arduino: Arduino{URL: "not a url"}}))
	require.Error(t, Validate(&Config{Arduino: Arduino{URL: "ftp://example.com/a.tar.xz"}}))
	require.Error(t, Validate(&Config{Arduino: Arduino{URL: "https://example.com/"}}))
	require.Error(t, Validate(&Config{Resources: Resources{Output: "../ml"}}))
	require.Error(t, Validate(&Config{Resources: Resources{
		Symlinks: []toolchain.Repair{{Dir: "bin"}},
	}}))
}

// TestSaveLoadRoundtrip ensures settings are persisted and loaded back correctly.
func TestSaveLoadRoundtrip(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "settings.yaml")

	cfg := &Config{
		BuildDir: "out",
		Arduino: Arduino{
			Version:  "1.8.19",
			URL:      "https://mirror.local/arduino.tar.zst",
			Checksum: "sha256:00",
		},
	}

	require.NoError(t, Save(path, cfg))

	info, err := os.Stat(path)
	require.NoError(t, err)
	require.Equal(t, os.FileMode(DefaultFilePermissions), info.Mode().Perm())

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg, loaded)
}

// TestLoadMissing distinguishes the default file from an explicit path.
func TestLoadMissing(t *testing.T) {
	t.Chdir(t.TempDir())

	cfg, err := Load("")
	require.NoError(t, err)
	require.Equal(t, Default(), cfg)

	_, err = Load("absent.yaml")
	require.ErrorIs(t, err, os.ErrNotExist)

	require.ErrorIs(t, Save("x.yaml", nil), errConfigIsNotSet)
}

// TestLoadBadYAML surfaces decoding errors.
func TestLoadBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("build_dir: [unterminated"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}
