// Package toolchain describes how the AVR toolchain's symbolic links are
// normalized after it is copied into the resources tree.
package toolchain

import (
	"errors"
	"fmt"
	"path/filepath"
)

var (
	errEmptyRepair  = errors.New("repair has neither prefix nor aliases")
	errUnsafeRepair = errors.New("repair path escapes the toolchain root")
)

// Alias is a single link name and the file it must point to.
type Alias struct {
	Link   string `yaml:"link"`
	Target string `yaml:"target"`
}

// Repair lists the link rules applied to one directory of the toolchain.
type Repair struct {
	// Dir is relative to the toolchain root.
	Dir string `yaml:"dir"`
	// Prefix, when set, turns every entry NAME into a link to TargetDir/Prefix+NAME.
	Prefix string `yaml:"prefix,omitempty"`
	// TargetDir is where prefixed targets live, relative to Dir. Empty means Dir itself.
	TargetDir string `yaml:"target_dir,omitempty"`
	// Aliases are removed and recreated as links after the prefix rule ran.
	Aliases []Alias `yaml:"aliases,omitempty"`
}

// Validate checks that the repair does something and stays inside the toolchain.
func (r Repair) Validate() error {
	if r.Prefix == "" && len(r.Aliases) == 0 {
		return fmt.Errorf("%q: %w", r.Dir, errEmptyRepair)
	}

	if !filepath.IsLocal(r.Dir) {
		return fmt.Errorf("%q: %w", r.Dir, errUnsafeRepair)
	}

	for _, alias := range r.Aliases {
		if alias.Link == "" || alias.Target == "" || filepath.Base(alias.Link) != alias.Link {
			return fmt.Errorf("alias %q -> %q in %q: %w", alias.Link, alias.Target, r.Dir, errUnsafeRepair)
		}
	}

	return nil
}

// DefaultAVRRepairs returns the fixed table for the Arduino 1.8.x avr-gcc 7.3.0 toolchain.
func DefaultAVRRepairs() []Repair {
	return []Repair{
		{
			Dir:       "avr/bin",
			Prefix:    "avr-",
			TargetDir: "../../bin",
		},
		{
			Dir: "bin",
			Aliases: []Alias{
				{Link: "avr-c++", Target: "avr-g++"},
				{Link: "avr-gcc-7.3.0", Target: "avr-gcc"},
				{Link: "avr-ld", Target: "avr-ld.bfd"},
			},
		},
		{
			Dir: "lib",
			Aliases: []Alias{
				{Link: "libcc1.so", Target: "libcc1.so.0.0.0"},
				{Link: "libcc1.so.0", Target: "libcc1.so.0.0.0"},
			},
		},
		{
			Dir: "libexec/gcc/avr/7.3.0",
			Aliases: []Alias{
				{Link: "liblto_plugin.so", Target: "liblto_plugin.so.0.0.0"},
				{Link: "liblto_plugin.so.0", Target: "liblto_plugin.so.0.0.0"},
			},
		},
	}
}
