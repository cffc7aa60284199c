// Package config defines the stager settings and provides helpers to load,
// validate and save them in YAML format.
//
// Every field has a default matching the mBlock 5.6.0 / Arduino 1.8.19
// build, so a missing default settings file is not an error.
package config
