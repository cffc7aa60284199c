// Package stager prepares the build directory consumed by the IDE packager.
//
// A run is a single linear sequence: create the build root, extract the
// operator-provided mBlock installer, download and unpack the Arduino
// distribution, then rebuild the ml resources tree with the Arduino AVR
// toolchain. Each artifact phase is skipped when its output directory already
// exists, so re-running after a failure only redoes the missing work.
package stager
