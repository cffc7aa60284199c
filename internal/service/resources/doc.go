// Package resources assembles the ml resources tree handed to the packager.
//
// The tree is rebuilt from scratch on every run: the mBlock template is
// copied, the bundled AVR toolchain is swapped for the Arduino one and the
// toolchain's symbolic links are normalized with a repair table. All paths
// are explicit; the working directory is never changed.
package resources
