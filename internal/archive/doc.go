// Package archive unpacks the staged artifacts.
//
// Remote tarballs go through Run, a pipeline of byte-stream stages joined
// by io.Pipe: the file is read, decoded (xz, zstd, gzip or lz4) and unpacked
// without the decompressed tar ever touching the disk. The first failing
// stage aborts the others and its error is the one returned.
//
// Local installers are handed to SevenZip, which shells out to a 7-zip binary.
package archive
