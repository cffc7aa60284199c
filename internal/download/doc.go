// Package download fetches remote artifacts over HTTP.
//
// A download is streamed to a ".part" file next to its destination and
// renamed once complete. An optional checksum is computed on the fly.
// There is no retry and no resume: a failed download leaves nothing behind.
package download
