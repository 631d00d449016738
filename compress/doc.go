// Package compress provides the codecs used to shrink encoded timeline
// snapshots before they are written to disk or sent to an exporter.
//
// Supported algorithms:
//   - None: no compression
//   - Zstd: best ratio, moderate speed
//   - S2: balanced speed and ratio
//   - LZ4: fastest decompression
//
// Zstd uses the pure Go klauspost implementation by default. Building with
// the gozstd tag (and cgo enabled) switches to the libzstd binding.
//
// All codecs are safe for concurrent use.
package compress
