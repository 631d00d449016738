package compress

// ZstdCompressor provides Zstandard compression. It favours ratio over
// speed, which suits snapshots written to disk or sent over slow links.
type ZstdCompressor struct{}

var _ Codec = (*ZstdCompressor)(nil)

// NewZstdCompressor returns a Zstd codec with default settings.
func NewZstdCompressor() ZstdCompressor {
	return ZstdCompressor{}
}
