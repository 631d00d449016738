package compress

// NoOpCompressor passes data through untouched.
type NoOpCompressor struct{}

var _ Codec = (*NoOpCompressor)(nil)

// NewNoOpCompressor returns a pass-through codec.
func NewNoOpCompressor() NoOpCompressor {
	return NoOpCompressor{}
}

// Compress returns data itself. The result shares memory with the input.
func (c NoOpCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

// Decompress returns data itself. The result shares memory with the input.
func (c NoOpCompressor) Decompress(data []byte) ([]byte, error) {
	return data, nil
}

// DecompressSized returns data itself when it is size bytes long.
func (c NoOpCompressor) DecompressSized(data []byte, size int) ([]byte, error) {
	if len(data) != size {
		return nil, sizeMismatch(len(data), size)
	}
	return data, nil
}
