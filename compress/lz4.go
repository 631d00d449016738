package compress

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pierrec/lz4/v4"
)

// maxLZ4Size bounds the decompression buffer; LZ4 blocks do not record
// their decompressed size.
const maxLZ4Size = 128 * 1024 * 1024

var lz4CompressorPool = sync.Pool{
	New: func() any {
		return &lz4.Compressor{}
	},
}

// LZ4Compressor provides LZ4 block compression.
type LZ4Compressor struct{}

var _ Codec = (*LZ4Compressor)(nil)

// NewLZ4Compressor returns an LZ4 codec.
func NewLZ4Compressor() LZ4Compressor {
	return LZ4Compressor{}
}

// Compress compresses data as a single LZ4 block using a pooled compressor.
func (c LZ4Compressor) Compress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))

	lc, _ := lz4CompressorPool.Get().(*lz4.Compressor)
	defer lz4CompressorPool.Put(lc)

	n, err := lc.CompressBlock(data, dst)
	if err != nil {
		return nil, err
	}
	return dst[:n], nil
}

// Decompress decompresses an LZ4 block. The output buffer starts at four
// times the input and doubles on ErrInvalidSourceShortBuffer up to maxLZ4Size.
func (c LZ4Compressor) Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}

	for bufSize := len(data) * 4; bufSize <= maxLZ4Size; bufSize *= 2 {
		buf := make([]byte, bufSize)
		n, err := lz4.UncompressBlock(data, buf)
		if err == nil {
			return buf[:n], nil
		}
		if !errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
			return nil, err
		}
	}
	return nil, lz4.ErrInvalidSourceShortBuffer
}

// DecompressSized decompresses an LZ4 block into a buffer of exactly size
// bytes.
func (c LZ4Compressor) DecompressSized(data []byte, size int) ([]byte, error) {
	if len(data) == 0 {
		if size != 0 {
			return nil, sizeMismatch(0, size)
		}
		return nil, nil
	}
	buf := make([]byte, size)
	n, err := lz4.UncompressBlock(data, buf)
	if errors.Is(err, lz4.ErrInvalidSourceShortBuffer) {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrSizeMismatch, size)
	}
	if err != nil {
		return nil, err
	}
	if n != size {
		return nil, sizeMismatch(n, size)
	}
	return buf, nil
}
