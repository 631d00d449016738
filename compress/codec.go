package compress

import (
	"errors"
	"fmt"
	"strings"
)

// MaxDecompressedSize caps the memory a decoder may use for one payload.
const MaxDecompressedSize = 1 << 30

var (
	// ErrUnknownType is returned for an unsupported compression type.
	ErrUnknownType = errors.New("unknown compression type")

	// ErrSizeMismatch is returned by DecompressSized when the data does not
	// decompress to exactly the expected size.
	ErrSizeMismatch = errors.New("decompressed size mismatch")
)

// Type identifies a compression algorithm. The value is stored in snapshot
// headers, so existing values must never change.
type Type uint8

const (
	None Type = 0x1 // None represents no compression.
	Zstd Type = 0x2 // Zstd represents Zstandard compression.
	S2   Type = 0x3 // S2 represents S2 compression.
	LZ4  Type = 0x4 // LZ4 represents LZ4 compression.
)

func (t Type) String() string {
	switch t {
	case None:
		return "none"
	case Zstd:
		return "zstd"
	case S2:
		return "s2"
	case LZ4:
		return "lz4"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// ParseType parses an algorithm name as printed by Type.String.
// The empty string selects None.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return None, nil
	case "zstd":
		return Zstd, nil
	case "s2":
		return S2, nil
	case "lz4":
		return LZ4, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownType, s)
	}
}

// UnmarshalText implements encoding.TextUnmarshaler so a Type can be read
// straight from configuration files.
func (t *Type) UnmarshalText(text []byte) error {
	parsed, err := ParseType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (t Type) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// Compressor compresses a complete encoded payload.
//
// The returned slice is owned by the caller and the input is not modified,
// except for the None codec which returns its input as is.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
}

// Decompressor reverses a Compressor. It returns an error when data is
// corrupted or was produced by another algorithm.
type Decompressor interface {
	Decompress(data []byte) ([]byte, error)
}

// SizedDecompressor decompresses data whose decompressed size is known up
// front. It never allocates more than size bytes for the output.
type SizedDecompressor interface {
	DecompressSized(data []byte, size int) ([]byte, error)
}

// Codec combines both directions.
type Codec interface {
	Compressor
	Decompressor
	SizedDecompressor
}

func sizeMismatch(got, want int) error {
	return fmt.Errorf("%w: got %d bytes, want %d", ErrSizeMismatch, got, want)
}

// CreateCodec returns a new Codec for t. target names the payload in error
// messages.
func CreateCodec(t Type, target string) (Codec, error) {
	switch t {
	case None:
		return NewNoOpCompressor(), nil
	case Zstd:
		return NewZstdCompressor(), nil
	case S2:
		return NewS2Compressor(), nil
	case LZ4:
		return NewLZ4Compressor(), nil
	default:
		return nil, fmt.Errorf("invalid %s compression: %w: %s", target, ErrUnknownType, t)
	}
}

var builtinCodecs = map[Type]Codec{
	None: NewNoOpCompressor(),
	Zstd: NewZstdCompressor(),
	S2:   NewS2Compressor(),
	LZ4:  NewLZ4Compressor(),
}

// GetCodec returns the shared built-in Codec for t.
func GetCodec(t Type) (Codec, error) {
	if codec, ok := builtinCodecs[t]; ok {
		return codec, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
}
