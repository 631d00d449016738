package snapshot

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/alesr/tidslinje/compress"
)

const (
	magic   = "TLSN"
	version = 1

	headerSize  = 4 + 1 + 1 + 2 + 4 + 16 + 16 + 8 + 4
	trailerSize = 8
)

// MaxBodySize is the largest uncompressed body Decode accepts.
const MaxBodySize = 512 << 20

type encodeConfig struct {
	compression compress.Type
}

// EncodeOption configures Encode.
type EncodeOption func(*encodeConfig)

// WithCompression selects the body compression. The default is compress.None.
func WithCompression(t compress.Type) EncodeOption {
	return func(c *encodeConfig) {
		c.compression = t
	}
}

// Encode serializes s into a blob.
func Encode(s *Snapshot, opts ...EncodeOption) ([]byte, error) {
	cfg := encodeConfig{compression: compress.None}
	for _, opt := range opts {
		opt(&cfg)
	}

	codec, err := compress.GetCodec(cfg.compression)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}

	body := encodeBody(s.Entries)
	compressed, err := codec.Compress(body)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: compress body: %w", err)
	}

	out := make([]byte, 0, headerSize+len(compressed)+trailerSize)
	out = append(out, magic...)
	out = append(out, version, byte(cfg.compression), 0, 0)
	out = binary.LittleEndian.AppendUint32(out, uint32(len(s.Entries)))
	out = append(out, s.ID[:]...)
	out = append(out, s.Source[:]...)
	out = binary.LittleEndian.AppendUint64(out, uint64(s.Created.UnixNano()))
	out = binary.LittleEndian.AppendUint32(out, uint32(len(body)))
	out = append(out, compressed...)
	out = binary.LittleEndian.AppendUint64(out, xxhash.Sum64(body))
	return out, nil
}

func encodeBody(entries []Entry) []byte {
	size := 0
	for _, e := range entries {
		size += 12 + len(e.Payload)
	}

	body := make([]byte, 0, size)
	for _, e := range entries {
		body = binary.LittleEndian.AppendUint64(body, math.Float64bits(e.Timestamp))
		body = binary.LittleEndian.AppendUint32(body, uint32(len(e.Payload)))
		body = append(body, e.Payload...)
	}
	return body
}

// Decode parses a blob produced by Encode.
func Decode(data []byte) (*Snapshot, error) {
	if len(data) < headerSize+trailerSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrCorrupt, len(data))
	}
	if !bytes.Equal(data[:4], []byte(magic)) {
		return nil, ErrInvalidMagic
	}
	if v := data[4]; v != version {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}

	codec, err := compress.GetCodec(compress.Type(data[5]))
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}

	count := binary.LittleEndian.Uint32(data[8:])
	s := &Snapshot{}
	copy(s.ID[:], data[12:28])
	copy(s.Source[:], data[28:44])
	s.Created = time.Unix(0, int64(binary.LittleEndian.Uint64(data[44:])))
	bodyLen := binary.LittleEndian.Uint32(data[52:])

	payload := data[headerSize : len(data)-trailerSize]
	checksum := binary.LittleEndian.Uint64(data[len(data)-trailerSize:])

	if bodyLen > MaxBodySize {
		return nil, fmt.Errorf("%w: body of %d bytes exceeds %d", ErrCorrupt, bodyLen, MaxBodySize)
	}

	body, err := codec.DecompressSized(payload, int(bodyLen))
	if errors.Is(err, compress.ErrSizeMismatch) {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	if xxhash.Sum64(body) != checksum {
		return nil, ErrChecksumMismatch
	}

	s.Entries, err = decodeBody(body, count)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func decodeBody(body []byte, count uint32) ([]Entry, error) {
	entries := make([]Entry, 0, min(int(count), len(body)/12))
	for i := range count {
		if len(body) < 12 {
			return nil, fmt.Errorf("%w: entry %d truncated", ErrCorrupt, i)
		}
		ts := math.Float64frombits(binary.LittleEndian.Uint64(body))
		n := binary.LittleEndian.Uint32(body[8:])
		body = body[12:]
		if uint32(len(body)) < n {
			return nil, fmt.Errorf("%w: entry %d payload truncated", ErrCorrupt, i)
		}
		entries = append(entries, Entry{
			Timestamp: ts,
			Payload:   bytes.Clone(body[:n]),
		})
		body = body[n:]
	}
	if len(body) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(body))
	}
	return entries, nil
}

