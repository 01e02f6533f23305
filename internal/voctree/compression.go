package voctree

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects the codec applied to a saved database payload.
type Compression uint8

const (
	CompressionNone Compression = 0
	// CompressionLZ4 favours load speed.
	CompressionLZ4 Compression = 1
	// CompressionZSTD favours size.
	CompressionZSTD Compression = 2
)

// ParseCompression maps a config name ("", "none", "lz4", "zstd") to a codec.
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", uint8(c))
	}
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() *zstd.Encoder {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder)
	}
	enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	return enc
}

func getZstdDecoder() *zstd.Decoder {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder)
	}
	dec, _ := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(maxPayloadSize))
	return dec
}

// maxLZ4Ratio is the largest expansion an LZ4 block can encode.
const maxLZ4Ratio = 255

// maxPrealloc caps the output buffer reserved from an unverified size field.
const maxPrealloc = 64 << 20

// blockHeaderSize covers [uncompressed u32][compressed u32]; a compressed
// size of 0 means the data follows uncompressed.
const blockHeaderSize = 8

func encodeBlockHeader(uncompressed, compressed int) []byte {
	hdr := make([]byte, blockHeaderSize)
	binary.LittleEndian.PutUint32(hdr[0:], uint32(uncompressed))
	binary.LittleEndian.PutUint32(hdr[4:], uint32(compressed))
	return hdr
}

// compressPayload returns the bytes to store and their compressed size, 0
// when compression did not help.
func compressPayload(data []byte, c Compression) ([]byte, int, error) {
	var compressed []byte
	switch c {
	case CompressionNone:
		return data, 0, nil
	case CompressionLZ4:
		buf := make([]byte, lz4.CompressBlockBound(len(data)))
		n, err := lz4.CompressBlock(data, buf, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		compressed = buf[:n]
	case CompressionZSTD:
		enc := getZstdEncoder()
		compressed = enc.EncodeAll(data, nil)
		zstdEncoderPool.Put(enc)
	default:
		return nil, 0, fmt.Errorf("unsupported compression %s", c)
	}
	if len(compressed) == 0 || len(compressed) >= len(data) {
		return data, 0, nil
	}
	return compressed, len(compressed), nil
}

func decompressPayload(data []byte, uncompressedSize int, c Compression) ([]byte, error) {
	switch c {
	case CompressionLZ4:
		if uncompressedSize > len(data)*maxLZ4Ratio+16 {
			return nil, fmt.Errorf("lz4 block of %d bytes cannot expand to %d", len(data), uncompressedSize)
		}
		out := make([]byte, uncompressedSize)
		n, err := lz4.UncompressBlock(data, out)
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if n != uncompressedSize {
			return nil, errors.New("lz4 decompressed size mismatch")
		}
		return out, nil
	case CompressionZSTD:
		dec := getZstdDecoder()
		defer zstdDecoderPool.Put(dec)
		out, err := dec.DecodeAll(data, make([]byte, 0, min(uncompressedSize, maxPrealloc)))
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(out) != uncompressedSize {
			return nil, errors.New("zstd decompressed size mismatch")
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported compression %s", c)
	}
}
