package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm used for a block.
type Compression uint8

const (
	// None stores the block uncompressed.
	None Compression = 0
	// LZ4 uses LZ4 block compression (fast).
	LZ4 Compression = 1
	// ZSTD uses zstd (better ratio).
	ZSTD Compression = 2
)

func (c Compression) String() string {
	switch c {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case ZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("compression(%d)", uint8(c))
	}
}

// Valid reports whether c is a known algorithm.
func (c Compression) Valid() bool {
	return c <= ZSTD
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// blockHeaderSize is [Compression u8][RawSize u32][StoredSize u32].
const blockHeaderSize = 9

// Compress encodes data as a self-describing block.
// If compression does not save at least 10%, the block is stored uncompressed.
func Compress(data []byte, c Compression) ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, c)
	}

	var (
		stored []byte
		err    error
	)
	switch c {
	case LZ4:
		stored, err = compressLZ4(data)
	case ZSTD:
		stored, err = compressZSTD(data)
	}
	if err != nil {
		return nil, err
	}

	if c == None || len(stored) == 0 || float64(len(stored)) > float64(len(data))*0.9 {
		c = None
		stored = data
	}

	out := make([]byte, blockHeaderSize+len(stored))
	out[0] = byte(c)
	binary.LittleEndian.PutUint32(out[1:5], uint32(len(data)))
	binary.LittleEndian.PutUint32(out[5:9], uint32(len(stored)))
	copy(out[blockHeaderSize:], stored)
	return out, nil
}

func compressLZ4(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, nil
	}
	dst := make([]byte, lz4.CompressBlockBound(len(data)))
	n, err := lz4.CompressBlock(data, dst, nil)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return nil, nil // incompressible
	}
	return dst[:n], nil
}

func compressZSTD(data []byte) ([]byte, error) {
	enc, err := getZstdEncoder()
	if err != nil {
		return nil, err
	}
	defer zstdEncoderPool.Put(enc)
	return enc.EncodeAll(data, nil), nil
}

// Decompress decodes a block produced by Compress.
func Decompress(block []byte) ([]byte, error) {
	if len(block) < blockHeaderSize {
		return nil, fmt.Errorf("%w: block too small for header", ErrCorrupt)
	}
	c := Compression(block[0])
	rawSize := binary.LittleEndian.Uint32(block[1:5])
	storedSize := binary.LittleEndian.Uint32(block[5:9])

	if uint64(len(block)-blockHeaderSize) != uint64(storedSize) {
		return nil, fmt.Errorf("%w: block size %d, header says %d", ErrCorrupt, len(block)-blockHeaderSize, storedSize)
	}
	stored := block[blockHeaderSize:]

	switch c {
	case None:
		if rawSize != storedSize {
			return nil, fmt.Errorf("%w: uncompressed block size mismatch", ErrCorrupt)
		}
		out := make([]byte, rawSize)
		copy(out, stored)
		return out, nil

	case LZ4:
		out := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, out)
		if err != nil {
			return nil, fmt.Errorf("%w: lz4: %v", ErrCorrupt, err)
		}
		if uint32(n) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil

	case ZSTD:
		dec, err := getZstdDecoder()
		if err != nil {
			return nil, err
		}
		defer zstdDecoderPool.Put(dec)

		out, err := dec.DecodeAll(stored, make([]byte, 0, rawSize))
		if err != nil {
			return nil, fmt.Errorf("%w: zstd: %v", ErrCorrupt, err)
		}
		if uint32(len(out)) != rawSize {
			return nil, fmt.Errorf("%w: decompressed size mismatch", ErrCorrupt)
		}
		return out, nil

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownCompression, c)
	}
}
