package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrCorrupt is returned when a frame or block fails validation.
	ErrCorrupt = errors.New("codec: corrupt data")
	// ErrBadMagic is returned when a frame carries an unexpected magic number.
	ErrBadMagic = errors.New("codec: invalid magic")
	// ErrBadVersion is returned when a frame carries an unsupported version.
	ErrBadVersion = errors.New("codec: unsupported version")
	// ErrUnknownCompression is returned for an unknown compression id.
	ErrUnknownCompression = errors.New("codec: unknown compression")
)

// frameHeaderSize is Magic(4) + Version(4) + Checksum(4) + BlockLength(4).
const frameHeaderSize = 16

// WriteFrame writes payload as a checksummed, optionally compressed frame.
//
// Layout:
//
//	Magic       (4 bytes)
//	Version     (4 bytes)
//	Checksum    (4 bytes) - CRC32C of the uncompressed payload
//	BlockLength (4 bytes)
//	Block       - see Compress
func WriteFrame(w io.Writer, magic, version uint32, payload []byte, c Compression) error {
	block, err := Compress(payload, c)
	if err != nil {
		return err
	}

	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[0:4], magic)
	binary.LittleEndian.PutUint32(header[4:8], version)
	binary.LittleEndian.PutUint32(header[8:12], CRC32C(payload))
	binary.LittleEndian.PutUint32(header[12:16], uint32(len(block)))

	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err = w.Write(block)
	return err
}

// ReadFrame reads a frame written by WriteFrame and returns its payload.
// Truncated input yields ErrCorrupt rather than io.EOF.
func ReadFrame(r io.Reader, magic, version uint32) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame header", ErrCorrupt)
		}
		return nil, err
	}

	if m := binary.LittleEndian.Uint32(header[0:4]); m != magic {
		return nil, fmt.Errorf("%w: %#x", ErrBadMagic, m)
	}
	if v := binary.LittleEndian.Uint32(header[4:8]); v != version {
		return nil, fmt.Errorf("%w: %d", ErrBadVersion, v)
	}
	checksum := binary.LittleEndian.Uint32(header[8:12])
	length := binary.LittleEndian.Uint32(header[12:16])

	block := make([]byte, length)
	if _, err := io.ReadFull(r, block); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, fmt.Errorf("%w: truncated frame body", ErrCorrupt)
		}
		return nil, err
	}

	payload, err := Decompress(block)
	if err != nil {
		return nil, err
	}
	if CRC32C(payload) != checksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return payload, nil
}
