package index

import (
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"path/filepath"
)

// Vector file layout: a fixed little-endian header followed by the payload.
//
//	0  magic "FRV1"
//	4  uint16 schema version
//	6  uint8  compression
//	7  uint8  reserved
//	8  uint32 dimension
//	12 uint32 vector count
//	16 uint64 payload length
//	24 uint32 CRC32 (IEEE) of the payload
//	28 uint32 reserved
const (
	vectorMagic      = "FRV1"
	vectorHeaderSize = 32
)

// SchemaVersion is the on-disk format version of a persisted index.
const SchemaVersion = 1

type vectorHeader struct {
	version     uint16
	compression Compression
	dimension   uint32
	count       uint32
	payloadLen  uint64
	checksum    uint32
}

func (h vectorHeader) encode() []byte {
	buf := make([]byte, vectorHeaderSize)
	copy(buf[0:4], vectorMagic)
	binary.LittleEndian.PutUint16(buf[4:], h.version)
	buf[6] = byte(h.compression)
	binary.LittleEndian.PutUint32(buf[8:], h.dimension)
	binary.LittleEndian.PutUint32(buf[12:], h.count)
	binary.LittleEndian.PutUint64(buf[16:], h.payloadLen)
	binary.LittleEndian.PutUint32(buf[24:], h.checksum)
	return buf
}

func decodeVectorHeader(buf []byte) (vectorHeader, error) {
	if len(buf) < vectorHeaderSize {
		return vectorHeader{}, errors.New("file shorter than header")
	}
	if string(buf[0:4]) != vectorMagic {
		return vectorHeader{}, fmt.Errorf("bad magic %q", buf[0:4])
	}
	h := vectorHeader{
		version:     binary.LittleEndian.Uint16(buf[4:]),
		compression: Compression(buf[6]),
		dimension:   binary.LittleEndian.Uint32(buf[8:]),
		count:       binary.LittleEndian.Uint32(buf[12:]),
		payloadLen:  binary.LittleEndian.Uint64(buf[16:]),
		checksum:    binary.LittleEndian.Uint32(buf[24:]),
	}
	if h.version != SchemaVersion {
		return vectorHeader{}, fmt.Errorf("schema version %d, expected %d", h.version, SchemaVersion)
	}
	return h, nil
}

func encodeFloats(values []float32) []byte {
	buf := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

func decodeFloats(buf []byte) []float32 {
	values := make([]float32, len(buf)/4)
	for i := range values {
		values[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return values
}

// writeVectorFile atomically writes vectors (row-major, count×dimension) to path.
func writeVectorFile(path string, dimension, count int, vectors []float32, c Compression) error {
	payload, used, err := compress(encodeFloats(vectors), c)
	if err != nil {
		return fmt.Errorf("compressing vectors: %w", err)
	}

	header := vectorHeader{
		version:     SchemaVersion,
		compression: used,
		dimension:   uint32(dimension),
		count:       uint32(count),
		payloadLen:  uint64(len(payload)),
		checksum:    crc32.ChecksumIEEE(payload),
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".vectors-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(header.encode()); err != nil {
		tmp.Close()
		return err
	}
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// readVectorFile reads and verifies a vector file. Every failure other than
// I/O on an existing file means the file is corrupt.
func readVectorFile(path string) (vectorHeader, []float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return vectorHeader{}, nil, err
	}
	defer f.Close()

	buf := make([]byte, vectorHeaderSize)
	if _, err := io.ReadFull(f, buf); err != nil {
		return vectorHeader{}, nil, fmt.Errorf("reading header: %w", err)
	}
	header, err := decodeVectorHeader(buf)
	if err != nil {
		return vectorHeader{}, nil, err
	}

	payload, err := io.ReadAll(f)
	if err != nil {
		return vectorHeader{}, nil, err
	}
	if uint64(len(payload)) != header.payloadLen {
		return vectorHeader{}, nil, fmt.Errorf("payload is %d bytes, header says %d", len(payload), header.payloadLen)
	}
	if crc32.ChecksumIEEE(payload) != header.checksum {
		return vectorHeader{}, nil, errors.New("checksum mismatch")
	}

	rawSize := 4 * int(header.dimension) * int(header.count)
	raw, err := decompress(payload, header.compression, rawSize)
	if err != nil {
		return vectorHeader{}, nil, fmt.Errorf("decompressing %s payload: %w", header.compression, err)
	}
	return header, decodeFloats(raw), nil
}
