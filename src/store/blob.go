package store

import (
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// Values larger than compressThreshold are stored zstd-compressed. Every
// stored value starts with a one-byte tag saying which form follows.
const (
	compressThreshold = 1024

	blobRaw  byte = 0
	blobZstd byte = 1
)

// zstd.Encoder and zstd.Decoder are safe for concurrent use through
// EncodeAll/DecodeAll.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil)
	if err != nil {
		panic("store: zstd decoder initialization failed: " + err.Error())
	}
}

func packBlob(data []byte) []byte {
	if len(data) > compressThreshold {
		compressed := zstdEncoder.EncodeAll(data, []byte{blobZstd})
		if len(compressed) < len(data) {
			return compressed
		}
	}
	out := make([]byte, 0, len(data)+1)
	out = append(out, blobRaw)
	return append(out, data...)
}

func unpackBlob(blob []byte) ([]byte, error) {
	if len(blob) == 0 {
		return nil, fmt.Errorf("empty blob")
	}
	switch blob[0] {
	case blobRaw:
		return blob[1:], nil
	case blobZstd:
		out, err := zstdDecoder.DecodeAll(blob[1:], nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unknown blob tag %d", blob[0])
	}
}
