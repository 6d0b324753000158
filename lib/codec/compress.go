// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Encoding names a payload compression. The values travel in the
// Content-Encoding header of telemetry messages.
type Encoding string

const (
	EncodingIdentity Encoding = "identity"
	EncodingZstd     Encoding = "zstd"
	EncodingLZ4      Encoding = "lz4"
)

// MaxDecompressedSize bounds decompressed payloads. A telemetry record
// is a few kilobytes; anything past this is a corrupt or hostile frame.
const MaxDecompressedSize = 4 << 20

// ParseEncoding maps a header value to an Encoding. Empty means
// identity. Matching is case-insensitive.
func ParseEncoding(value string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "identity", "none":
		return EncodingIdentity, nil
	case "zstd":
		return EncodingZstd, nil
	case "lz4":
		return EncodingLZ4, nil
	default:
		return "", fmt.Errorf("unknown content encoding %q", value)
	}
}

// zstd encoders and decoders are safe for concurrent use and costly to
// build, so one of each is shared.
var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("codec: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecompressedSize))
	if err != nil {
		panic("codec: zstd decoder initialization failed: " + err.Error())
	}
}

// Compress encodes data with the given encoding. Identity returns data
// unchanged.
func Compress(data []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingIdentity, "":
		return data, nil
	case EncodingZstd:
		return zstdEncoder.EncodeAll(data, nil), nil
	case EncodingLZ4:
		var buffer bytes.Buffer
		writer := lz4.NewWriter(&buffer)
		if _, err := writer.Write(data); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		if err := writer.Close(); err != nil {
			return nil, fmt.Errorf("lz4 compress: %w", err)
		}
		return buffer.Bytes(), nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}

// Decompress reverses Compress. LZ4 payloads use the frame format, so
// no out-of-band size is needed. Output beyond MaxDecompressedSize is
// an error.
func Decompress(data []byte, encoding Encoding) ([]byte, error) {
	switch encoding {
	case EncodingIdentity, "":
		return data, nil
	case EncodingZstd:
		output, err := zstdDecoder.DecodeAll(data, nil)
		if err != nil {
			return nil, fmt.Errorf("zstd decompress: %w", err)
		}
		if len(output) > MaxDecompressedSize {
			return nil, fmt.Errorf("zstd decompress: output exceeds %d bytes", MaxDecompressedSize)
		}
		return output, nil
	case EncodingLZ4:
		reader := lz4.NewReader(bytes.NewReader(data))
		output, err := io.ReadAll(io.LimitReader(reader, MaxDecompressedSize+1))
		if err != nil {
			return nil, fmt.Errorf("lz4 decompress: %w", err)
		}
		if len(output) > MaxDecompressedSize {
			return nil, fmt.Errorf("lz4 decompress: output exceeds %d bytes", MaxDecompressedSize)
		}
		return output, nil
	default:
		return nil, fmt.Errorf("unsupported encoding %q", encoding)
	}
}
