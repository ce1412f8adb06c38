// Stream compression of blob files.

package jsonldb

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies the algorithm used for a blob file. The tag is
// stored as the first byte of every blob file so the reader does not depend
// on the current table setting.
type Compression uint8

const (
	// CompressionNone stores blob content as is.
	CompressionNone Compression = 0
	// CompressionLZ4 uses the lz4 frame format. Fast, modest ratio.
	CompressionLZ4 Compression = 1
	// CompressionZstd uses zstd at the default level. Better ratio on text.
	CompressionZstd Compression = 2
)

// String returns the human-readable name of a compression.
func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", c)
	}
}

// ParseCompression parses a compression from its string representation.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "", "none":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression: %q", name)
	}
}

// compressWriter wraps w so that bytes written are compressed with c. The
// tag byte must already have been written to w.
func compressWriter(w io.Writer, c Compression) (io.WriteCloser, error) {
	switch c {
	case CompressionNone:
		return nopWriteCloser{w}, nil
	case CompressionLZ4:
		return lz4.NewWriter(w), nil
	case CompressionZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("zstd writer: %w", err)
		}
		return enc, nil
	default:
		return nil, fmt.Errorf("unsupported compression: %d", c)
	}
}

// decompressReader reads the tag byte from r and returns a reader of the
// uncompressed content.
func decompressReader(r io.ReadCloser) (io.ReadCloser, error) {
	br := bufio.NewReader(r)
	tag, err := br.ReadByte()
	if err != nil {
		_ = r.Close()
		return nil, fmt.Errorf("failed to read blob header: %w", err)
	}
	switch Compression(tag) {
	case CompressionNone:
		return &readCloser{Reader: br, closer: r.Close}, nil
	case CompressionLZ4:
		return &readCloser{Reader: lz4.NewReader(br), closer: r.Close}, nil
	case CompressionZstd:
		dec, err := zstd.NewReader(br)
		if err != nil {
			_ = r.Close()
			return nil, fmt.Errorf("zstd reader: %w", err)
		}
		return &readCloser{Reader: dec, closer: func() error {
			dec.Close()
			return r.Close()
		}}, nil
	default:
		_ = r.Close()
		return nil, fmt.Errorf("unsupported blob compression tag: %d", tag)
	}
}

type nopWriteCloser struct {
	io.Writer
}

func (nopWriteCloser) Close() error { return nil }

type readCloser struct {
	io.Reader
	closer func() error
}

func (r *readCloser) Close() error { return r.closer() }
