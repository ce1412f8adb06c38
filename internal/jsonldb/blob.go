// Content-addressed blobs kept beside a table.

package jsonldb

import (
	"errors"
	"fmt"
	"io"
	"strings"
)

// emptySHA256 is the digest of zero bytes. Empty blobs have no file.
const emptySHA256 = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

var (
	errUnsetBlob   = errors.New("blob is unset")
	errNoBlobStore = errors.New("blob is not bound to a table")
)

// Blob references content stored in the blob directory of a table.
//
// Only the digest and the uncompressed size are persisted in the row. Rows
// holding blobs implement [BlobHolder] so the table can bind them on load and
// keep them alive during [Table.GC].
type Blob struct {
	SHA256 string `json:"sha256,omitempty"`
	Size   int64  `json:"size,omitempty"`

	dir *blobDir
}

// BlobHolder is implemented by row types carrying blobs.
type BlobHolder interface {
	Blobs() []*Blob
}

// IsZero reports whether the blob is unset.
func (b Blob) IsZero() bool {
	return b.SHA256 == ""
}

// Validate checks the digest format. An unset blob is valid.
func (b *Blob) Validate() error {
	if b.IsZero() {
		return nil
	}
	if len(b.SHA256) != 64 || strings.Trim(b.SHA256, "0123456789abcdef") != "" {
		return fmt.Errorf("invalid blob digest %q", b.SHA256)
	}
	if b.Size < 0 || (b.Size == 0) != (b.SHA256 == emptySHA256) {
		return fmt.Errorf("invalid blob size %d for %s", b.Size, b.SHA256)
	}
	return nil
}

// Clone returns a copy bound to the same table.
func (b *Blob) Clone() Blob {
	return *b
}

// Reader streams the uncompressed content. The caller must close it.
func (b *Blob) Reader() (io.ReadCloser, error) {
	switch {
	case b.IsZero():
		return nil, errUnsetBlob
	case b.SHA256 == emptySHA256:
		return io.NopCloser(strings.NewReader("")), nil
	case b.dir == nil:
		return nil, errNoBlobStore
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b.dir.open(b.SHA256)
}
