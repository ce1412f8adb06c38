package jsonldb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	blobDirSuffix = ".blobs"
	tmpDirName    = "tmp"
)

// blobDir stores blob files as <root>/<sha[:2]>/<sha[2:]>. Each file starts
// with its compression tag. Files being written live in <root>/tmp until
// their digest is known.
type blobDir struct {
	root        string
	compression Compression
}

func (d *blobDir) path(sum string) string {
	return filepath.Join(d.root, sum[:2], sum[2:])
}

func (d *blobDir) create() (*BlobWriter, error) {
	tmp := filepath.Join(d.root, tmpDirName)
	if err := os.MkdirAll(tmp, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create blob tmp directory: %w", err)
	}
	f, err := os.CreateTemp(tmp, "*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create blob: %w", err)
	}
	w := &BlobWriter{dir: d, f: f, sum: sha256.New()}
	if _, err = f.Write([]byte{byte(d.compression)}); err == nil {
		w.zw, err = compressWriter(f, d.compression)
	}
	if err != nil {
		return nil, errors.Join(err, f.Close(), os.Remove(f.Name()))
	}
	return w, nil
}

func (d *blobDir) open(sum string) (io.ReadCloser, error) {
	f, err := os.Open(d.path(sum))
	if err != nil {
		return nil, fmt.Errorf("failed to open blob %s: %w", sum, err)
	}
	return decompressReader(f)
}

// sweep deletes every file whose digest is not in live, stale temporary
// files and anything else that does not belong in the directory.
func (d *blobDir) sweep(live map[string]bool) error {
	var errs []error
	err := filepath.WalkDir(d.root, func(p string, e fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		rel, _ := filepath.Rel(d.root, p)
		if rel == "." {
			return nil
		}
		dir, name := filepath.Split(rel)
		dir = filepath.Clean(dir)
		switch {
		case rel == tmpDirName:
			errs = append(errs, os.RemoveAll(p))
			return fs.SkipDir
		case e.IsDir() && dir == "." && len(name) == 2:
			return nil
		case !e.IsDir() && len(dir) == 2 && live[dir+name]:
			return nil
		}
		errs = append(errs, os.RemoveAll(p))
		if e.IsDir() {
			return fs.SkipDir
		}
		return nil
	})
	return errors.Join(err, errors.Join(errs...))
}

// BlobWriter streams a new blob. The digest covers the uncompressed bytes so
// identical content maps to one file whatever the compression.
//
// Call [BlobWriter.Close] to publish the blob or [BlobWriter.Abort] to drop it.
type BlobWriter struct {
	dir *blobDir
	f   *os.File // nil once closed or aborted
	zw  io.WriteCloser
	sum hash.Hash
	n   int64
}

// Write implements io.Writer.
func (w *BlobWriter) Write(p []byte) (int, error) {
	if w.f == nil {
		return 0, fs.ErrClosed
	}
	n, err := w.zw.Write(p)
	w.sum.Write(p[:n])
	w.n += int64(n)
	return n, err
}

// Close publishes the blob under its digest.
func (w *BlobWriter) Close() (Blob, error) {
	if w.f == nil {
		return Blob{}, fs.ErrClosed
	}
	tmp := w.f.Name()
	if err := w.release(); err != nil {
		return Blob{}, errors.Join(err, os.Remove(tmp))
	}
	b := Blob{SHA256: hex.EncodeToString(w.sum.Sum(nil)), Size: w.n, dir: w.dir}
	if w.n == 0 {
		return b, os.Remove(tmp)
	}
	dst := w.dir.path(b.SHA256)
	if _, err := os.Stat(dst); err == nil {
		return b, os.Remove(tmp)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o750); err != nil {
		return Blob{}, errors.Join(err, os.Remove(tmp))
	}
	if err := os.Rename(tmp, dst); err != nil {
		return Blob{}, errors.Join(fmt.Errorf("failed to publish blob: %w", err), os.Remove(tmp))
	}
	return b, nil
}

// Abort drops the partially written blob.
func (w *BlobWriter) Abort() error {
	if w.f == nil {
		return nil
	}
	tmp := w.f.Name()
	return errors.Join(w.release(), os.Remove(tmp))
}

func (w *BlobWriter) release() error {
	err := errors.Join(w.zw.Close(), w.f.Close())
	w.f = nil
	return err
}
