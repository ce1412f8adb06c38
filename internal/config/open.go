package config

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/maruel/jcrdb/internal/blobstore"
	"github.com/maruel/jcrdb/internal/docstore"
	"github.com/maruel/jcrdb/internal/docstore/jsonlstore"
	"github.com/maruel/jcrdb/internal/docstore/sqlstore"
	"github.com/maruel/jcrdb/internal/journal"
	"github.com/maruel/jcrdb/internal/repository"
)

// Layout of the data directory.
const (
	DocsDir  = "docs"
	DBFile   = "jcrdb.db"
	BlobsDir = "blobs"
)

// Open opens the stores of dataDir selected by c and returns the repository
// over them. closeFn releases the document store.
func (c *Config) Open(dataDir string) (repo *repository.Repository, closeFn func() error, err error) {
	var docs docstore.Store
	switch c.Backend {
	case BackendSQLite:
		docs, err = sqlstore.Open(filepath.Join(dataDir, DBFile))
	default:
		docs, err = jsonlstore.Open(filepath.Join(dataDir, DocsDir))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open %s document store: %w", c.Backend, err)
	}
	compression, err := c.Compression()
	if err != nil {
		return nil, nil, errors.Join(err, docs.Close())
	}
	blobs, err := blobstore.Open(filepath.Join(dataDir, BlobsDir), compression)
	if err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to open blob store: %w", err), docs.Close())
	}
	if err := blobs.GC(); err != nil {
		return nil, nil, errors.Join(fmt.Errorf("failed to collect blobs: %w", err), docs.Close())
	}
	var j *journal.Journal
	if c.Journal.Enabled {
		if j, err = journal.Open(dataDir, journal.Author{Name: c.Journal.Name, Email: c.Journal.Email}); err != nil {
			return nil, nil, errors.Join(fmt.Errorf("failed to open journal: %w", err), docs.Close())
		}
	}
	repo = repository.New(&repository.Options{
		Docs:             docs,
		Blobs:            blobs,
		Journal:          j,
		Users:            c.Users,
		DefaultWorkspace: c.DefaultWorkspace,
	})
	return repo, docs.Close, nil
}
