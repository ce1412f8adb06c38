// Package journal keeps a git history of the data directory. Each successful
// save cycle becomes one commit listing the operations it applied.
package journal

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/object"
)

const gitignore = "tmp/\n*.tmp\n*.db-wal\n*.db-shm\njcrdb.yaml\n"

// Author identifies who made a change.
type Author struct {
	Name  string
	Email string
}

// Commit is one journal entry.
type Commit struct {
	Hash    string    `json:"hash"`
	Message string    `json:"message"`
	Body    string    `json:"body,omitempty"`
	Author  string    `json:"author"`
	When    time.Time `json:"when"`
}

// Journal records save cycles into a git repository.
type Journal struct {
	dir      string
	identity Author
	repo     *gogit.Repository

	mu    sync.Mutex
	batch []string
}

// Open opens or initializes the repository in dir. identity is the committer.
func Open(dir string, identity Author) (*Journal, error) {
	repo, err := gogit.PlainOpen(dir)
	if err != nil {
		repo, err = gogit.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize git repo: %w", err)
		}
		cfg, err := repo.Config()
		if err != nil {
			return nil, fmt.Errorf("failed to read git config: %w", err)
		}
		cfg.User.Name = identity.Name
		cfg.User.Email = identity.Email
		if err := repo.SetConfig(cfg); err != nil {
			return nil, fmt.Errorf("failed to write git config: %w", err)
		}
		if err := os.WriteFile(filepath.Join(dir, ".gitignore"), []byte(gitignore), 0o600); err != nil {
			return nil, fmt.Errorf("failed to write .gitignore: %w", err)
		}
	}
	return &Journal{dir: dir, identity: identity, repo: repo}, nil
}

// Begin starts a new batch, dropping anything recorded so far.
func (j *Journal) Begin() {
	j.mu.Lock()
	j.batch = j.batch[:0]
	j.mu.Unlock()
}

// Record adds an operation to the current batch.
func (j *Journal) Record(op, path string) {
	j.mu.Lock()
	j.batch = append(j.batch, op+" "+path)
	j.mu.Unlock()
}

// Discard drops the current batch without committing.
func (j *Journal) Discard() {
	j.Begin()
}

// Commit stages the data directory and commits it with the current batch as
// message. Nothing is committed when the working tree is clean.
func (j *Journal) Commit(ctx context.Context, author Author) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	batch := j.batch
	j.batch = nil

	w, err := j.repo.Worktree()
	if err != nil {
		return fmt.Errorf("failed to get worktree: %w", err)
	}
	if err := w.AddWithOptions(&gogit.AddOptions{All: true}); err != nil {
		return fmt.Errorf("failed to stage files: %w", err)
	}
	status, err := w.Status()
	if err != nil {
		return fmt.Errorf("failed to get worktree status: %w", err)
	}
	if status.IsClean() {
		return nil
	}
	if author.Name == "" {
		author = j.identity
	}
	msg := fmt.Sprintf("save: %d operation(s)", len(batch))
	if len(batch) != 0 {
		msg += "\n\n" + strings.Join(batch, "\n")
	}
	now := time.Now()
	if _, err := w.Commit(msg, &gogit.CommitOptions{
		Author:    &object.Signature{Name: author.Name, Email: author.Email, When: now},
		Committer: &object.Signature{Name: j.identity.Name, Email: j.identity.Email, When: now},
	}); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	slog.DebugContext(ctx, "journal commit", "ops", len(batch))
	return nil
}

// History returns up to n commits, newest first.
func (j *Journal) History(_ context.Context, n int) ([]*Commit, error) {
	if n <= 0 || n > 1000 {
		n = 1000
	}
	iter, err := j.repo.Log(&gogit.LogOptions{})
	if err != nil {
		// No commit yet.
		return nil, nil
	}
	defer iter.Close()
	var out []*Commit
	for range n {
		c, err := iter.Next()
		if err != nil {
			break
		}
		subject, body, _ := strings.Cut(c.Message, "\n")
		out = append(out, &Commit{
			Hash:    c.Hash.String(),
			Message: subject,
			Body:    strings.TrimSpace(body),
			Author:  c.Author.Name,
			When:    c.Author.When,
		})
	}
	return out, nil
}
