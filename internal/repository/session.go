package repository

import (
	"context"
	"sync"

	"github.com/maruel/jcrdb/internal/errors"
	"github.com/maruel/jcrdb/internal/nodestore"
)

// Permissions granted on every path.
var permissions = []string{"add_node", "read", "remove", "set_property"}

// Session is a login on one workspace.
type Session struct {
	repo      *Repository
	user      string
	workspace string
	nodes     *nodestore.Store

	mu        sync.Mutex
	loggedOut bool
}

// UserID returns the user the session was opened for.
func (s *Session) UserID() string {
	return s.user
}

// WorkspaceName returns the workspace the session is bound to.
func (s *Session) WorkspaceName() string {
	return s.workspace
}

// Repository returns the repository that opened the session.
func (s *Session) Repository() *Repository {
	return s.repo
}

// Nodes returns the node store of the session workspace.
func (s *Session) Nodes() (*nodestore.Store, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return s.nodes, nil
}

// Permissions returns the actions allowed on path.
func (s *Session) Permissions(path string) ([]string, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	return append([]string(nil), permissions...), nil
}

// Save runs fn between the save hooks of the node store. When fn fails the
// cycle is rolled back; the documents it wrote are kept.
func (s *Session) Save(ctx context.Context, fn func(*nodestore.Store) error) error {
	if err := s.check(); err != nil {
		return err
	}
	if err := s.nodes.PrepareSave(ctx); err != nil {
		return err
	}
	if err := fn(s.nodes); err != nil {
		_ = s.nodes.RollbackSave(ctx)
		return err
	}
	return s.nodes.FinishSave(ctx)
}

// Logout ends the session. Later calls fail.
func (s *Session) Logout() {
	s.mu.Lock()
	s.loggedOut = true
	s.mu.Unlock()
}

func (s *Session) check() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loggedOut {
		return errors.New(errors.ErrRepository, "not logged in")
	}
	return nil
}
