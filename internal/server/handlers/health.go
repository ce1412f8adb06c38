package handlers

import (
	"context"

	"github.com/maruel/jcrdb/internal/repository"
)

// HealthRequest is the request type for health check (empty).
type HealthRequest struct{}

// HealthResponse is the response for health check.
type HealthResponse struct {
	Status     string `json:"status"`
	Workspaces int    `json:"workspaces"`
}

// Health returns a health check reading the workspace registry, so a broken
// document store is reported.
func Health(repo *repository.Repository) func(context.Context, HealthRequest) (*HealthResponse, error) {
	return func(ctx context.Context, _ HealthRequest) (*HealthResponse, error) {
		names, err := repo.AccessibleWorkspaceNames(ctx)
		if err != nil {
			return nil, err
		}
		return &HealthResponse{Status: "ok", Workspaces: len(names)}, nil
	}
}
