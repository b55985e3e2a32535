package api

import (
	domain "github.com/example/task-service/domain/task"
	"github.com/example/task-service/modules/database"
)

// ErrorResponse is the HTTP response for errors.
type ErrorResponse struct {
	Error   string              `json:"error"`
	Message string              `json:"message"`
	Fields  []domain.FieldError `json:"fields,omitempty"`
}

// InfoResponse is returned by GET /.
type InfoResponse struct {
	Service     string            `json:"service"`
	Version     string            `json:"version"`
	Environment string            `json:"environment"`
	Message     string            `json:"message"`
	Status      string            `json:"status"`
	Endpoints   map[string]string `json:"endpoints"`
}

// HealthResponse is the HTTP response for health check. The process is
// alive whenever it answers; storage and cache are informational.
type HealthResponse struct {
	Status  string         `json:"status"`
	Service string         `json:"service"`
	Version string         `json:"version"`
	Storage *StorageHealth `json:"storage,omitempty"`
	Cache   *CacheHealth   `json:"cache,omitempty"`
}

// StorageHealth reports database reachability and pool usage.
type StorageHealth struct {
	Reachable bool                 `json:"reachable"`
	Error     string               `json:"error,omitempty"`
	Pool      *database.PoolStatus `json:"pool,omitempty"`
}

// CacheHealth reports Redis reachability.
type CacheHealth struct {
	Reachable bool   `json:"reachable"`
	Error     string `json:"error,omitempty"`
}
