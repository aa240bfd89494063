// Package core orchestrates sessions, dataset lineage and the job ledger.
// All geometry and file work is delegated to the geometry engine; core owns
// the durable bookkeeping around it.
package core

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"geoforge/internal/config"
	"geoforge/internal/geometry"
	"geoforge/internal/repo"
)

var (
	ErrSessionNotFound = errors.New("no active session")
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrNoActiveDataset = errors.New("no active dataset found")
	ErrJobNotFound     = errors.New("process not found")
)

// LabelError rejects a dataset label before any work starts.
type LabelError struct {
	Label  string
	Reason string
}

func (e *LabelError) Error() string { return fmt.Sprintf("label %q: %s", e.Label, e.Reason) }

// ConflictError reports a uniqueness rule violation: label in use, label
// claimed by a pending ingest, or a reused idempotency key.
type ConflictError struct {
	Message string
}

func (e *ConflictError) Error() string { return e.Message }

// ExportConflictError rejects a duplicate export request for the same
// dataset and driver.
type ExportConflictError struct {
	Status string
}

func (e *ExportConflictError) Error() string { return "Export is already " + e.Status }

type Core struct {
	DB     *sql.DB
	Repo   repo.Repo
	Geo    geometry.Engine
	Config *config.Config
	Log    *slog.Logger
	Now    func() time.Time

	queue chan string
}

func New(db *sql.DB, geo geometry.Engine, cfg *config.Config, log *slog.Logger) *Core {
	if log == nil {
		log = slog.Default()
	}
	return &Core{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Geo:    geo,
		Config: cfg,
		Log:    log,
		Now:    func() time.Time { return time.Now().UTC() },
		queue:  make(chan string, 1024),
	}
}

func (c *Core) now() string {
	return c.Now().Format(time.RFC3339)
}
