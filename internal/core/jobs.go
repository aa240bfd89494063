package core

import (
	"context"
	"crypto/md5"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"

	"geoforge/internal/domain"
	"geoforge/internal/repo"
)

// newTicket returns an opaque poll handle, decoupled from the job UUID.
func newTicket() string {
	return fmt.Sprintf("%x", md5.Sum([]byte(uuid.NewString())))
}

// IngestParams is the persisted payload of an ingest job, replayable after
// a restart.
type IngestParams struct {
	File       string `json:"file"`
	CRS        string `json:"crs,omitempty"`
	Encoding   string `json:"encoding,omitempty"`
	Delimiter  string `json:"delimiter,omitempty"`
	Lat        string `json:"lat,omitempty"`
	Lon        string `json:"lon,omitempty"`
	GeomColumn string `json:"geom,omitempty"`
}

// ExportParams is the persisted payload of an export job.
type ExportParams struct {
	// CopyToOutput asks for the artifact to be copied into the durable
	// output directory, surviving the session.
	CopyToOutput bool `json:"copy_to_output,omitempty"`
}

// insertJob writes the ledger row, translating uniqueness failures. Ticket
// collisions are retried with a fresh ticket.
func (c *Core) insertJob(ctx context.Context, job domain.Job) (domain.Job, error) {
	for attempt := 0; ; attempt++ {
		err := c.Repo.InsertJob(ctx, job)
		if err == nil {
			return job, nil
		}
		if repo.IsUniqueViolation(err, "idempotency_key") {
			return job, &ConflictError{Message: "idempotency key already used"}
		}
		if repo.IsUniqueViolation(err, "ticket") && attempt < 3 {
			job.Ticket = newTicket()
			continue
		}
		return job, err
	}
}

// SubmitIngest accepts an ingest request and queues it. The session is
// created on first use; the label is claimed by the pending job until it
// completes.
func (c *Core) SubmitIngest(ctx context.Context, token, label string, key *string, p IngestParams) (domain.Job, error) {
	s, err := c.ResolveOrCreate(ctx, token)
	if err != nil {
		return domain.Job{}, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return domain.Job{}, err
	}
	if err := c.validateLabel(ctx, s.UUID, label); err != nil {
		return domain.Job{}, err
	}
	params, err := json.Marshal(p)
	if err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		UUID:           uuid.NewString(),
		Session:        s.UUID,
		Ticket:         newTicket(),
		IdempotencyKey: key,
		Request:        domain.RequestIngest,
		Label:          label,
		Params:         string(params),
		Initiated:      c.now(),
	}
	job, err = c.insertJob(ctx, job)
	if err != nil {
		return domain.Job{}, err
	}
	c.enqueue(job.UUID)
	c.Log.Info("ingest queued", "session", s.UUID, "label", label, "ticket", job.Ticket)
	return job, nil
}

// SubmitExport accepts an export request for a dataset and queues it. The
// driver defaults to the dataset's own; one export per dataset and driver.
func (c *Core) SubmitExport(ctx context.Context, token, label, driver string, p ExportParams, key *string) (domain.Job, error) {
	s, err := c.Resolve(ctx, token)
	if err != nil {
		return domain.Job{}, err
	}
	if err := c.Touch(ctx, s.UUID); err != nil {
		return domain.Job{}, err
	}
	ds, err := c.resolveSource(ctx, s, label)
	if err != nil {
		return domain.Job{}, err
	}
	if driver == "" {
		driver = ds.Meta.Driver
	}
	if existing, err := c.Repo.ExportByDatasetDriver(ctx, ds.UUID, driver); err == nil {
		return domain.Job{}, &ExportConflictError{Status: existing.Status}
	} else if !errors.Is(err, repo.ErrNotFound) {
		return domain.Job{}, err
	}

	export := domain.Export{
		UUID:    uuid.NewString(),
		Dataset: ds.UUID,
		Driver:  driver,
		Status:  domain.ExportProcessing,
	}
	if err := c.Repo.InsertExport(ctx, export); err != nil {
		if repo.IsUniqueViolation(err, "exports") {
			existing, gerr := c.Repo.ExportByDatasetDriver(ctx, ds.UUID, driver)
			if gerr == nil {
				return domain.Job{}, &ExportConflictError{Status: existing.Status}
			}
		}
		return domain.Job{}, err
	}
	params, err := json.Marshal(p)
	if err != nil {
		return domain.Job{}, err
	}
	job := domain.Job{
		UUID:           uuid.NewString(),
		Session:        s.UUID,
		Ticket:         newTicket(),
		IdempotencyKey: key,
		Request:        domain.RequestExport,
		Label:          ds.Label,
		Params:         string(params),
		Initiated:      c.now(),
		Export:         &export.UUID,
	}
	job, err = c.insertJob(ctx, job)
	if err != nil {
		return domain.Job{}, err
	}
	c.enqueue(job.UUID)
	c.Log.Info("export queued", "session", s.UUID, "label", ds.Label, "driver", driver, "ticket", job.Ticket)
	return job, nil
}

// Status resolves a job by ticket or idempotency key and renders the
// polling view. Exactly one of the two handles must be set.
func (c *Core) Status(ctx context.Context, ticket, key string) (domain.JobView, error) {
	var job domain.Job
	var err error
	switch {
	case ticket != "":
		job, err = c.Repo.JobByTicket(ctx, ticket)
	case key != "":
		job, err = c.Repo.JobByIdempotencyKey(ctx, key)
	default:
		return domain.JobView{}, &LabelError{Label: "", Reason: "one of ticket, idempotency-key is required"}
	}
	if errors.Is(err, repo.ErrNotFound) {
		return domain.JobView{}, ErrJobNotFound
	}
	if err != nil {
		return domain.JobView{}, err
	}

	view := domain.JobView{
		Ticket:         job.Ticket,
		IdempotencyKey: job.IdempotencyKey,
		RequestType:    job.Request,
		Initiated:      job.Initiated,
		ExecutionTime:  job.ExecutionTime,
		Completed:      job.Completed,
		Success:        job.Success,
		ErrorMessage:   job.ErrorMessage,
	}
	if !job.Completed || job.Success == nil || !*job.Success {
		return view, nil
	}
	switch job.Request {
	case domain.RequestIngest:
		if job.Dataset != nil {
			if ds, err := c.Repo.GetDataset(ctx, *job.Dataset); err == nil {
				view.Resources.DatasetLabel = &ds.Label
			}
		}
	case domain.RequestExport:
		if job.Export != nil {
			if export, err := c.Repo.GetExport(ctx, *job.Export); err == nil {
				if export.FilePath != nil {
					link := "/datasets/download/" + filepath.Base(*export.FilePath)
					view.Resources.Link = &link
				}
				view.Resources.OutputPath = export.OutputPath
			}
		}
	}
	return view, nil
}

// ActiveJobs lists non-completed jobs across all sessions.
func (c *Core) ActiveJobs(ctx context.Context) ([]domain.ActiveJob, error) {
	return c.Repo.ActiveJobs(ctx)
}
