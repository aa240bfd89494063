package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"geoforge/internal/domain"
	"geoforge/internal/geometry"
	"geoforge/internal/repo"
)

// enqueue hands a job to the worker. A full backlog is not an error: the
// job stays pending in the ledger and is requeued on the next startup.
func (c *Core) enqueue(id string) {
	select {
	case c.queue <- id:
	default:
		c.Log.Warn("executor backlog full, job deferred", "job", id)
	}
}

// Requeue reloads non-completed jobs from the ledger, oldest first. Called
// once before the executor starts.
func (c *Core) Requeue(ctx context.Context) (int, error) {
	jobs, err := c.Repo.PendingJobs(ctx)
	if err != nil {
		return 0, err
	}
	for _, j := range jobs {
		c.enqueue(j.UUID)
	}
	return len(jobs), nil
}

// RunExecutor processes queued jobs strictly one at a time until ctx is
// cancelled. Job failures never stop the worker.
func (c *Core) RunExecutor(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case id := <-c.queue:
			c.process(ctx, id)
		}
	}
}

func (c *Core) process(ctx context.Context, id string) {
	job, err := c.Repo.GetJob(ctx, id)
	if err != nil {
		c.Log.Error("load job failed", "job", id, "error", err)
		return
	}
	if job.Completed {
		return
	}
	jctx, cancel := context.WithTimeout(ctx, c.Config.JobTimeout())
	defer cancel()

	switch job.Request {
	case domain.RequestIngest:
		err = c.executeIngest(jctx, job)
	case domain.RequestExport:
		err = c.executeExport(jctx, job)
	default:
		err = errors.New("unknown request type " + job.Request)
	}
	if err != nil {
		c.Log.Error("job execution failed", "job", id, "ticket", job.Ticket, "error", err)
	}
}

func (c *Core) elapsed(job domain.Job) float64 {
	initiated, err := time.Parse(time.RFC3339, job.Initiated)
	if err != nil {
		return 0
	}
	return c.Now().Sub(initiated).Seconds()
}

// failJob records a terminal failure, marking the linked export failed as
// well when there is one.
func (c *Core) failJob(ctx context.Context, job domain.Job, msg string) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if job.Export != nil {
		if err := c.Repo.UpdateExportTx(ctx, tx, *job.Export, domain.ExportFailed, nil, nil); err != nil {
			return err
		}
	}
	if err := c.Repo.CompleteJobTx(ctx, tx, repo.JobCompletion{
		UUID:          job.UUID,
		Success:       false,
		ExecutionTime: c.elapsed(job),
		ErrorMessage:  &msg,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func (c *Core) executeIngest(ctx context.Context, job domain.Job) error {
	s, err := c.Repo.GetSession(ctx, job.Session)
	if err != nil {
		return c.failJob(ctx, job, "session no longer exists")
	}
	if !s.Active {
		return c.failJob(ctx, job, "session closed before ingestion started")
	}
	var p IngestParams
	if err := json.Unmarshal([]byte(job.Params), &p); err != nil {
		return c.failJob(ctx, job, "corrupt job parameters")
	}

	res, err := c.Geo.Ingest(ctx, s.SchemaName, job.Label, geometry.IngestOptions{
		File:       p.File,
		CRS:        p.CRS,
		Encoding:   p.Encoding,
		Delimiter:  p.Delimiter,
		Lat:        p.Lat,
		Lon:        p.Lon,
		GeomColumn: p.GeomColumn,
	})
	if err != nil {
		return c.failJob(ctx, job, err.Error())
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	ds := domain.Dataset{
		UUID:       uuid.NewString(),
		Session:    s.UUID,
		Label:      job.Label,
		TableRef:   res.Ref,
		SourceFile: &p.File,
		Created:    c.now(),
		Meta: domain.Metadata{
			EPSG:         res.EPSG,
			Driver:       res.Driver,
			FeatureCount: res.FeatureCount,
			BBox:         res.BBox,
		},
	}
	if err := c.Repo.InsertDatasetTx(ctx, tx, ds); err != nil {
		tx.Rollback()
		if repo.IsUniqueViolation(err, "label") {
			return c.failJob(ctx, job, "label "+job.Label+" already exists")
		}
		return c.failJob(ctx, job, err.Error())
	}
	// The session may have been closed or expired while the engine was
	// loading the file. SetActiveDatasetTx only matches an active row, so a
	// miss here means the cascade ran; the dataset insert must not survive.
	if err := c.Repo.SetActiveDatasetTx(ctx, tx, s.UUID, &ds.UUID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			tx.Rollback()
			return c.failJob(ctx, job, "session closed before ingestion completed")
		}
		return err
	}
	if err := c.Repo.CompleteJobTx(ctx, tx, repo.JobCompletion{
		UUID:          job.UUID,
		Success:       true,
		ExecutionTime: c.elapsed(job),
		Dataset:       &ds.UUID,
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.Log.Info("ingest completed", "session", s.UUID, "label", job.Label, "features", res.FeatureCount)
	return nil
}

func (c *Core) executeExport(ctx context.Context, job domain.Job) error {
	if job.Export == nil {
		return c.failJob(ctx, job, "export job without export record")
	}
	s, err := c.Repo.GetSession(ctx, job.Session)
	if err != nil {
		return c.failJob(ctx, job, "session no longer exists")
	}
	if !s.Active {
		return c.failJob(ctx, job, "session closed before export started")
	}
	export, err := c.Repo.GetExport(ctx, *job.Export)
	if err != nil {
		return c.failJob(ctx, job, "export record no longer exists")
	}
	ds, err := c.Repo.GetDataset(ctx, export.Dataset)
	if err != nil {
		return c.failJob(ctx, job, "dataset no longer exists")
	}

	var p ExportParams
	if job.Params != "" {
		if err := json.Unmarshal([]byte(job.Params), &p); err != nil {
			return c.failJob(ctx, job, "corrupt job parameters")
		}
	}

	file, err := c.Geo.ExportToFile(ctx, s.SchemaName, ds.TableRef, s.WorkingPath, export.Driver,
		geometry.ExportOptions{Filename: ds.Label})
	if err != nil {
		return c.failJob(ctx, job, err.Error())
	}

	// The artifact lives in the session workspace; it only outlives the
	// session when the caller asked for a durable copy.
	var outputPath *string
	if p.CopyToOutput {
		rel := filepath.Join(c.Now().Format("0601"), s.Token, job.Ticket, filepath.Base(file))
		if err := copyFile(file, filepath.Join(c.Config.Storage.OutputDir, rel)); err != nil {
			return c.failJob(ctx, job, err.Error())
		}
		outputPath = &rel
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := c.Repo.UpdateExportTx(ctx, tx, export.UUID, domain.ExportCompleted, &file, outputPath); err != nil {
		return err
	}
	if err := c.Repo.CompleteJobTx(ctx, tx, repo.JobCompletion{
		UUID:          job.UUID,
		Success:       true,
		ExecutionTime: c.elapsed(job),
	}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	c.Log.Info("export completed", "session", s.UUID, "label", ds.Label, "driver", export.Driver,
		"file", filepath.Base(file), "persisted", p.CopyToOutput)
	return nil
}

func copyFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()
	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Close()
}
