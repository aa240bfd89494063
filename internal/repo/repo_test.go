package repo_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"geoforge/internal/db"
	"geoforge/internal/domain"
	"geoforge/internal/migrate"
	"geoforge/internal/repo"
)

func newTestRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func session(uuid, token string) domain.Session {
	return domain.Session{
		UUID:        uuid,
		Token:       token,
		Created:     "2026-03-01T12:00:00Z",
		LastRequest: "2026-03-01T12:00:00Z",
		Active:      true,
		SchemaName:  "data_" + uuid,
		WorkingPath: "/tmp/" + uuid,
	}
}

func dataset(uuid, sess, label string) domain.Dataset {
	return domain.Dataset{
		UUID:     uuid,
		Session:  sess,
		Label:    label,
		TableRef: label,
		Created:  "2026-03-01T12:00:00Z",
		Meta:     domain.Metadata{EPSG: 4326, Driver: "GeoJSON", FeatureCount: 2, BBox: []float64{0, 0, 1, 1}},
	}
}

func inTx(t *testing.T, r repo.Repo, fn func(tx *sql.Tx) error) {
	t.Helper()
	tx, err := r.DB.BeginTx(context.Background(), nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		t.Fatalf("tx: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}
}

func TestOneActiveSessionPerToken(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()

	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	err := r.InsertSession(ctx, session("s2", "tok"))
	if !repo.IsUniqueViolation(err, "token") {
		t.Fatalf("expected token violation, got %v", err)
	}

	// Once deactivated, the token can be claimed again.
	inTx(t, r, func(tx *sql.Tx) error { return r.DeactivateSessionTx(ctx, tx, "s1") })
	if err := r.InsertSession(ctx, session("s2", "tok")); err != nil {
		t.Fatalf("insert after deactivate: %v", err)
	}
	s, err := r.ActiveSessionByToken(ctx, "tok")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if s.UUID != "s2" {
		t.Fatalf("expected s2, got %s", s.UUID)
	}
}

func TestTouchRequiresActiveSession(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := r.TouchSession(ctx, "s1", "2026-03-01T13:00:00Z"); err != nil {
		t.Fatalf("touch: %v", err)
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.DeactivateSessionTx(ctx, tx, "s1") })
	if err := r.TouchSession(ctx, "s1", "2026-03-01T14:00:00Z"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLabelUniqueAmongLiveDatasets(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertDatasetTx(ctx, tx, dataset("d1", "s1", "roads")) })

	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.InsertDatasetTx(ctx, tx, dataset("d2", "s1", "roads")); !repo.IsUniqueViolation(err, "label") {
		t.Fatalf("expected label violation, got %v", err)
	}
	tx.Rollback()

	// Soft deletion frees the label.
	inTx(t, r, func(tx *sql.Tx) error { return r.SoftDeleteSessionDatasetsTx(ctx, tx, "s1") })
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertDatasetTx(ctx, tx, dataset("d2", "s1", "roads")) })

	ds, err := r.DatasetByLabel(ctx, "s1", "roads")
	if err != nil {
		t.Fatalf("by label: %v", err)
	}
	if ds.UUID != "d2" {
		t.Fatalf("expected d2, got %s", ds.UUID)
	}
	n, err := r.CountLiveDatasets(ctx, "s1")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 live dataset, got %d, %v", n, err)
	}
}

func TestDatasetInfoLineage(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.InsertDatasetTx(ctx, tx, dataset("d1", "s1", "roads")); err != nil {
			return err
		}
		derived := dataset("d2", "s1", "road_points")
		derived.Created = "2026-03-01T12:05:00Z"
		if err := r.InsertDatasetTx(ctx, tx, derived); err != nil {
			return err
		}
		return r.InsertActionTx(ctx, tx, domain.Action{
			Session:       "s1",
			Action:        "constructive.centroid",
			SourceDataset: "d1",
			ResultDataset: "d2",
			Performed:     "2026-03-01T12:05:00Z",
		})
	})

	infos, err := r.ListDatasetInfo(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 {
		t.Fatalf("expected 2 datasets, got %d", len(infos))
	}
	if infos[0].Label != "roads" || infos[0].Source != nil || infos[0].Action != nil {
		t.Fatalf("unexpected root info: %+v", infos[0])
	}
	if infos[1].Label != "road_points" || infos[1].Source == nil || *infos[1].Source != "roads" {
		t.Fatalf("unexpected derived info: %+v", infos[1])
	}
	if infos[1].Action == nil || *infos[1].Action != "constructive.centroid" {
		t.Fatalf("unexpected action: %+v", infos[1])
	}
	if len(infos[0].BBox) != 4 {
		t.Fatalf("expected bbox round trip, got %+v", infos[0].BBox)
	}
}

func TestJobLookupsAndCompletion(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	key := "req-1"
	job := domain.Job{
		UUID:           "j1",
		Session:        "s1",
		Ticket:         "t1",
		IdempotencyKey: &key,
		Request:        domain.RequestIngest,
		Label:          "roads",
		Params:         `{"file":"/data/roads.shp"}`,
		Initiated:      "2026-03-01T12:00:00Z",
	}
	if err := r.InsertJob(ctx, job); err != nil {
		t.Fatalf("insert job: %v", err)
	}

	dup := job
	dup.UUID, dup.Ticket = "j2", "t2"
	if err := r.InsertJob(ctx, dup); !repo.IsUniqueViolation(err, "idempotency_key") {
		t.Fatalf("expected idempotency violation, got %v", err)
	}
	dup.IdempotencyKey, dup.Ticket = nil, "t1"
	if err := r.InsertJob(ctx, dup); !repo.IsUniqueViolation(err, "ticket") {
		t.Fatalf("expected ticket violation, got %v", err)
	}

	got, err := r.JobByTicket(ctx, "t1")
	if err != nil || got.UUID != "j1" {
		t.Fatalf("by ticket: %+v, %v", got, err)
	}
	if got.Params != job.Params {
		t.Fatalf("expected params round trip, got %q", got.Params)
	}
	if got, err = r.JobByIdempotencyKey(ctx, key); err != nil || got.UUID != "j1" {
		t.Fatalf("by key: %+v, %v", got, err)
	}

	pending, err := r.HasPendingIngest(ctx, "s1", "roads")
	if err != nil || !pending {
		t.Fatalf("expected pending ingest, got %v, %v", pending, err)
	}

	ds := "d1"
	inTx(t, r, func(tx *sql.Tx) error { return r.InsertDatasetTx(ctx, tx, dataset("d1", "s1", "roads")) })
	inTx(t, r, func(tx *sql.Tx) error {
		return r.CompleteJobTx(ctx, tx, repo.JobCompletion{
			UUID: "j1", Success: true, ExecutionTime: 1.5, Dataset: &ds,
		})
	})
	got, err = r.JobByTicket(ctx, "t1")
	if err != nil || !got.Completed || got.Success == nil || !*got.Success || got.Dataset == nil {
		t.Fatalf("unexpected completed job: %+v, %v", got, err)
	}

	// Completion is applied exactly once.
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	if err := r.CompleteJobTx(ctx, tx, repo.JobCompletion{UUID: "j1", Success: false}); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	// Release the write lock before querying on another connection.
	tx.Rollback()

	if pending, _ = r.HasPendingIngest(ctx, "s1", "roads"); pending {
		t.Fatal("expected no pending ingest after completion")
	}
}

func TestExportsGroupedByLabel(t *testing.T) {
	r := newTestRepo(t)
	ctx := context.Background()
	if err := r.InsertSession(ctx, session("s1", "tok")); err != nil {
		t.Fatalf("insert session: %v", err)
	}
	inTx(t, r, func(tx *sql.Tx) error {
		if err := r.InsertDatasetTx(ctx, tx, dataset("d1", "s1", "roads")); err != nil {
			return err
		}
		return r.InsertDatasetTx(ctx, tx, dataset("d2", "s1", "zones"))
	})
	for _, e := range []domain.Export{
		{UUID: "e1", Dataset: "d1", Driver: "GeoJSON", Status: domain.ExportProcessing},
		{UUID: "e2", Dataset: "d1", Driver: "ESRI Shapefile", Status: domain.ExportProcessing},
		{UUID: "e3", Dataset: "d2", Driver: "GeoJSON", Status: domain.ExportProcessing},
	} {
		if err := r.InsertExport(ctx, e); err != nil {
			t.Fatalf("insert export %s: %v", e.UUID, err)
		}
	}
	if err := r.InsertExport(ctx, domain.Export{UUID: "e4", Dataset: "d1", Driver: "GeoJSON", Status: domain.ExportProcessing}); !repo.IsUniqueViolation(err, "exports") {
		t.Fatalf("expected exports violation, got %v", err)
	}

	file, rel := "/out/roads.tar.gz", "2603/tok/t1/roads.tar.gz"
	inTx(t, r, func(tx *sql.Tx) error {
		return r.UpdateExportTx(ctx, tx, "e1", domain.ExportCompleted, &file, &rel)
	})

	groups, err := r.ListSessionExports(ctx, "s1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(groups) != 2 || groups[0].Label != "roads" || groups[1].Label != "zones" {
		t.Fatalf("unexpected grouping: %+v", groups)
	}
	if len(groups[0].Exports) != 2 || len(groups[1].Exports) != 1 {
		t.Fatalf("unexpected group sizes: %+v", groups)
	}
	// Drivers sort within a group; the completed one carries its paths.
	if groups[0].Exports[0].Driver != "ESRI Shapefile" || groups[0].Exports[1].Driver != "GeoJSON" {
		t.Fatalf("unexpected driver order: %+v", groups[0].Exports)
	}
	done := groups[0].Exports[1]
	if done.Status != domain.ExportCompleted || done.OutputPath == nil || *done.OutputPath != rel {
		t.Fatalf("unexpected completed export: %+v", done)
	}
	// The link exposes only the download route, never the storage path.
	if done.Link == nil || *done.Link != "/datasets/download/roads.tar.gz" {
		t.Fatalf("unexpected link: %+v", done.Link)
	}
	if groups[0].Exports[0].Link != nil {
		t.Fatalf("expected no link for the pending export, got %+v", groups[0].Exports[0].Link)
	}
}
