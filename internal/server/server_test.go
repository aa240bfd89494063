package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"geoforge/internal/config"
	"geoforge/internal/core"
	"geoforge/internal/db"
	"geoforge/internal/geometry"
	"geoforge/internal/migrate"
)

type stubEngine struct {
	mu      sync.Mutex
	nsCount int
}

func (e *stubEngine) Check(ctx context.Context) error { return nil }

func (e *stubEngine) CreateNamespace(ctx context.Context) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nsCount++
	return fmt.Sprintf("data_%d", e.nsCount), nil
}

func (e *stubEngine) DropNamespace(ctx context.Context, ns string) error { return nil }

func (e *stubEngine) Ingest(ctx context.Context, ns, name string, opts geometry.IngestOptions) (*geometry.IngestResult, error) {
	return &geometry.IngestResult{
		Ref:          name,
		Driver:       "ESRI Shapefile",
		EPSG:         4326,
		FeatureCount: 7,
		BBox:         []float64{0, 0, 1, 1},
	}, nil
}

func (e *stubEngine) MaterializeView(ctx context.Context, ns, name, source string, op geometry.Operation) (string, error) {
	return name, nil
}

func (e *stubEngine) Rows(ctx context.Context, ns, ref string, page, perPage int) (*geometry.RowPage, error) {
	return &geometry.RowPage{
		Info: geometry.PageInfo{Dataset: ref, Page: page, ResultsPerPage: perPage},
		Data: []map[string]any{{"id": "1", "geom": "POINT (0 0)"}},
	}, nil
}

func (e *stubEngine) GeoJSON(ctx context.Context, ns, ref string, page, perPage int) (*geometry.FeaturePage, error) {
	return &geometry.FeaturePage{
		Info: geometry.PageInfo{Dataset: ref, Page: page, ResultsPerPage: perPage},
		Data: map[string]any{"type": "FeatureCollection", "features": []any{}},
	}, nil
}

func (e *stubEngine) ExportToFile(ctx context.Context, ns, ref, dir, driver string, opts geometry.ExportOptions) (string, error) {
	path := filepath.Join(dir, opts.Filename+".tar.gz")
	if err := os.WriteFile(path, []byte("archive bytes"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

type testServer struct {
	URL  string
	Core *core.Core
}

func newTestServer(t *testing.T) (*testServer, func()) {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default(dir)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	c := core.New(conn, &stubEngine{}, cfg, log)

	handler, err := New(Config{Core: c})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	srv := &http.Server{Handler: handler}
	go srv.Serve(ln)

	ctx, cancel := context.WithCancel(context.Background())
	go c.RunExecutor(ctx)

	ts := &testServer{URL: "http://" + ln.Addr().String(), Core: c}
	return ts, func() {
		cancel()
		srv.Close()
		conn.Close()
	}
}

func doJSON(t *testing.T, method, url string, body any, headers map[string]string) (*http.Response, []byte) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return resp, data
}

type errEnvelope struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type ticketBody struct {
	Ticket    string `json:"ticket"`
	StatusURI string `json:"statusUri"`
}

type statusBody struct {
	Ticket       string  `json:"ticket"`
	Completed    bool    `json:"completed"`
	Success      *bool   `json:"success"`
	ErrorMessage *string `json:"errorMessage"`
	Resources    struct {
		DatasetLabel *string `json:"datasetLabel"`
		Link         *string `json:"link"`
		OutputPath   *string `json:"outputPath"`
	} `json:"resources"`
}

func auth(token string) map[string]string {
	return map[string]string{"X-Token": token}
}

func pollStatus(t *testing.T, ts *testServer, ticket string) statusBody {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		resp, data := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/status?ticket="+ticket, nil, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status: %d %s", resp.StatusCode, data)
		}
		var status statusBody
		if err := json.Unmarshal(data, &status); err != nil {
			t.Fatalf("decode status: %v", err)
		}
		if status.Completed {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("job %s did not complete", ticket)
	return statusBody{}
}

func ingestDataset(t *testing.T, ts *testServer, token, label string) statusBody {
	t.Helper()
	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v1/session/ingest",
		map[string]string{"path": "/data/" + label + ".shp", "label": label}, auth(token))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("ingest: %d %s", resp.StatusCode, data)
	}
	var ticket ticketBody
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	if !strings.Contains(ticket.StatusURI, ticket.Ticket) {
		t.Fatalf("statusUri does not carry the ticket: %+v", ticket)
	}
	status := pollStatus(t, ts, ticket.Ticket)
	if status.Success == nil || !*status.Success {
		t.Fatalf("ingest failed: %+v", status)
	}
	return status
}

func TestTokenRequired(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v1/session", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d %s", resp.StatusCode, data)
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Code != "no_session" {
		t.Fatalf("expected no_session, got %+v", env.Error)
	}
}

func TestIngestFlow(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	status := ingestDataset(t, ts, "tok-1", "roads")
	if status.Resources.DatasetLabel == nil || *status.Resources.DatasetLabel != "roads" {
		t.Fatalf("expected datasetLabel roads, got %+v", status.Resources)
	}

	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v1/session", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("session: %d %s", resp.StatusCode, data)
	}
	var info struct {
		DatasetCount  int `json:"datasets"`
		ActiveDataset *struct {
			Label string `json:"label"`
		} `json:"active_dataset"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	if info.DatasetCount != 1 || info.ActiveDataset == nil || info.ActiveDataset.Label != "roads" {
		t.Fatalf("unexpected session info: %s", data)
	}

	resp, data = doJSON(t, http.MethodGet, ts.URL+"/v1/datasets", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("datasets: %d %s", resp.StatusCode, data)
	}
	var list []struct {
		Label string `json:"label"`
	}
	if err := json.Unmarshal(data, &list); err != nil {
		t.Fatalf("decode datasets: %v", err)
	}
	if len(list) != 1 || list[0].Label != "roads" {
		t.Fatalf("unexpected dataset list: %s", data)
	}

	resp, data = doJSON(t, http.MethodGet, ts.URL+"/v1/datasets/rows?page=1", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("rows: %d %s", resp.StatusCode, data)
	}
}

func TestTransformEndpoints(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()
	ingestDataset(t, ts, "tok-1", "parcels")

	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v1/constructive/centroid",
		map[string]string{"label": "parcel_points"}, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("centroid: %d %s", resp.StatusCode, data)
	}
	var info struct {
		Label  string  `json:"label"`
		Source *string `json:"source"`
		Action *string `json:"action"`
	}
	if err := json.Unmarshal(data, &info); err != nil {
		t.Fatalf("decode info: %v", err)
	}
	if info.Label != "parcel_points" || info.Source == nil || *info.Source != "parcels" {
		t.Fatalf("unexpected lineage: %s", data)
	}
	if info.Action == nil || *info.Action != "constructive.centroid" {
		t.Fatalf("unexpected action: %s", data)
	}

	// Filters need a geometry.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/filter/within",
		map[string]string{"label": "filtered"}, auth("tok-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing wkt, got %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/filter/within",
		map[string]string{"label": "filtered", "wkt": "POLYGON ((0 0, 1 0, 1 1, 0 0))"}, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("filter: %d %s", resp.StatusCode, data)
	}

	// Joins need a right dataset that exists.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/join/intersects",
		map[string]string{"label": "joined", "right": "missing"}, auth("tok-1"))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for missing right dataset, got %d %s", resp.StatusCode, data)
	}

	// Reusing a live label is a conflict.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/constructive/centroid",
		map[string]string{"label": "parcel_points"}, auth("tok-1"))
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate label, got %d %s", resp.StatusCode, data)
	}
}

func TestJobStatusHandles(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/status", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", resp.StatusCode, data)
	}

	resp, data = doJSON(t, http.MethodGet, ts.URL+"/v1/jobs/status?ticket=deadbeef", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d %s", resp.StatusCode, data)
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Message != "Process not found" {
		t.Fatalf("unexpected message: %+v", env.Error)
	}
}

func TestExportAndDownload(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()
	ingestDataset(t, ts, "tok-1", "rivers")

	resp, data := doJSON(t, http.MethodPost, ts.URL+"/v1/session/export",
		map[string]string{"driver": "GeoJSON"}, auth("tok-1"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("export: %d %s", resp.StatusCode, data)
	}
	var ticket ticketBody
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	status := pollStatus(t, ts, ticket.Ticket)
	if status.Success == nil || !*status.Success {
		t.Fatalf("export failed: %+v", status)
	}
	if status.Resources.Link == nil || !strings.HasPrefix(*status.Resources.Link, "/datasets/download/") {
		t.Fatalf("expected download link, got %+v", status.Resources)
	}
	// Without copy_to_output the artifact stays session scoped.
	if status.Resources.OutputPath != nil {
		t.Fatalf("expected no outputPath, got %q", *status.Resources.OutputPath)
	}

	// A persisted export reports where the durable copy landed.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/session/export",
		map[string]any{"driver": "ESRI Shapefile", "copy_to_output": true}, auth("tok-1"))
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("persisted export: %d %s", resp.StatusCode, data)
	}
	if err := json.Unmarshal(data, &ticket); err != nil {
		t.Fatalf("decode ticket: %v", err)
	}
	persisted := pollStatus(t, ts, ticket.Ticket)
	if persisted.Success == nil || !*persisted.Success {
		t.Fatalf("persisted export failed: %+v", persisted)
	}
	if persisted.Resources.OutputPath == nil || !strings.Contains(*persisted.Resources.OutputPath, ticket.Ticket) {
		t.Fatalf("expected outputPath under the job ticket, got %+v", persisted.Resources)
	}

	// Same dataset and driver again is rejected.
	resp, data = doJSON(t, http.MethodPost, ts.URL+"/v1/session/export",
		map[string]string{"driver": "GeoJSON"}, auth("tok-1"))
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d %s", resp.StatusCode, data)
	}
	var env errEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Error.Code != "export_exists" || !strings.Contains(env.Error.Message, "already completed") {
		t.Fatalf("unexpected conflict: %+v", env.Error)
	}

	resp, data = doJSON(t, http.MethodGet, ts.URL+"/v1/session/export", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("exports: %d %s", resp.StatusCode, data)
	}
	var groups []struct {
		Label   string `json:"label"`
		Exports []struct {
			Driver string  `json:"driver"`
			Status string  `json:"status"`
			Link   *string `json:"link"`
		} `json:"exports"`
	}
	if err := json.Unmarshal(data, &groups); err != nil {
		t.Fatalf("decode exports: %v", err)
	}
	if len(groups) != 1 || groups[0].Label != "rivers" || len(groups[0].Exports) != 2 {
		t.Fatalf("unexpected groups: %s", data)
	}
	for _, e := range groups[0].Exports {
		if e.Link == nil || !strings.HasPrefix(*e.Link, "/datasets/download/") {
			t.Fatalf("expected a download link, got %+v", e)
		}
	}

	// Download needs the token; with it the artifact streams back.
	url := ts.URL + "/v1" + *status.Resources.Link
	resp, _ = doJSON(t, http.MethodGet, url, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp, data = doJSON(t, http.MethodGet, url, nil, auth("tok-1"))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download: %d %s", resp.StatusCode, data)
	}
	if string(data) != "archive bytes" {
		t.Fatalf("unexpected artifact content: %q", data)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "rivers.tar.gz") {
		t.Fatalf("unexpected content disposition: %q", cd)
	}
}

func TestCloseSession(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()
	ingestDataset(t, ts, "tok-1", "scratch")

	resp, data := doJSON(t, http.MethodDelete, ts.URL+"/v1/session", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("close: %d %s", resp.StatusCode, data)
	}
	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/session", nil, auth("tok-1"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 after close, got %d", resp.StatusCode)
	}
}

func TestHealth(t *testing.T) {
	ts, cleanup := newTestServer(t)
	defer cleanup()

	resp, data := doJSON(t, http.MethodGet, ts.URL+"/v1/health", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("health: %d %s", resp.StatusCode, data)
	}
	var health struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	if err := json.Unmarshal(data, &health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if health.Status != "ok" || health.Checks["engine"] != "ok" {
		t.Fatalf("unexpected health: %s", data)
	}
}
