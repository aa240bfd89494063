package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"geoforge/internal/core"
	"geoforge/internal/geometry"
	"geoforge/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Core        *core.Core
	BasePath    string
	TokenHeader string
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"dataset_not_found"`
	Message string         `json:"message" example:"dataset not found"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// server bundles what the handlers need.
type server struct {
	core        *core.Core
	tokenHeader string
}

// New returns an HTTP handler exposing the Geoforge API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	tokenHeader := cfg.TokenHeader
	if tokenHeader == "" {
		tokenHeader = "X-Token"
	}
	s := &server{core: cfg.Core, tokenHeader: tokenHeader}

	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	hcfg := huma.DefaultConfig("Geoforge API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group, s)
	registerSession(group, s)
	registerDatasets(group, s)
	registerDownload(router, basePath, s)
	registerConstructive(group, s)
	registerFilter(group, s)
	registerJoin(group, s)
	registerJobs(group, s)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, core.ErrSessionNotFound):
		return newAPIError(http.StatusUnauthorized, "no_session", err.Error(), nil)
	case errors.Is(err, core.ErrDatasetNotFound), errors.Is(err, core.ErrNoActiveDataset):
		return newAPIError(http.StatusNotFound, "dataset_not_found", err.Error(), nil)
	case errors.Is(err, core.ErrJobNotFound):
		return newAPIError(http.StatusNotFound, "process_not_found", "Process not found", nil)
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var le *core.LabelError
	if errors.As(err, &le) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
	}
	var ece *core.ExportConflictError
	if errors.As(err, &ece) {
		return newAPIError(http.StatusBadRequest, "export_exists", err.Error(), map[string]any{"status": ece.Status})
	}
	var ce *core.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	}
	var ee *geometry.EngineError
	if errors.As(err, &ee) {
		return newAPIError(http.StatusBadGateway, "engine_error", err.Error(), nil)
	}
	if errors.Is(err, geometry.ErrCRSNotFound) {
		return newAPIError(http.StatusBadRequest, "crs_not_found", err.Error(), nil)
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "no_session"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

// token extracts the session token header from the originating request.
func (s *server) token(ctx context.Context) (string, huma.StatusError) {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	if r == nil {
		return "", newAPIError(http.StatusUnauthorized, "no_session", "session token required", nil)
	}
	token := r.Header.Get(s.tokenHeader)
	if token == "" {
		return "", newAPIError(http.StatusUnauthorized, "no_session", "session token required", nil)
	}
	return token, nil
}

func (s *server) idempotencyKey(ctx context.Context) *string {
	r, _ := ctx.Value(requestKey{}).(*http.Request)
	if r == nil {
		return nil
	}
	if key := r.Header.Get("X-Idempotency-Key"); key != "" {
		return &key
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			spec, _ = json.Marshal(api.OpenAPI())
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Geoforge API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Send your session token in the X-Token header.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body HealthResponse `json:"body"`
	}, error) {
		resp := HealthResponse{Status: "ok", Checks: map[string]string{}}
		check := func(name string, err error) {
			if err != nil {
				resp.Status = "degraded"
				resp.Checks[name] = err.Error()
				return
			}
			resp.Checks[name] = "ok"
		}
		check("store", s.core.DB.PingContext(ctx))
		check("engine", s.core.Geo.Check(ctx))
		check("workspace", dirWritable(s.core.Config.Storage.Workspace))
		check("output", dirWritable(s.core.Config.Storage.OutputDir))
		return &struct {
			Body HealthResponse `json:"body"`
		}{Body: resp}, nil
	})
}

func dirWritable(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".healthcheck-*")
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(f.Name())
}
