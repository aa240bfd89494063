package server

import (
	"context"
	"net/http"
	"path"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"

	"geoforge/internal/domain"
	"geoforge/internal/geometry"
)

type pageQuery struct {
	Page    int `query:"page" minimum:"1" doc:"Page number, starting at 1"`
	PerPage int `query:"results_per_page" minimum:"1" doc:"Results per page, capped by the server"`
}

func registerDatasets(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "datasets-list",
		Method:      http.MethodGet,
		Path:        "/datasets",
		Summary:     "List datasets",
		Description: "Live datasets of the session with their lineage, oldest first.",
		Tags:        []string{"Datasets"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DatasetInfo `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		items, err := s.core.Datasets(ctx, token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DatasetInfo `json:"body"`
		}{Body: items}, nil
	})

	rowsHandler := func(ctx context.Context, label string, page pageQuery) (*struct {
		Body geometry.RowPage `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		rows, err := s.core.DatasetRows(ctx, token, label, page.Page, page.PerPage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body geometry.RowPage `json:"body"`
		}{Body: *rows}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "dataset-rows-active",
		Method:      http.MethodGet,
		Path:        "/datasets/rows",
		Summary:     "View the active dataset",
		Tags:        []string{"Datasets"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct{ pageQuery }) (*struct {
		Body geometry.RowPage `json:"body"`
	}, error) {
		return rowsHandler(ctx, "", input.pageQuery)
	})

	huma.Register(api, huma.Operation{
		OperationID: "dataset-rows",
		Method:      http.MethodGet,
		Path:        "/datasets/rows/{label}",
		Summary:     "View a dataset",
		Tags:        []string{"Datasets"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Label string `path:"label"`
		pageQuery
	}) (*struct {
		Body geometry.RowPage `json:"body"`
	}, error) {
		return rowsHandler(ctx, input.Label, input.pageQuery)
	})

	geojsonHandler := func(ctx context.Context, label string, page pageQuery) (*struct {
		Body geometry.FeaturePage `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		fc, err := s.core.DatasetGeoJSON(ctx, token, label, page.Page, page.PerPage)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body geometry.FeaturePage `json:"body"`
		}{Body: *fc}, nil
	}

	huma.Register(api, huma.Operation{
		OperationID: "dataset-geojson-active",
		Method:      http.MethodGet,
		Path:        "/datasets/geojson",
		Summary:     "View the active dataset as GeoJSON",
		Tags:        []string{"Datasets"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct{ pageQuery }) (*struct {
		Body geometry.FeaturePage `json:"body"`
	}, error) {
		return geojsonHandler(ctx, "", input.pageQuery)
	})

	huma.Register(api, huma.Operation{
		OperationID: "dataset-geojson",
		Method:      http.MethodGet,
		Path:        "/datasets/geojson/{label}",
		Summary:     "View a dataset as GeoJSON",
		Tags:        []string{"Datasets"},
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Label string `path:"label"`
		pageQuery
	}) (*struct {
		Body geometry.FeaturePage `json:"body"`
	}, error) {
		return geojsonHandler(ctx, input.Label, input.pageQuery)
	})
}

// registerDownload serves exported artifacts. Registered on the router
// directly so the file bytes stream without schema handling.
func registerDownload(r chi.Router, basePath string, s *server) {
	r.Get(path.Join(basePath, "/datasets/download/{filename}"), func(w http.ResponseWriter, req *http.Request) {
		token := req.Header.Get(s.tokenHeader)
		if token == "" {
			writeErrorJSON(w, http.StatusUnauthorized, "no_session", "session token required")
			return
		}
		filename := chi.URLParam(req, "filename")
		file, err := s.core.DownloadPath(req.Context(), token, filename)
		if err != nil {
			statusErr := handleError(err)
			writeErrorJSON(w, statusErr.GetStatus(), "", statusErr.Error())
			return
		}
		w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
		http.ServeFile(w, req, file)
	})
}

func writeErrorJSON(w http.ResponseWriter, status int, code, message string) {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := `{"error":{"code":"` + code + `","message":"` + message + `"}}`
	w.Write([]byte(body))
}
