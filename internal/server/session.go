package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"geoforge/internal/core"
	"geoforge/internal/domain"
)

func registerSession(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "session-info",
		Method:      http.MethodGet,
		Path:        "/session",
		Summary:     "Session overview",
		Tags:        []string{"Session"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body domain.SessionInfo `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		info, err := s.core.Info(ctx, token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SessionInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-ingest",
		Method:        http.MethodPost,
		Path:          "/session/ingest",
		Summary:       "Ingest a file into a new dataset",
		Description:   "Queues an asynchronous ingestion. The session is created on first use. Poll the returned ticket for the outcome.",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body IngestRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Path == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "path is required", nil)
		}
		job, err := s.core.SubmitIngest(ctx, token, input.Body.Label, s.idempotencyKey(ctx), core.IngestParams{
			File:       input.Body.Path,
			CRS:        input.Body.CRS,
			Encoding:   input.Body.Encoding,
			Delimiter:  input.Body.Delimiter,
			Lat:        input.Body.Lat,
			Lon:        input.Body.Lon,
			GeomColumn: input.Body.Geom,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(job)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-close",
		Method:        http.MethodDelete,
		Path:          "/session",
		Summary:       "Close the session",
		Description:   "Deletes the session's datasets and resources. Completed job history is kept.",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := s.core.Close(ctx, token); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-set-active",
		Method:      http.MethodPut,
		Path:        "/session/active",
		Summary:     "Set the active dataset",
		Tags:        []string{"Session"},
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Body SetActiveRequest `json:"body"`
	}) (*struct {
		Body domain.DatasetInfo `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		info, err := s.core.SetActiveDataset(ctx, token, input.Body.Label)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.DatasetInfo `json:"body"`
		}{Body: info}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "session-exports",
		Method:      http.MethodGet,
		Path:        "/session/export",
		Summary:     "List exports",
		Description: "Exports of the session's datasets, grouped by dataset label.",
		Tags:        []string{"Session"},
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.DatasetExports `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		exports, err := s.core.Exports(ctx, token)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.DatasetExports `json:"body"`
		}{Body: exports}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "session-export",
		Method:        http.MethodPost,
		Path:          "/session/export",
		Summary:       "Export a dataset to file",
		Description:   "Queues an asynchronous export. One export per dataset and driver.",
		Tags:          []string{"Session"},
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		Body ExportRequest `json:"body"`
	}) (*struct {
		Body TicketResponse `json:"body"`
	}, error) {
		token, authErr := s.token(ctx)
		if authErr != nil {
			return nil, authErr
		}
		job, err := s.core.SubmitExport(ctx, token, input.Body.Label, input.Body.Driver,
			core.ExportParams{CopyToOutput: input.Body.CopyToOutput}, s.idempotencyKey(ctx))
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body TicketResponse `json:"body"`
		}{Body: ticketResponse(job)}, nil
	})
}

func ticketResponse(job domain.Job) TicketResponse {
	return TicketResponse{
		Ticket:    job.Ticket,
		StatusURI: "/jobs/status?ticket=" + job.Ticket,
	}
}
