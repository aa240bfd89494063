package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"geoforge/internal/domain"
)

func registerJobs(api huma.API, s *server) {
	huma.Register(api, huma.Operation{
		OperationID: "jobs-list",
		Method:      http.MethodGet,
		Path:        "/jobs",
		Summary:     "List active jobs",
		Description: "Non-completed jobs across all sessions, oldest first.",
		Tags:        []string{"Jobs"},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.ActiveJob `json:"body"`
	}, error) {
		jobs, err := s.core.ActiveJobs(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.ActiveJob `json:"body"`
		}{Body: jobs}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "jobs-status",
		Method:      http.MethodGet,
		Path:        "/jobs/status",
		Summary:     "Poll a job",
		Description: "Resolves a job by ticket or idempotency key. Exactly one of the two is required.",
		Tags:        []string{"Jobs"},
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Ticket         string `query:"ticket" doc:"Ticket returned when the job was accepted"`
		IdempotencyKey string `query:"idempotency-key" doc:"Idempotency key the job was submitted with"`
	}) (*struct {
		Body domain.JobView `json:"body"`
	}, error) {
		if input.Ticket == "" && input.IdempotencyKey == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "one of ticket, idempotency-key is required", nil)
		}
		view, err := s.core.Status(ctx, input.Ticket, input.IdempotencyKey)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.JobView `json:"body"`
		}{Body: view}, nil
	})
}
