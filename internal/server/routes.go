// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Mnemo-Lite Contributors

package server

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	mnemoerr "github.com/giak/mnemo-lite-sub001/pkg/errors"
	"github.com/giak/mnemo-lite-sub001/pkg/health"
)

func (s *Server) registerRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health report",
		Tags:        []string{"system"},
	}, s.handleHealth)

	huma.Register(s.api, huma.Operation{
		OperationID: "list-breakers",
		Method:      http.MethodGet,
		Path:        "/api/v1/breakers",
		Summary:     "List circuit breakers",
		Tags:        []string{"breakers"},
	}, s.handleListBreakers)

	huma.Register(s.api, huma.Operation{
		OperationID: "reset-breaker",
		Method:      http.MethodPost,
		Path:        "/api/v1/breakers/{name}/reset",
		Summary:     "Force a circuit breaker closed",
		Tags:        []string{"breakers"},
	}, s.handleResetBreaker)
}

// --- Request/Response types for huma ---

type healthOutput struct {
	Body health.Report
}

type listBreakersOutput struct {
	Body struct {
		Breakers []health.BreakerStatus `json:"breakers"`
	}
}

type resetBreakerInput struct {
	Name string `path:"name"`
}

type resetBreakerOutput struct {
	Body struct {
		Name  string `json:"name"`
		State string `json:"state"`
	}
}

func (s *Server) handleHealth(_ context.Context, _ *struct{}) (*healthOutput, error) {
	var workers []health.WorkerStatus
	if s.workers != nil {
		workers = s.workers.Snapshot()
	}

	return &healthOutput{
		Body: health.Compute(s.breakers.Snapshot(), workers),
	}, nil
}

func (s *Server) handleListBreakers(_ context.Context, _ *struct{}) (*listBreakersOutput, error) {
	out := &listBreakersOutput{}
	out.Body.Breakers = s.breakers.Snapshot()
	return out, nil
}

// handleResetBreaker is the operator override: it forces the breaker
// closed regardless of recent failures.
func (s *Server) handleResetBreaker(_ context.Context, in *resetBreakerInput) (*resetBreakerOutput, error) {
	if err := s.breakers.Reset(in.Name); err != nil {
		if mnemoerr.HasCode(err, mnemoerr.CodeBreakerUnknown) {
			return nil, huma.Error404NotFound("unknown breaker " + in.Name)
		}
		return nil, huma.Error500InternalServerError("resetting breaker", err)
	}

	s.logger.Warn("breaker reset via admin endpoint", "breaker", in.Name)

	out := &resetBreakerOutput{}
	out.Body.Name = in.Name
	out.Body.State = "closed"
	return out, nil
}
