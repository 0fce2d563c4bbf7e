// Copyright 2025 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/blinklabs-io/devote/internal/base62"
	"github.com/blinklabs-io/devote/internal/errs"
	"github.com/blinklabs-io/devote/internal/identity"
	"github.com/blinklabs-io/devote/provision"
)

const (
	maxRequestBodySize = 1 << 20
	headerRequestID    = "X-Request-Id"
)

// writeJSON writes a JSON response with the given status code.
func writeJSON(
	w http.ResponseWriter,
	status int,
	v any,
) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	//nolint:errcheck,errchkjson
	json.NewEncoder(w).Encode(v)
}

func writeError(
	w http.ResponseWriter,
	status int,
	message string,
) {
	writeJSON(w, status, ErrorResponse{
		StatusCode: status,
		Error:      http.StatusText(status),
		Message:    message,
	})
}

// statusOf maps an error kind to its HTTP status
func statusOf(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation),
		errors.Is(err, errs.ErrBackendNotFound):
		return http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, errs.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, errs.ErrNotReady),
		errors.Is(err, provision.ErrInProgress):
		return http.StatusConflict
	case errors.Is(err, errs.ErrResourceExhausted):
		return http.StatusGone
	case errors.Is(err, errs.ErrTryAgainLater):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// fail writes the response for a failed service call
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		s.logger.Error(
			"request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", w.Header().Get(headerRequestID),
			"error", err,
		)
		writeError(w, status, "internal error")
		return
	}
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "10")
	}
	writeError(w, status, err.Error())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errs.NewValidationError("body", fmt.Sprintf("malformed JSON: %s", err))
	}
	return nil
}

func pathID(r *http.Request, name string) (uint, error) {
	id, err := base62.Decode(r.PathValue(name))
	if err != nil {
		// Unknown ids and malformed ids look the same to callers
		return 0, fmt.Errorf("%s: %w", name, errs.ErrNotFound)
	}
	return id, nil
}

// requireUser returns the caller or fails the request when it carries no
// identity
func (s *Server) requireUser(w http.ResponseWriter, r *http.Request) (identity.User, bool) {
	user := identity.FromHeaders(r.Header)
	if user.Anonymous() {
		writeError(w, http.StatusForbidden, "missing caller identity")
		return user, false
	}
	return user, true
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := r.Header.Get(headerRequestID)
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set(headerRequestID, requestID)
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug(
			"request served",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"request_id", requestID,
			"duration", time.Since(start),
		)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{IsHealthy: true})
}

// handleCreateVoting handles POST /api/v1/votings. Provisioning continues
// in the background after the voting is persisted.
func (s *Server) handleCreateVoting(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req provision.Request
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	req.CreatedBy = user.ID
	id, err := s.config.Provisioner.Provision(r.Context(), req)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, CreateVotingResponse{ID: base62.Encode(id)})
}

func (s *Server) handleGetVoting(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	view, err := s.config.Votings.Get(r.Context(), id, identity.FromHeaders(r.Header))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleListVotings(w http.ResponseWriter, r *http.Request) {
	params, err := ParsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page, err := s.config.Votings.ListPublic(r.Context(), params.Offset, params.Limit)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (s *Server) handleEncryptOption(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r, "id")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req EncryptOptionRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	result, err := s.config.Votings.EncryptOptionCode(r.Context(), id, req.OptionCode)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EncryptOptionResponse{Result: result})
}

func (s *Server) handleCommissionInit(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	var req CommissionInitRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	votingID, err := base62.Decode(req.VotingID)
	if err != nil {
		s.fail(w, r, errs.NewValidationError("votingId", err.Error()))
		return
	}
	result, err := s.config.Commission.Init(r.Context(), votingID, user)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, CommissionInitResponse{
		PublicKey: result.PublicKey,
		SessionID: base62.Encode(result.SessionID),
	})
}

func (s *Server) handleSignEnvelope(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	votingID, err := pathID(r, "votingId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	var req SignEnvelopeRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	signature, err := s.config.Commission.SignEnvelope(r.Context(), votingID, user.ID, req.Envelope)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EnvelopeSignatureResponse{EnvelopeSignature: signature})
}

func (s *Server) handleGetEnvelope(w http.ResponseWriter, r *http.Request) {
	user, ok := s.requireUser(w, r)
	if !ok {
		return
	}
	votingID, err := pathID(r, "votingId")
	if err != nil {
		s.fail(w, r, err)
		return
	}
	signature, err := s.config.Commission.EnvelopeSignatureOf(r.Context(), votingID, user.ID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, EnvelopeSignatureResponse{EnvelopeSignature: signature})
}

// handleRequestAccount handles POST /api/v1/commission/account. It is
// called anonymously; the revealed signature proves the envelope.
func (s *Server) handleRequestAccount(w http.ResponseWriter, r *http.Request) {
	var req AccountRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	stored, err := s.config.Commission.RequestAccountCreation(
		r.Context(),
		req.EnvelopeSignature,
		req.RevealedSignature,
		req.Message,
	)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: stored.Transaction})
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	stored, err := s.config.Commission.TransactionOf(r.Context(), r.PathValue("signature"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, TransactionResponse{Transaction: stored.Transaction})
}
