package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	pollregistry "archvote/contexts/governance/poll-registry"
	pollerrors "archvote/contexts/governance/poll-registry/domain/errors"
	pollhttp "archvote/contexts/governance/poll-registry/transport/http"

	httpSwagger "github.com/swaggo/http-swagger"
	_ "archvote/internal/platform/httpserver/docs"
)

const walletHeader = "X-Wallet-Address"

type Server struct {
	mux        *http.ServeMux
	httpServer *http.Server
	logger     *slog.Logger
	addr       string
	polls      pollregistry.Module
}

// @title Poll Registry API
// @version 1.0
// @description Time-boxed polls with one vote per wallet.
// @BasePath /
func New(polls pollregistry.Module, logger *slog.Logger, addr string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if addr == "" {
		addr = ":8080"
	}

	s := &Server{
		mux:    http.NewServeMux(),
		logger: logger,
		addr:   addr,
		polls:  polls,
	}
	s.registerRoutes()
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Start blocks until the server stops. A graceful Shutdown is not an error.
func (s *Server) Start() error {
	s.logger.Info("http server starting",
		"event", "http_server_starting",
		"module", "internal/platform/httpserver",
		"layer", "platform",
		"addr", s.addr,
	)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.Handle("/swagger/", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	s.mux.HandleFunc("POST /v1/polls", s.handleCreatePoll)
	s.mux.HandleFunc("GET /v1/polls/active", s.handleActivePolls)
	s.mux.HandleFunc("POST /v1/polls/expire", s.handleExpirePolls)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}", s.handleGetPoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/results", s.handleResults)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/results/detailed", s.handleDetailedResults)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/votes", s.handleCastVote)
	s.mux.HandleFunc("POST /v1/polls/{poll_id}/close", s.handleClosePoll)
	s.mux.HandleFunc("GET /v1/polls/{poll_id}/voters/{wallet_address}", s.handleHasVoted)

	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (s *Server) handleCreatePoll(w http.ResponseWriter, r *http.Request) {
	creator, ok := requireWallet(w, r)
	if !ok {
		return
	}

	var req pollhttp.CreatePollRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}

	resp, err := s.polls.Handler.CreatePollHandler(r.Context(), creator, r.Header.Get("Idempotency-Key"), req)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	status := http.StatusCreated
	if resp.Replayed {
		status = http.StatusOK
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleActivePolls(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.polls.Handler.ActivePollsHandler(r.Context()))
}

func (s *Server) handleExpirePolls(w http.ResponseWriter, r *http.Request) {
	resp, err := s.polls.Handler.ExpirePollsHandler(r.Context())
	if err != nil {
		s.logger.Error("expire polls request failed",
			"event", "http_expire_polls_failed",
			"module", "internal/platform/httpserver",
			"layer", "platform",
			"closed_count", len(resp.ClosedPollIDs),
			"error", err.Error(),
		)
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGetPoll(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.GetPollHandler(r.Context(), pollID)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleResults(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.ResultsHandler(r.Context(), pollID)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleDetailedResults(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.DetailedResultsHandler(r.Context(), pollID)
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	wallet, ok := requireWallet(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}

	var req pollhttp.CastVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_json", "request body must be valid JSON")
		return
	}
	if err := s.polls.Handler.CastVoteHandler(r.Context(), pollID, wallet, req); err != nil {
		writePollDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClosePoll(w http.ResponseWriter, r *http.Request) {
	caller, ok := requireWallet(w, r)
	if !ok {
		return
	}
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	if err := s.polls.Handler.ClosePollHandler(r.Context(), pollID, caller); err != nil {
		writePollDomainError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHasVoted(w http.ResponseWriter, r *http.Request) {
	pollID, ok := parsePollID(w, r)
	if !ok {
		return
	}
	resp, err := s.polls.Handler.HasVotedHandler(r.Context(), pollID, r.PathValue("wallet_address"))
	if err != nil {
		writePollDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func requireWallet(w http.ResponseWriter, r *http.Request) (string, bool) {
	wallet := strings.TrimSpace(r.Header.Get(walletHeader))
	if wallet == "" {
		writePollError(w, http.StatusUnauthorized, "missing_wallet", walletHeader+" header is required")
		return "", false
	}
	return wallet, true
}

func parsePollID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	pollID, err := strconv.ParseUint(r.PathValue("poll_id"), 10, 64)
	if err != nil {
		writePollError(w, http.StatusBadRequest, "invalid_poll_id", "poll_id must be a non-negative integer")
		return 0, false
	}
	return pollID, true
}

func writePollDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pollerrors.ErrPollNotFound):
		writePollError(w, http.StatusNotFound, "poll_not_found", err.Error())
	case errors.Is(err, pollerrors.ErrUnauthorized):
		writePollError(w, http.StatusForbidden, "unauthorized", err.Error())
	case errors.Is(err, pollerrors.ErrPollNotActive):
		writePollError(w, http.StatusConflict, "poll_not_active", err.Error())
	case errors.Is(err, pollerrors.ErrPollAlreadyEnded):
		writePollError(w, http.StatusConflict, "poll_already_ended", err.Error())
	case errors.Is(err, pollerrors.ErrPollNotEnded):
		writePollError(w, http.StatusConflict, "poll_not_ended", err.Error())
	case errors.Is(err, pollerrors.ErrAlreadyVoted):
		writePollError(w, http.StatusConflict, "already_voted", err.Error())
	case errors.Is(err, pollerrors.ErrInvalidOption):
		writePollError(w, http.StatusUnprocessableEntity, "invalid_option", err.Error())
	case errors.Is(err, pollerrors.ErrInvalidTimeRange):
		writePollError(w, http.StatusUnprocessableEntity, "invalid_time_range", err.Error())
	case errors.Is(err, pollerrors.ErrIdempotencyConflict):
		writePollError(w, http.StatusConflict, "idempotency_conflict", err.Error())
	case errors.Is(err, pollerrors.ErrIdempotencyInProgress):
		writePollError(w, http.StatusConflict, "request_in_progress", err.Error())
	case errors.Is(err, pollerrors.ErrConflict):
		writePollError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, pollerrors.ErrIdempotencyKeyRequired):
		writePollError(w, http.StatusBadRequest, "idempotency_key_required", err.Error())
	default:
		writePollError(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}

func writePollError(w http.ResponseWriter, status int, code string, message string) {
	writeJSON(w, status, pollhttp.ErrorResponse{
		Code:    code,
		Message: message,
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
