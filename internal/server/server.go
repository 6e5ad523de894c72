package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/forPelevin/clipper/internal/jobs"
	"github.com/forPelevin/clipper/internal/types"
)

const maxBodyBytes = 1 << 20

// Jobs is the job manager surface the API needs.
type Jobs interface {
	Submit(spec types.JobSpec) (types.JobSnapshot, error)
	Get(id string) (types.JobSnapshot, error)
	Cancel(id string) error
}

// URLSigner turns a published object ref into a time-limited URL.
type URLSigner interface {
	SignedURL(ctx context.Context, ref string, ttl time.Duration) (string, error)
}

type Options struct {
	// Metrics serves /metrics when set.
	Metrics http.Handler
	URLTTL  time.Duration
	Log     zerolog.Logger
}

type Server struct {
	jobs   Jobs
	signer URLSigner
	opts   Options
	log    zerolog.Logger
	mux    *http.ServeMux
}

func New(j Jobs, signer URLSigner, opts Options) *Server {
	if opts.URLTTL <= 0 {
		opts.URLTTL = time.Hour
	}
	s := &Server{
		jobs:   j,
		signer: signer,
		opts:   opts,
		log:    opts.Log.With().Str("component", "http").Logger(),
		mux:    http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("POST /v1/jobs", s.handleSubmit)
	s.mux.HandleFunc("GET /v1/jobs/{id}", s.handleGet)
	s.mux.HandleFunc("DELETE /v1/jobs/{id}", s.handleCancel)
	s.mux.HandleFunc("GET /v1/jobs/{id}/outputs/{index}/url", s.handleOutputURL)
	if opts.Metrics != nil {
		s.mux.Handle("GET /metrics", opts.Metrics)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

type errorResponse struct {
	Error string `json:"error"`
	// JobID is set when a rejected submission was still recorded.
	JobID string `json:"job_id,omitempty"`
}

type urlResponse struct {
	URL       string    `json:"url"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var spec types.JobSpec
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request: %v", err))
		return
	}

	snap, err := s.jobs.Submit(spec)
	switch {
	case err == nil:
		s.log.Info().Str("job_id", snap.ID).Str("source", spec.SourceRef).Msg("job accepted")
		writeJSON(w, http.StatusAccepted, snap)
	case errors.Is(err, types.ErrConstraintViolation):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error(), JobID: snap.ID})
	case errors.Is(err, jobs.ErrQueueFull), errors.Is(err, jobs.ErrShuttingDown):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.log.Error().Err(err).Msg("submit failed")
		writeError(w, http.StatusInternalServerError, "failed to submit job")
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.jobs.Cancel(id); err != nil {
		s.writeJobError(w, err)
		return
	}
	snap, err := s.jobs.Get(id)
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, snap)
}

func (s *Server) handleOutputURL(w http.ResponseWriter, r *http.Request) {
	snap, err := s.jobs.Get(r.PathValue("id"))
	if err != nil {
		s.writeJobError(w, err)
		return
	}
	idx, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || idx < 0 || idx >= len(snap.Outputs) {
		writeError(w, http.StatusNotFound, "output not found")
		return
	}
	ready, ok := snap.Outputs[idx].Status.(types.Ready)
	if !ok {
		writeError(w, http.StatusConflict, fmt.Sprintf("output %d is %s", idx, snap.Outputs[idx].State()))
		return
	}
	if s.signer == nil {
		writeError(w, http.StatusNotImplemented, "no object store configured")
		return
	}

	url, err := s.signer.SignedURL(r.Context(), ready.MediaRef, s.opts.URLTTL)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", snap.ID).Int("output", idx).Msg("sign url failed")
		writeError(w, http.StatusBadGateway, "failed to sign url")
		return
	}
	writeJSON(w, http.StatusOK, urlResponse{URL: url, ExpiresAt: time.Now().Add(s.opts.URLTTL).UTC()})
}

func (s *Server) writeJobError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, jobs.ErrJobNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, jobs.ErrJobFinished):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.log.Error().Err(err).Msg("job request failed")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// ListenAndServe serves h on addr until ctx is canceled, then shuts the
// listener down within grace.
func ListenAndServe(ctx context.Context, addr string, h http.Handler, grace time.Duration, log zerolog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info().Msg("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
