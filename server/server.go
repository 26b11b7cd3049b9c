// Package server exposes stored sessions and recordings over HTTP and
// streams live interview events over a websocket.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"viva/conversation"
	"viva/interview"
	"viva/log"
	"viva/recording"
	"viva/store"
)

const defaultLimit = 50

// Store is the read side of *store.Store.
type Store interface {
	Sessions(ctx context.Context, limit int) ([]store.Session, error)
	GetSession(ctx context.Context, id string) (store.Session, error)
	Turns(ctx context.Context, sessionID string) ([]conversation.Turn, error)
	Recordings(ctx context.Context) ([]store.Recording, error)
	GetRecording(ctx context.Context, id string) (store.Recording, error)
}

type Deps struct {
	Store   Store
	Hub     *Hub                    // optional; /live is not served without it
	Health  interview.HealthChecker // optional
	Version string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth(deps))
	r.Get("/sessions", handleListSessions(deps))
	r.Get("/sessions/{id}", handleGetSession(deps))
	r.Get("/sessions/{id}/transcript", handleTranscript(deps))
	r.Get("/recordings", handleListRecordings(deps))
	r.Get("/recordings/{id}", handleDownloadRecording(deps))
	if deps.Hub != nil {
		r.Handle("/live", deps.Hub)
	}
	return r
}

// Serve runs handler on addr until ctx is done.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Infof("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := map[string]any{"status": "ok", "version": deps.Version}
		if deps.Health != nil {
			if err := deps.Health.CheckHealth(r.Context()); err != nil {
				resp["backend"] = err.Error()
			} else {
				resp["backend"] = "ok"
			}
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func handleListSessions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := defaultLimit
		if v := r.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			limit = n
		}
		sessions, err := deps.Store.Sessions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sessions: %v", err)
			return
		}
		if sessions == nil {
			sessions = []store.Session{}
		}
		writeJSON(w, http.StatusOK, sessions)
	}
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := deps.Store.GetSession(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sess)
	}
}

type turnJSON struct {
	Speaker    string    `json:"speaker"`
	Label      string    `json:"label"`
	Text       string    `json:"text"`
	OccurredAt time.Time `json:"occurred_at"`
}

func toTurnJSON(t conversation.Turn) turnJSON {
	return turnJSON{Speaker: t.Speaker.String(), Label: t.Label, Text: t.Text, OccurredAt: t.OccurredAt}
}

func handleTranscript(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetSession(r.Context(), id); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				httpError(w, http.StatusNotFound, "not_found", "session not found")
				return
			}
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get session: %v", err)
			return
		}
		turns, err := deps.Store.Turns(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load transcript: %v", err)
			return
		}
		out := make([]turnJSON, 0, len(turns))
		for _, t := range turns {
			out = append(out, toTurnJSON(t))
		}
		writeJSON(w, http.StatusOK, map[string]any{"session_id": id, "turns": out})
	}
}

type recordingJSON struct {
	store.Recording
	URL string `json:"url"`
}

func handleListRecordings(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recs, err := deps.Store.Recordings(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list recordings: %v", err)
			return
		}
		out := make([]recordingJSON, 0, len(recs))
		for _, rec := range recs {
			out = append(out, recordingJSON{Recording: rec, URL: "/recordings/" + rec.ID})
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleDownloadRecording(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, err := deps.Store.GetRecording(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, store.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "recording not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get recording: %v", err)
			return
		}
		f, err := os.Open(rec.Path)
		if err != nil {
			httpError(w, http.StatusGone, "not_found", "recording file is missing")
			return
		}
		defer f.Close()
		w.Header().Set("Content-Type", recording.MimeType)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", rec.Name))
		http.ServeContent(w, r, rec.Name, rec.CreatedAt, f)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
