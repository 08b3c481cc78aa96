package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"promptline/internal/generation"
	"promptline/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Start(mode generation.Mode, text string) (string, error)
	StartWatch(mode generation.Mode, text string) (string, <-chan generation.Outcome, error)
	Abort() bool
	RestoreRegen() (bool, error)
	Status() types.StatusResponse
	Buffer() types.BufferResponse
	Chat() types.ChatResponse
	Context() types.ContextResponse
	Logs() []string
	Ready() bool
}

// NewMux builds the control API.
//
//	POST /generate   start send|regenerate|continue (?wait=1 blocks until done)
//	POST /abort      abort the running generation
//	POST /restore    put back the reply an interrupted regenerate replaced
//	GET  /status     controller state and counters
//	GET  /buffer     output produced so far
//	GET  /chat       conversation
//	GET  /context    context the next generation would send
//	GET  /logs       recent log lines
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)
	if corsEnabled {
		r.Use(corsMiddleware())
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Post("/generate", func(w http.ResponseWriter, r *http.Request) { handleGenerate(svc, w, r) })

	r.Post("/abort", func(w http.ResponseWriter, r *http.Request) {
		aborted := svc.Abort()
		if ev := reqLog(r, LevelInfo); ev != nil {
			ev.Bool("aborted", aborted).Msg("abort")
		}
		writeJSON(w, http.StatusOK, map[string]bool{"aborted": aborted})
	})

	r.Post("/restore", func(w http.ResponseWriter, r *http.Request) {
		restored, err := svc.RestoreRegen()
		if err != nil {
			writeJSONError(w, statusFor(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"restored": restored})
	})

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Status())
	})
	r.Get("/buffer", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Buffer())
	})
	r.Get("/chat", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Chat())
	})
	r.Get("/context", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.Context())
	})
	r.Get("/logs", func(w http.ResponseWriter, r *http.Request) {
		lines := svc.Logs()
		if v := r.URL.Query().Get("tail"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= 0 && n < len(lines) {
				lines = lines[len(lines)-n:]
			}
		}
		if lines == nil {
			lines = []string{}
		}
		writeJSON(w, http.StatusOK, types.LogsResponse{Lines: lines})
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("generating"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)
	MountSwagger(r)

	return r
}

// handleGenerate godoc
// @Summary      Start a generation
// @Description  Starts send, regenerate or continue. With wait=1 the response is sent after the generation ends.
// @Tags         generation
// @Accept       json
// @Produce      json
// @Param        request  body      types.GenerateRequest  true  "Generation request"
// @Param        wait     query     bool                   false "Block until the generation ends"
// @Success      202      {object}  types.GenerateResponse
// @Success      200      {object}  types.BufferResponse
// @Failure      400      {object}  types.ErrorResponse
// @Failure      409      {object}  types.ErrorResponse
// @Failure      401      {object}  types.ErrorResponse
// @Failure      422      {object}  types.ErrorResponse
// @Failure      502      {object}  types.ErrorResponse
// @Failure      504      {object}  types.ErrorResponse
// @Router       /generate [post]
func handleGenerate(svc Service, w http.ResponseWriter, r *http.Request) {
	var req types.GenerateRequest
	if r.ContentLength != 0 {
		ct := r.Header.Get("Content-Type")
		if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
			countGenerate("", http.StatusUnsupportedMediaType)
			writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			countGenerate("", http.StatusBadRequest)
			writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	mode, err := generation.ParseMode(req.Mode, req.Text)
	if err != nil {
		countGenerate("", http.StatusBadRequest)
		writeJSONError(w, http.StatusBadRequest, err.Error())
		return
	}

	start := time.Now()
	wait := wantWait(r)
	var (
		id   string
		done <-chan generation.Outcome
	)
	if wait {
		id, done, err = svc.StartWatch(mode, req.Text)
	} else {
		id, err = svc.Start(mode, req.Text)
	}
	if err != nil {
		status := statusFor(err)
		countGenerate(string(mode), status)
		if ev := reqLog(r, LevelInfo); ev != nil {
			ev.Int("status", status).Str("mode", string(mode)).Err(err).Msg("generate rejected")
		}
		writeJSONError(w, status, err.Error())
		return
	}
	countGenerate(string(mode), http.StatusAccepted)
	if ev := reqLog(r, LevelInfo); ev != nil {
		ev.Str("mode", string(mode)).Str("generation_id", id).Msg("generate start")
	}

	if !wait {
		writeJSON(w, http.StatusAccepted, types.GenerateResponse{GenerationID: id, Status: string(generation.StateRequesting)})
		return
	}

	ctx, cancel := waitContext(r)
	defer cancel()
	var out generation.Outcome
	select {
	case out = <-done:
	case <-ctx.Done():
		if r.Context().Err() != nil {
			return
		}
		writeJSONError(w, http.StatusGatewayTimeout, "generation still running")
		return
	}
	if ev := reqLog(r, LevelInfo); ev != nil {
		ev.Str("generation_id", id).Str("outcome", string(out.State)).Dur("dur", time.Since(start)).Msg("generate end")
	}
	if out.State == generation.StateErrored && out.Err != nil {
		writeJSONError(w, statusFor(out.Err), out.Err.Error())
		return
	}
	writeJSON(w, http.StatusOK, types.BufferResponse{GenerationID: out.ID, Status: string(out.State), Text: out.Text})
}

func wantWait(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("wait")) {
	case "1", "true", "yes":
		return true
	}
	return false
}
