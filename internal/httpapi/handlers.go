package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/google/uuid"

	"msghook/internal/relay"
	logx "msghook/pkg/logx"
)

// sendResponse is the POST /send body. Attempted and Succeeded are set
// whenever fan-out ran.
type sendResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempted *int   `json:"attempted,omitempty"`
	Succeeded *int   `json:"succeeded,omitempty"`
}

func (s *Service) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", s.handleSend)
	mux.HandleFunc("GET /health", s.handleHealth)
	return s.withRequestLog(mux)
}

func (s *Service) handleSend(w http.ResponseWriter, r *http.Request) {
	cfg := s.snapshot()
	credential := r.Header.Get("Authorization")
	log := requestLogger(r.Context(), s.log)

	// auth and the forwarding switch are checked before the body is read
	if err := s.engine.Precheck(cfg, credential); err != nil {
		s.writeError(w, log, err, nil)
		return
	}

	req, err := decodeSendRequest(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		s.writeError(w, log, relay.Unexpected(err), nil)
		return
	}

	// A caller hanging up must not cut a fan-out short half way.
	res, err := s.engine.Relay(context.WithoutCancel(r.Context()), cfg, credential, req)
	if err != nil {
		var counts *relay.Result
		if relay.KindOf(err) == relay.KindAllFailed {
			counts = &res
		}
		s.writeError(w, log, err, counts)
		return
	}
	writeJSON(w, http.StatusOK, sendResponse{
		Success:   true,
		Message:   res.Summary(),
		Attempted: &res.Attempted,
		Succeeded: &res.Succeeded,
	})
}

// decodeSendRequest reads exactly one JSON object. null, arrays, scalars and
// anything after the object are errors.
func decodeSendRequest(body io.Reader) (relay.SendRequest, error) {
	var req relay.SendRequest
	dec := json.NewDecoder(body)

	var raw json.RawMessage
	if err := dec.Decode(&raw); err != nil {
		return req, err
	}
	if err := dec.Decode(new(json.RawMessage)); !errors.Is(err, io.EOF) {
		if err == nil {
			return req, errors.New("trailing data after request body")
		}
		return req, fmt.Errorf("trailing data after request body: %w", err)
	}
	if raw = bytes.TrimSpace(raw); len(raw) == 0 || raw[0] != '{' {
		return req, errors.New("request body must be a JSON object")
	}
	if err := json.Unmarshal(raw, &req); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, relay.HealthOf(s.snapshot()))
}

func (s *Service) writeError(w http.ResponseWriter, log logx.Logger, err error, counts *relay.Result) {
	kind := relay.KindOf(err)
	status := statusFor(kind)
	if status >= 500 {
		log.Error("send rejected", logx.String("kind", string(kind)), logx.Err(err))
	} else {
		log.Warn("send rejected", logx.String("kind", string(kind)), logx.Err(err))
	}

	body := sendResponse{Success: false, Error: relay.Message(err)}
	if counts != nil {
		body.Attempted, body.Succeeded = &counts.Attempted, &counts.Succeeded
	}
	writeJSON(w, status, body)
}

func statusFor(kind relay.Kind) int {
	switch kind {
	case relay.KindUnauthorized:
		return http.StatusUnauthorized
	case relay.KindForwardingDisabled:
		return http.StatusForbidden
	case relay.KindEmptyMessage, relay.KindNoDestinations:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type ctxKey struct{}

func requestLogger(ctx context.Context, def logx.Logger) logx.Logger {
	if l, ok := ctx.Value(ctxKey{}).(logx.Logger); ok {
		return l
	}
	return def
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// withRequestLog tags every request with X-Request-ID, recovers handler
// panics into a 500 and writes one access log line.
func (s *Service) withRequestLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rid := r.Header.Get("X-Request-ID")
		if rid == "" || len(rid) > 128 {
			rid = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", rid)

		log := s.log.With(logx.String("rid", rid))
		rec := &statusRecorder{ResponseWriter: w}
		defer func() {
			if p := recover(); p != nil {
				log.Error("panic in http handler", logx.Any("panic", p), logx.String("stack", string(debug.Stack())))
				if rec.status == 0 {
					writeJSON(rec, http.StatusInternalServerError, sendResponse{Error: "internal error"})
				}
			}
			log.Info("http request",
				logx.String("method", r.Method),
				logx.String("path", r.URL.Path),
				logx.Int("status", rec.status),
				logx.Duration("dur", time.Since(start)),
				logx.String("remote", r.RemoteAddr),
			)
		}()

		next.ServeHTTP(rec, r.WithContext(context.WithValue(r.Context(), ctxKey{}, log)))
	})
}
