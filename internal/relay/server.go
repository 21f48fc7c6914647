package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"gopkg.in/op/go-logging.v1"

	"pulse/internal/domain"
	"pulse/internal/wire"
)

const (
	maxBodyBytes    = 1 << 20
	defaultLongPoll = 25 * time.Second
)

// Server exposes a Hub over HTTP.
//
//	POST /bundles/{user}                     publish []PreKeyBundle
//	GET  /bundles/{user}                     take one PreKeyBundle (404 if none)
//	POST /conversations/{id}/envelopes       append one Envelope
//	GET  /conversations/{id}/envelopes?after=N[&wait=ms]
//	                                         envelopes with Seq > N, long-polling
//	                                         up to wait when there are none
type Server struct {
	hub      *Hub
	log      *logging.Logger
	longPoll time.Duration
	mux      *http.ServeMux
}

// NewServer returns an http.Handler serving hub.
func NewServer(hub *Hub, log *logging.Logger) *Server {
	s := &Server{hub: hub, log: log, longPoll: defaultLongPoll, mux: http.NewServeMux()}
	s.mux.HandleFunc("POST /bundles/{user}", s.publishBundles)
	s.mux.HandleFunc("GET /bundles/{user}", s.fetchBundle)
	s.mux.HandleFunc("POST /conversations/{id}/envelopes", s.postEnvelope)
	s.mux.HandleFunc("GET /conversations/{id}/envelopes", s.getEnvelopes)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.mux.ServeHTTP(rec, r)
	s.log.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
}

func (s *Server) publishBundles(w http.ResponseWriter, r *http.Request) {
	user := domain.UserID(r.PathValue("user"))
	var bundles []domain.PreKeyBundle
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&bundles); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.hub.PublishBundles(r.Context(), user, bundles); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) fetchBundle(w http.ResponseWriter, r *http.Request) {
	b, err := s.hub.FetchBundle(r.Context(), domain.UserID(r.PathValue("user")))
	if errors.Is(err, domain.ErrNoBundle) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, b)
}

func (s *Server) postEnvelope(w http.ResponseWriter, r *http.Request) {
	conv := domain.ConversationID(r.PathValue("id"))
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	env, err := wire.UnmarshalEnvelope(body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.hub.Send(r.Context(), conv, env); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getEnvelopes(w http.ResponseWriter, r *http.Request) {
	conv := domain.ConversationID(r.PathValue("id"))
	q := r.URL.Query()
	var after uint64
	if v := q.Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			http.Error(w, "bad after", http.StatusBadRequest)
			return
		}
		after = n
	}
	wait := time.Duration(0)
	if v := q.Get("wait"); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			http.Error(w, "bad wait", http.StatusBadRequest)
			return
		}
		wait = min(time.Duration(ms)*time.Millisecond, s.longPoll)
	}

	envs, notify := s.hub.Since(conv, after)
	if len(envs) == 0 && wait > 0 {
		ctx, cancel := context.WithTimeout(r.Context(), wait)
		select {
		case <-notify:
			envs, _ = s.hub.Since(conv, after)
		case <-ctx.Done():
		}
		cancel()
	}
	if envs == nil {
		envs = []domain.Envelope{}
	}
	writeJSON(w, envs)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
