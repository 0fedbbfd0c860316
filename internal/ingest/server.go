// Package ingest exposes the HTTP surface of the canvas transform service:
// metadata submission, WebRTC data channel signaling, health, stats and metrics.
package ingest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/zachmartin/gaming-capture/host/canvas-transform/internal/metadata"
)

// MaxMessageSize bounds a single metadata message body.
const MaxMessageSize = 64 << 10

// ErrInboundFull is returned by Server.Deliver when the inbound channel has
// no free slot.
var ErrInboundFull = errors.New("inbound metadata channel full")

// QueueStats reports the state of the metadata queue.
type QueueStats interface {
	Len() int
	Last() (metadata.Record, bool)
}

// Options configures a Server.
type Options struct {
	AllowedOrigins []string
	ICEServers     []string
	Stats          QueueStats
	Metrics        http.Handler
}

// Server routes metadata messages from HTTP and WebRTC peers into the inbound
// channel consumed by metadata.Listener.
type Server struct {
	in       chan<- []byte
	opts     Options
	log      zerolog.Logger
	sessions *sessions
	router   *mux.Router
}

// NewServer creates a Server that forwards messages to in.
func NewServer(in chan<- []byte, opts Options, log zerolog.Logger) *Server {
	log = log.With().Str("component", "ingest").Logger()
	s := &Server{
		in:       in,
		opts:     opts,
		log:      log,
		sessions: newSessions(opts.ICEServers, log),
	}

	r := mux.NewRouter()
	r.Use(s.cors)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/metadata", s.handleMetadata).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/webrtc/offer", s.handleOffer).Methods(http.MethodPost, http.MethodOptions)
	r.HandleFunc("/webrtc/sessions/{id}", s.handleCloseSession).Methods(http.MethodDelete, http.MethodOptions)
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics).Methods(http.MethodGet)
	}
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Deliver hands one raw message to the inbound channel without blocking.
func (s *Server) Deliver(msg []byte) error {
	select {
	case s.in <- msg:
		return nil
	default:
		return ErrInboundFull
	}
}

// SessionCount returns the number of open WebRTC sessions.
func (s *Server) SessionCount() int {
	return s.sessions.count()
}

// Close tears down every open WebRTC session.
func (s *Server) Close() error {
	return s.sessions.closeAll()
}

func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Session-ID")
			w.Header().Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type statsResponse struct {
	QueueLength   int    `json:"queue_length"`
	LastTimestamp *int64 `json:"last_timestamp"`
	Sessions      int    `json:"sessions"`
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	resp := statsResponse{Sessions: s.sessions.count()}
	if s.opts.Stats != nil {
		resp.QueueLength = s.opts.Stats.Len()
		if last, ok := s.opts.Stats.Last(); ok {
			ts := last.Timestamp
			resp.LastTimestamp = &ts
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleMetadata(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxMessageSize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	if err := s.Deliver(body); err != nil {
		s.log.Warn().Int("bytes", len(body)).Msg("metadata dropped, inbound channel full")
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleOffer(w http.ResponseWriter, r *http.Request) {
	var offer sessionDescription
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxMessageSize))
	if err := dec.Decode(&offer); err != nil {
		http.Error(w, "invalid offer body", http.StatusBadRequest)
		return
	}
	if offer.Type != "offer" || offer.SDP == "" {
		http.Error(w, "expected {\"type\":\"offer\",\"sdp\":...}", http.StatusBadRequest)
		return
	}

	id, answer, err := s.sessions.open(r.Context(), offer, s.deliverFromPeer)
	if err != nil {
		s.log.Warn().Err(err).Msg("WebRTC offer rejected")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("X-Session-ID", id)
	writeJSON(w, http.StatusOK, answer)
}

func (s *Server) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := s.sessions.close(id); err != nil {
		if errors.Is(err, errUnknownSession) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) deliverFromPeer(sessionID string, msg []byte) {
	if err := s.Deliver(msg); err != nil {
		s.log.Warn().Str("session_id", sessionID).Int("bytes", len(msg)).Msg("metadata dropped, inbound channel full")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
