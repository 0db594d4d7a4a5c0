package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"verivote-backend/models"
	"verivote-backend/registry"
	"verivote-backend/service"
)

type Server struct {
	addr     string
	events   *service.EventService
	ballots  *service.BallotProcessor
	verifier *service.VerificationService
	tallier  *service.TallyOrchestrator
	voters   *registry.VoterRegistry
}

func NewServer(addr string, events *service.EventService, ballots *service.BallotProcessor, verifier *service.VerificationService, tallier *service.TallyOrchestrator, voters *registry.VoterRegistry) *Server {
	return &Server{
		addr:     addr,
		events:   events,
		ballots:  ballots,
		verifier: verifier,
		tallier:  tallier,
		voters:   voters,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", s.handleEvents)
	mux.HandleFunc("/api/event", s.handleGetEvent)
	mux.HandleFunc("/api/close_voting", s.handleCloseVoting)
	mux.HandleFunc("/api/register", s.handleRegisterVoter)
	mux.HandleFunc("/api/vote", s.handleSubmitVote)
	mux.HandleFunc("/api/decode_vote", s.handleDecodeVote)
	mux.HandleFunc("/api/tally", s.handleTally)
	mux.HandleFunc("/api/results", s.handleGetResults)
	mux.HandleFunc("/api/event_votes", s.handleEventVotes)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func (s *Server) Start() error {
	log.Printf("listening on %s", s.addr)
	return http.ListenAndServe(s.addr, s.Handler())
}

type CreateEventRequest struct {
	Name           string    `json:"name"`
	OpensAt        time.Time `json:"opens_at"`
	ClosesAt       time.Time `json:"closes_at"`
	SelectionLimit int       `json:"selection_limit"`
	Candidates     []string  `json:"candidates"`
}

type RegisterVoterRequest struct {
	VoterID string `json:"voter_id"`
}

type RegisterVoterResponse struct {
	VoterID string `json:"voter_id"`
	Secret  string `json:"secret"`
}

type SubmitVoteRequest struct {
	VoterSecret  string   `json:"voter_secret"`
	EventID      string   `json:"event_id"`
	CandidateIDs []string `json:"candidate_ids"`
}

type DecodeVoteRequest struct {
	Level            int    `json:"level"`
	VerificationCode string `json:"verification_code"`
	VoteSecret       string `json:"vote_secret,omitempty"`
}

type ListEventsResponse struct {
	Events []*models.VotingEvent `json:"events"`
	Total  int                   `json:"total"`
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req CreateEventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}
		event, err := s.events.CreateEvent(r.Context(), service.CreateEventParams{
			Name:           req.Name,
			OpensAt:        req.OpensAt,
			ClosesAt:       req.ClosesAt,
			SelectionLimit: req.SelectionLimit,
			CandidateNames: req.Candidates,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, event)
	case http.MethodGet:
		offset := intQuery(r, "offset", 0)
		limit := intQuery(r, "limit", 50)
		events, total, err := s.events.ListEvents(r.Context(), offset, limit)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ListEventsResponse{Events: events, Total: total})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleGetEvent(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Event id is required", http.StatusBadRequest)
		return
	}
	event, err := s.events.GetEvent(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleCloseVoting(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Event id is required", http.StatusBadRequest)
		return
	}
	event, err := s.events.CloseVoting(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, event)
}

func (s *Server) handleRegisterVoter(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req RegisterVoterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.VoterID == "" {
		http.Error(w, "Voter id is required", http.StatusBadRequest)
		return
	}
	voter, err := s.voters.Register(r.Context(), req.VoterID)
	if err != nil {
		if errors.Is(err, registry.ErrVoterExists) {
			http.Error(w, "Voter already registered", http.StatusConflict)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, RegisterVoterResponse{VoterID: voter.ID, Secret: voter.Secret})
}

func (s *Server) handleSubmitVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req SubmitVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	receipt, err := s.ballots.SubmitVote(r.Context(), req.VoterSecret, req.EventID, req.CandidateIDs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleDecodeVote(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req DecodeVoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	decoded, err := s.verifier.DecodeVote(r.Context(), req.Level, req.VerificationCode, req.VoteSecret)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, decoded)
}

func (s *Server) handleTally(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Event id is required", http.StatusBadRequest)
		return
	}
	snapshot, err := s.tallier.Tally(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleGetResults(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Event id is required", http.StatusBadRequest)
		return
	}
	snapshot, err := s.tallier.GetTally(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleEventVotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "Event id is required", http.StatusBadRequest)
		return
	}
	ballots, err := s.ballots.ListEventVotes(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Votes []*models.BallotRecord `json:"votes"`
		Count int                    `json:"count"`
	}{Votes: ballots, Count: len(ballots)})
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}

func writeError(w http.ResponseWriter, err error) {
	kind := service.Kind(err)
	status := http.StatusInternalServerError
	switch kind {
	case service.KindAuthentication:
		status = http.StatusUnauthorized
	case service.KindNotFound:
		status = http.StatusNotFound
	case service.KindState, service.KindIdempotency:
		status = http.StatusConflict
	case service.KindValidation:
		status = http.StatusBadRequest
	case service.KindCryptoEngine:
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error: %v", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error(), Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Failed to encode response: %v", err)
	}
}

func intQuery(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}
