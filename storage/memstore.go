package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"verivote-backend/models"
)

// MemStore keeps all records in memory under a single lock and mirrors every
// write to a JSON file via an atomic temp-file rename, so a restart picks up
// where the last committed write left off. It is the default store and the
// one the tests run against.
type MemStore struct {
	basePath string // empty disables file durability

	mu             sync.RWMutex
	events         map[string]*models.VotingEvent
	eventOrder     []string
	voters         map[string]*models.Voter
	votersBySecret map[string]string
	ballots        map[string][]*models.BallotRecord
	ballotKeys     map[string]struct{}
	ballotsByCode  map[string]*models.BallotRecord
	secretsInUse   map[string]struct{}
	tallies        map[string]*models.TallySnapshot
}

type memSnapshot struct {
	Events  []*models.VotingEvent            `json:"events"`
	Voters  []*memVoter                      `json:"voters"`
	Ballots []*memBallot                     `json:"ballots"`
	Tallies map[string]*models.TallySnapshot `json:"tallies"`
}

// Voter secrets and vote secrets carry `json:"-"` on the models so they never
// leak through API responses; the store file needs them back.
type memVoter struct {
	Voter  *models.Voter `json:"voter"`
	Secret string        `json:"secret"`
}

type memBallot struct {
	Ballot     *models.BallotRecord `json:"ballot"`
	VoteSecret string               `json:"vote_secret"`
}

// NewMemStore creates a store persisting to basePath/store.json. An empty
// basePath keeps everything purely in memory.
func NewMemStore(basePath string) (*MemStore, error) {
	s := &MemStore{
		basePath:       basePath,
		events:         make(map[string]*models.VotingEvent),
		voters:         make(map[string]*models.Voter),
		votersBySecret: make(map[string]string),
		ballots:        make(map[string][]*models.BallotRecord),
		ballotKeys:     make(map[string]struct{}),
		ballotsByCode:  make(map[string]*models.BallotRecord),
		secretsInUse:   make(map[string]struct{}),
		tallies:        make(map[string]*models.TallySnapshot),
	}
	if basePath == "" {
		return s, nil
	}
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := s.loadFromFile(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MemStore) filePath() string {
	return filepath.Join(s.basePath, "store.json")
}

func (s *MemStore) loadFromFile() error {
	data, err := os.ReadFile(s.filePath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read store file: %w", err)
	}
	var snap memSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return fmt.Errorf("failed to unmarshal store file: %w", err)
	}
	for _, ev := range snap.Events {
		s.events[ev.ID] = ev
		s.eventOrder = append(s.eventOrder, ev.ID)
	}
	for _, mv := range snap.Voters {
		v := mv.Voter
		v.Secret = mv.Secret
		s.voters[v.ID] = v
		s.votersBySecret[v.Secret] = v.ID
	}
	for _, mb := range snap.Ballots {
		b := mb.Ballot
		b.VoteSecret = mb.VoteSecret
		s.ballots[b.EventID] = append(s.ballots[b.EventID], b)
		s.ballotKeys[ballotKey(b.EventID, b.VoterID)] = struct{}{}
		s.ballotsByCode[b.VerificationCode] = b
		s.secretsInUse[b.VoteSecret] = struct{}{}
	}
	if snap.Tallies != nil {
		s.tallies = snap.Tallies
	}
	return nil
}

// persistLocked writes the full state to a temp file and renames it into
// place. Callers hold the write lock.
func (s *MemStore) persistLocked() error {
	if s.basePath == "" {
		return nil
	}
	snap := memSnapshot{Tallies: s.tallies}
	for _, id := range s.eventOrder {
		snap.Events = append(snap.Events, s.events[id])
	}
	for _, v := range s.voters {
		snap.Voters = append(snap.Voters, &memVoter{Voter: v, Secret: v.Secret})
	}
	for _, list := range s.ballots {
		for _, b := range list {
			snap.Ballots = append(snap.Ballots, &memBallot{Ballot: b, VoteSecret: b.VoteSecret})
		}
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal store state: %w", err)
	}
	path := s.filePath()
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write store file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to save store file: %w", err)
	}
	return nil
}

func ballotKey(eventID, voterID string) string {
	return eventID + "/" + voterID
}

func (s *MemStore) CreateEvent(_ context.Context, event *models.VotingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.events[event.ID]; exists {
		return fmt.Errorf("event %s already exists", event.ID)
	}
	s.events[event.ID] = event
	s.eventOrder = append(s.eventOrder, event.ID)
	if err := s.persistLocked(); err != nil {
		delete(s.events, event.ID)
		s.eventOrder = s.eventOrder[:len(s.eventOrder)-1]
		return err
	}
	return nil
}

func (s *MemStore) GetEvent(_ context.Context, eventID string) (*models.VotingEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	return cloneEvent(event), nil
}

func (s *MemStore) ListEvents(_ context.Context, offset, limit int) ([]*models.VotingEvent, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := len(s.eventOrder)
	if offset < 0 {
		offset = 0
	}
	if offset > total {
		offset = total
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	events := make([]*models.VotingEvent, 0, end-offset)
	for _, id := range s.eventOrder[offset:end] {
		events = append(events, cloneEvent(s.events[id]))
	}
	return events, total, nil
}

func (s *MemStore) CloseEvent(_ context.Context, eventID string) (*models.VotingEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	event, ok := s.events[eventID]
	if !ok {
		return nil, ErrEventNotFound
	}
	if event.Status == models.StatusEnded {
		return nil, ErrEventAlreadyOver
	}
	next, err := event.Status.Transition()
	if err != nil {
		return nil, ErrEventAlreadyOver
	}
	prevStatus, prevEnded := event.Status, event.EndedAt
	now := time.Now().UTC()
	event.Status = next
	event.EndedAt = &now
	if err := s.persistLocked(); err != nil {
		event.Status = prevStatus
		event.EndedAt = prevEnded
		return nil, err
	}
	return cloneEvent(event), nil
}

func (s *MemStore) CreateVoter(_ context.Context, voter *models.Voter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.voters[voter.ID]; exists {
		return ErrDuplicateVoter
	}
	if _, exists := s.votersBySecret[voter.Secret]; exists {
		return ErrDuplicateSecret
	}
	s.voters[voter.ID] = voter
	s.votersBySecret[voter.Secret] = voter.ID
	if err := s.persistLocked(); err != nil {
		delete(s.voters, voter.ID)
		delete(s.votersBySecret, voter.Secret)
		return err
	}
	return nil
}

func (s *MemStore) GetVoterBySecret(_ context.Context, secret string) (*models.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.votersBySecret[secret]
	if !ok {
		return nil, ErrVoterNotFound
	}
	v := *s.voters[id]
	return &v, nil
}

func (s *MemStore) GetVoter(_ context.Context, voterID string) (*models.Voter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	voter, ok := s.voters[voterID]
	if !ok {
		return nil, ErrVoterNotFound
	}
	v := *voter
	return &v, nil
}

// InsertBallot performs the uniqueness checks and the insert under one lock,
// which makes it the atomic conditional write the ballot processor relies
// on for idempotency.
func (s *MemStore) InsertBallot(_ context.Context, ballot *models.BallotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[ballot.EventID]; !ok {
		return ErrEventNotFound
	}
	key := ballotKey(ballot.EventID, ballot.VoterID)
	if _, exists := s.ballotKeys[key]; exists {
		return ErrDuplicateBallot
	}
	if _, exists := s.ballotsByCode[ballot.VerificationCode]; exists {
		return ErrDuplicateCode
	}
	if _, exists := s.secretsInUse[ballot.VoteSecret]; exists {
		return ErrDuplicateSecret
	}

	s.ballots[ballot.EventID] = append(s.ballots[ballot.EventID], ballot)
	s.ballotKeys[key] = struct{}{}
	s.ballotsByCode[ballot.VerificationCode] = ballot
	s.secretsInUse[ballot.VoteSecret] = struct{}{}
	if err := s.persistLocked(); err != nil {
		list := s.ballots[ballot.EventID]
		s.ballots[ballot.EventID] = list[:len(list)-1]
		delete(s.ballotKeys, key)
		delete(s.ballotsByCode, ballot.VerificationCode)
		delete(s.secretsInUse, ballot.VoteSecret)
		return err
	}
	return nil
}

func (s *MemStore) HasBallot(_ context.Context, eventID, voterID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, exists := s.ballotKeys[ballotKey(eventID, voterID)]
	return exists, nil
}

func (s *MemStore) ListBallots(_ context.Context, eventID string) ([]*models.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.events[eventID]; !ok {
		return nil, ErrEventNotFound
	}
	// Records are immutable once inserted, so copying the slice is enough
	// for a consistent snapshot.
	list := s.ballots[eventID]
	ballots := make([]*models.BallotRecord, len(list))
	copy(ballots, list)
	return ballots, nil
}

func (s *MemStore) GetBallotByCode(_ context.Context, verificationCode string) (*models.BallotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ballot, ok := s.ballotsByCode[verificationCode]
	if !ok {
		return nil, ErrBallotNotFound
	}
	b := *ballot
	return &b, nil
}

func (s *MemStore) SaveTally(_ context.Context, snapshot *models.TallySnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.events[snapshot.EventID]; !ok {
		return ErrEventNotFound
	}
	prev, hadPrev := s.tallies[snapshot.EventID]
	s.tallies[snapshot.EventID] = snapshot
	if err := s.persistLocked(); err != nil {
		if hadPrev {
			s.tallies[snapshot.EventID] = prev
		} else {
			delete(s.tallies, snapshot.EventID)
		}
		return err
	}
	return nil
}

func (s *MemStore) GetTally(_ context.Context, eventID string) (*models.TallySnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snapshot, ok := s.tallies[eventID]
	if !ok {
		return nil, ErrTallyNotFound
	}
	t := *snapshot
	return &t, nil
}

func cloneEvent(event *models.VotingEvent) *models.VotingEvent {
	e := *event
	e.Candidates = make([]models.Candidate, len(event.Candidates))
	copy(e.Candidates, event.Candidates)
	if event.EndedAt != nil {
		ended := *event.EndedAt
		e.EndedAt = &ended
	}
	return &e
}
