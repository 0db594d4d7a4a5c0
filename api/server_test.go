package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verivote-backend/encryption"
	"verivote-backend/models"
	"verivote-backend/registry"
	"verivote-backend/service"
	"verivote-backend/storage"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()

	store, err := storage.NewMemStore("")
	require.NoError(t, err)

	engine := encryption.NewPaillierEngine(512)
	pool := service.NewCryptoPool(2, 16)
	t.Cleanup(pool.Stop)

	timeout := 10 * time.Second
	events := service.NewEventService(store, engine, pool, nil, timeout)
	voters := registry.NewVoterRegistry(store)
	ballots := service.NewBallotProcessor(store, voters, engine, pool, nil, timeout)
	verifier := service.NewVerificationService(store)
	tallier := service.NewTallyOrchestrator(store, engine, pool, nil, nil, timeout)

	srv := httptest.NewServer(NewServer("", events, ballots, verifier, tallier, voters).Handler())
	t.Cleanup(srv.Close)
	return srv
}

func postJSON(t *testing.T, url string, body interface{}, out interface{}) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(payload))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode < 300 {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp
}

func TestVotingWorkflowOverHTTP(t *testing.T) {
	srv := newTestServer(t)

	var event models.VotingEvent
	resp := postJSON(t, srv.URL+"/api/events", CreateEventRequest{
		Name:           "city council",
		OpensAt:        time.Now().Add(-time.Hour),
		ClosesAt:       time.Now().Add(time.Hour),
		SelectionLimit: 1,
		Candidates:     []string{"alice", "bob"},
	}, &event)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.Len(t, event.Candidates, 2)

	var reg RegisterVoterResponse
	resp = postJSON(t, srv.URL+"/api/register", RegisterVoterRequest{VoterID: "voter-1"}, &reg)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, reg.Secret)

	var receipt service.VoteReceipt
	resp = postJSON(t, srv.URL+"/api/vote", SubmitVoteRequest{
		VoterSecret:  reg.Secret,
		EventID:      event.ID,
		CandidateIDs: []string{event.Candidates[0].ID},
	}, &receipt)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	require.NotEmpty(t, receipt.VerificationCode)

	// Second ballot for the same voter conflicts.
	resp = postJSON(t, srv.URL+"/api/vote", SubmitVoteRequest{
		VoterSecret:  reg.Secret,
		EventID:      event.ID,
		CandidateIDs: []string{event.Candidates[1].ID},
	}, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	var decoded service.DecodedVote
	resp = postJSON(t, srv.URL+"/api/decode_vote", DecodeVoteRequest{
		Level:            service.DisclosureFull,
		VerificationCode: receipt.VerificationCode,
		VoteSecret:       receipt.VoteSecret,
	}, &decoded)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "voter-1", decoded.VoterID)

	var snapshot models.TallySnapshot
	resp = postJSON(t, srv.URL+fmt.Sprintf("/api/tally?id=%s", event.ID), nil, &snapshot)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, uint64(1), snapshot.TotalBallots)
	assert.Equal(t, event.Candidates[0].ID, snapshot.WinnerID)

	httpResp, err := http.Get(srv.URL + fmt.Sprintf("/api/results?id=%s", event.ID))
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)

	resp = postJSON(t, srv.URL+fmt.Sprintf("/api/close_voting?id=%s", event.ID), nil, &event)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, models.StatusEnded, event.Status)

	resp = postJSON(t, srv.URL+fmt.Sprintf("/api/close_voting?id=%s", event.ID), nil, nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestErrorStatusMapping(t *testing.T) {
	srv := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/vote", SubmitVoteRequest{
		VoterSecret:  "bogus",
		EventID:      "whatever",
		CandidateIDs: []string{"x"},
	}, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/decode_vote", DecodeVoteRequest{
		Level:            service.DisclosureReceipt,
		VerificationCode: "AAAA-BBBB-CCCC-DDDD",
	}, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = postJSON(t, srv.URL+"/api/events", CreateEventRequest{
		Name:           "",
		OpensAt:        time.Now(),
		ClosesAt:       time.Now().Add(time.Hour),
		SelectionLimit: 1,
		Candidates:     []string{"a", "b"},
	}, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	httpResp, err := http.Get(srv.URL + "/api/event?id=missing")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusNotFound, httpResp.StatusCode)
}

func TestMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/vote")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
