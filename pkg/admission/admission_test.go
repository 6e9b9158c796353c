package admission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/livekit/protocol/auth"

	"github.com/hirekruit/interviewkit/pkg/interview/completion"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
)

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	svc, err := NewService(Config{
		APIKey:       "lk_api_key",
		APISecret:    "lk_api_secret_lk_api_secret_1234",
		TransportURL: "wss://conf.example.com",
	}, store, nil)
	if err != nil {
		t.Fatalf("NewService: %v", err)
	}
	return svc, store
}

func TestService_TokenGrantsAndNaming(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/admission/token?candidateRef=dc42&category=technical&role=candidate&identity=candidate_dc42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status=%d, want 200", resp.StatusCode)
	}

	var grant identity.Grant
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if grant.SessionName != "interview_dc42_technical" {
		t.Fatalf("sessionName=%q, want interview_dc42_technical", grant.SessionName)
	}
	if grant.TransportURL != "wss://conf.example.com" {
		t.Fatalf("transportUrl=%q", grant.TransportURL)
	}

	verifier, err := auth.ParseAPIToken(grant.Credential)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	claims, err := verifier.Verify("lk_api_secret_lk_api_secret_1234")
	if err != nil {
		t.Fatalf("verify token: %v", err)
	}
	if claims.Identity != "candidate_dc42" {
		t.Fatalf("token identity=%q", claims.Identity)
	}
	video := claims.Video
	if video == nil || !video.RoomJoin || video.Room != "interview_dc42_technical" {
		t.Fatalf("video grant=%+v", video)
	}
	if video.CanPublish == nil || !*video.CanPublish || video.CanSubscribe == nil || !*video.CanSubscribe {
		t.Fatalf("publish/subscribe grants missing: %+v", video)
	}
}

func TestService_TokenValidation(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	cases := []struct {
		name  string
		query string
	}{
		{"missing candidateRef", "category=technical&role=candidate&identity=candidate_x"},
		{"missing category", "candidateRef=dc42&role=candidate&identity=candidate_dc42"},
		{"bad role", "candidateRef=dc42&category=technical&role=observer&identity=x"},
		{"missing identity", "candidateRef=dc42&category=technical&role=candidate"},
		{"identity role mismatch", "candidateRef=dc42&category=technical&role=hr&identity=candidate_dc42"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, err := http.Get(srv.URL + "/api/admission/token?" + tc.query)
			if err != nil {
				t.Fatalf("GET: %v", err)
			}
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status=%d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestService_CandidateRounds(t *testing.T) {
	svc, store := newTestService(t)
	store.Put(completion.CandidateRecord{
		CandidateRef: "dc42",
		Rounds:       []completion.RoundStatus{{RoundType: "technical", Completed: "no"}},
	})
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/interview/candidate/dc42")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	var rec completion.CandidateRecord
	if err := json.NewDecoder(resp.Body).Decode(&rec); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Completed("technical") {
		t.Fatalf("round unexpectedly completed")
	}

	store.MarkCompleted("dc42", "technical")
	rec2, err := store.Candidate(context.Background(), "dc42")
	if err != nil {
		t.Fatalf("Candidate: %v", err)
	}
	if !rec2.Completed("technical") {
		t.Fatalf("round not completed after mark")
	}
}

func TestService_UnknownCandidateIs404(t *testing.T) {
	svc, _ := newTestService(t)
	srv := httptest.NewServer(svc.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/api/interview/candidate/ghost")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status=%d, want 404", resp.StatusCode)
	}
	var env Envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Error == nil || env.Error.Type != "not_found_error" {
		t.Fatalf("envelope=%+v", env)
	}
}
