// Package completion checks whether a candidate's interview round has already
// been completed before a session is allowed to start.
package completion

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hirekruit/interviewkit/pkg/core"
)

// RoundStatus is one round's completion record for a candidate.
type RoundStatus struct {
	RoundType string `json:"round_type"`
	Completed string `json:"completed"`
}

// CandidateRecord is the admission service's view of a candidate's rounds.
type CandidateRecord struct {
	CandidateRef string        `json:"candidateRef"`
	Rounds       []RoundStatus `json:"rounds_status"`
}

// Completed reports whether the round of the given type is finished. Round
// types match case- and whitespace-insensitively; a round counts as finished
// only when its completed field is the literal string "yes".
func (r CandidateRecord) Completed(roundType string) bool {
	want := canonical(roundType)
	for _, rs := range r.Rounds {
		if canonical(rs.RoundType) == want && rs.Completed == "yes" {
			return true
		}
	}
	return false
}

func canonical(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Client fetches candidate round records from the admission service.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("completion base URL must not be empty")
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

const maxRecordBodyBytes = 512 << 10

// Fetch retrieves the candidate's round record.
func (c *Client) Fetch(ctx context.Context, candidateRef string) (CandidateRecord, error) {
	candidateRef = strings.TrimSpace(candidateRef)
	if candidateRef == "" {
		return CandidateRecord{}, core.NewInvalidRequestError("candidate reference must not be empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/interview/candidate/"+candidateRef, nil)
	if err != nil {
		return CandidateRecord{}, core.NewAdmissionError(fmt.Sprintf("build completion request: %v", err), 0)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return CandidateRecord{}, core.NewAdmissionError(fmt.Sprintf("completion request failed: %v", err), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxRecordBodyBytes))
	if err != nil {
		return CandidateRecord{}, core.NewAdmissionError(fmt.Sprintf("read completion response: %v", err), resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return CandidateRecord{}, core.NewAdmissionError(
			fmt.Sprintf("completion check returned status %d", resp.StatusCode), resp.StatusCode)
	}

	var rec CandidateRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		return CandidateRecord{}, core.NewAdmissionError(fmt.Sprintf("decode completion response: %v", err), resp.StatusCode)
	}
	if rec.CandidateRef == "" {
		rec.CandidateRef = candidateRef
	}
	return rec, nil
}
