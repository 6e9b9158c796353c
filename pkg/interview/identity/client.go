package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hirekruit/interviewkit/pkg/core"
)

// Grant is the credential bundle returned by the admission service.
type Grant struct {
	Credential   string `json:"credential"`
	TransportURL string `json:"transportUrl"`
	SessionName  string `json:"sessionName"`
	Identity     string `json:"identity"`
	Role         Role   `json:"role"`
}

// Client exchanges participant descriptors for session credentials.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
	now        func() time.Time
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithLogger overrides the logger.
func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) ClientOption {
	return func(c *Client) { c.now = now }
}

func NewClient(baseURL string, opts ...ClientOption) (*Client, error) {
	if strings.TrimSpace(baseURL) == "" {
		return nil, fmt.Errorf("admission base URL must not be empty")
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     slog.Default(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

const maxAdmissionBodyBytes = 256 << 10

// Exchange derives the wire identity for the descriptor and trades it for a
// credential. A non-2xx response becomes an admission error carrying the
// upstream status; the caller decides whether and when to retry.
func (c *Client) Exchange(ctx context.Context, d Descriptor) (Grant, error) {
	id, err := Derive(d, c.now)
	if err != nil {
		return Grant{}, core.NewInvalidRequestError(err.Error())
	}

	q := url.Values{}
	q.Set("candidateRef", strings.TrimSpace(d.CandidateRef))
	q.Set("category", strings.TrimSpace(d.Category))
	q.Set("role", string(d.Role))
	q.Set("identity", id)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		c.baseURL+"/api/admission/token?"+q.Encode(), nil)
	if err != nil {
		return Grant{}, core.NewAdmissionError(fmt.Sprintf("build admission request: %v", err), 0)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Grant{}, core.NewAdmissionError(fmt.Sprintf("admission request failed: %v", err), 0)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxAdmissionBodyBytes))
	if err != nil {
		return Grant{}, core.NewAdmissionError(fmt.Sprintf("read admission response: %v", err), resp.StatusCode)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("admission rejected",
			"status", resp.StatusCode,
			"identity", id,
		)
		return Grant{}, core.NewAdmissionError(
			fmt.Sprintf("admission returned status %d: %s", resp.StatusCode, summarize(body)),
			resp.StatusCode,
		)
	}

	var grant Grant
	if err := json.Unmarshal(body, &grant); err != nil {
		return Grant{}, core.NewAdmissionError(fmt.Sprintf("decode admission response: %v", err), resp.StatusCode)
	}
	if grant.Credential == "" {
		return Grant{}, core.NewAdmissionError("admission response missing credential", resp.StatusCode)
	}
	if grant.Identity == "" {
		grant.Identity = id
	}
	if grant.Role == "" {
		grant.Role = d.Role
	}
	return grant, nil
}

func summarize(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
