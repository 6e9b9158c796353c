// Package admission mints session credentials for interview participants and
// serves candidate round records.
package admission

import (
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/livekit/protocol/auth"

	"github.com/hirekruit/interviewkit/pkg/core"
	"github.com/hirekruit/interviewkit/pkg/interview/identity"
)

// Config holds the transport credentials the service signs with.
type Config struct {
	APIKey       string
	APISecret    string
	TransportURL string
	TokenTTL     time.Duration
}

// Service issues conferencing credentials and answers completion checks.
type Service struct {
	cfg    Config
	store  RoundStore
	logger *slog.Logger
}

func NewService(cfg Config, store RoundStore, logger *slog.Logger) (*Service, error) {
	if strings.TrimSpace(cfg.APIKey) == "" || strings.TrimSpace(cfg.APISecret) == "" {
		return nil, fmt.Errorf("admission: transport API key and secret are required")
	}
	if strings.TrimSpace(cfg.TransportURL) == "" {
		return nil, fmt.Errorf("admission: transport URL is required")
	}
	if store == nil {
		return nil, fmt.Errorf("admission: round store is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{cfg: cfg, store: store, logger: logger}, nil
}

// Handler returns the service's HTTP routes.
func (s *Service) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/admission/token", s.handleToken)
	mux.HandleFunc("GET /api/interview/candidate/{ref}", s.handleCandidate)
	return mux
}

// SessionName derives the room an interview takes place in.
func SessionName(candidateRef, category string) string {
	return fmt.Sprintf("interview_%s_%s", candidateRef, category)
}

func (s *Service) handleToken(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	candidateRef := strings.TrimSpace(q.Get("candidateRef"))
	category := strings.TrimSpace(q.Get("category"))
	role := identity.Role(strings.TrimSpace(q.Get("role")))
	wireID := strings.TrimSpace(q.Get("identity"))

	if candidateRef == "" {
		writeError(w, s.logger, core.NewInvalidRequestError("candidateRef is required"))
		return
	}
	if category == "" {
		writeError(w, s.logger, core.NewInvalidRequestError("category is required"))
		return
	}
	if role != identity.RoleHR && role != identity.RoleCandidate {
		writeError(w, s.logger, core.NewInvalidRequestError(fmt.Sprintf("unknown role %q", role)))
		return
	}
	if wireID == "" {
		writeError(w, s.logger, core.NewInvalidRequestError("identity is required"))
		return
	}
	if identity.FromIdentity(wireID) != role {
		writeError(w, s.logger, core.NewInvalidRequestError("identity does not match role"))
		return
	}

	sessionName := SessionName(candidateRef, category)
	token, err := s.mintToken(wireID, sessionName)
	if err != nil {
		s.logger.Error("mint credential failed", "identity", wireID, "err", err)
		writeError(w, s.logger, core.NewAdmissionError("could not mint credential", 0))
		return
	}

	s.logger.Info("credential issued",
		"identity", wireID,
		"session", sessionName,
		"role", string(role),
	)
	writeJSON(w, s.logger, http.StatusOK, identity.Grant{
		Credential:   token,
		TransportURL: s.cfg.TransportURL,
		SessionName:  sessionName,
		Identity:     wireID,
		Role:         role,
	})
}

// mintToken signs a room-scoped access token. Both roles may publish and
// subscribe; HR needs the publish grant to speak during takeover.
func (s *Service) mintToken(wireID, sessionName string) (string, error) {
	canPublish := true
	canSubscribe := true
	canPublishData := true

	at := auth.NewAccessToken(s.cfg.APIKey, s.cfg.APISecret).
		SetIdentity(wireID).
		SetValidFor(s.cfg.TokenTTL).
		SetVideoGrant(&auth.VideoGrant{
			RoomJoin:       true,
			Room:           sessionName,
			CanPublish:     &canPublish,
			CanSubscribe:   &canSubscribe,
			CanPublishData: &canPublishData,
		})
	return at.ToJWT()
}

func (s *Service) handleCandidate(w http.ResponseWriter, r *http.Request) {
	ref := strings.TrimSpace(r.PathValue("ref"))
	if ref == "" {
		writeError(w, s.logger, core.NewInvalidRequestError("candidate reference is required"))
		return
	}
	rec, err := s.store.Candidate(r.Context(), ref)
	if err != nil {
		writeError(w, s.logger, err)
		return
	}
	writeJSON(w, s.logger, http.StatusOK, rec)
}
