// Package identity derives participant identities and exchanges them for
// session credentials with the admission service.
package identity

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Role distinguishes the two participant classes in an interview.
type Role string

const (
	RoleHR        Role = "hr"
	RoleCandidate Role = "candidate"
)

// Descriptor describes a participant before admission.
type Descriptor struct {
	Role         Role
	DisplayName  string // HR only; ignored for candidates
	CandidateRef string // stable candidate reference
	Category     string // interview category, e.g. "technical"
}

// Validate checks the descriptor for the fields its role requires.
func (d Descriptor) Validate() error {
	switch d.Role {
	case RoleHR:
		if strings.TrimSpace(d.DisplayName) == "" {
			return fmt.Errorf("hr descriptor requires a display name")
		}
	case RoleCandidate:
		if strings.TrimSpace(d.CandidateRef) == "" {
			return fmt.Errorf("candidate descriptor requires a candidate reference")
		}
	default:
		return fmt.Errorf("unknown role %q", d.Role)
	}
	if strings.TrimSpace(d.CandidateRef) == "" {
		return fmt.Errorf("descriptor requires a candidate reference")
	}
	return nil
}

// Derive produces the wire identity for the descriptor. Candidate identities
// are deterministic; HR identities carry a millisecond join timestamp so
// repeated joins remain distinguishable.
func Derive(d Descriptor, now func() time.Time) (string, error) {
	if err := d.Validate(); err != nil {
		return "", err
	}
	if now == nil {
		now = time.Now
	}
	switch d.Role {
	case RoleHR:
		return "hr_" + slug(d.DisplayName) + "_" + strconv.FormatInt(now().UnixMilli(), 10), nil
	default:
		return "candidate_" + strings.TrimSpace(d.CandidateRef), nil
	}
}

// FromIdentity recovers the role encoded in a wire identity.
func FromIdentity(id string) Role {
	if strings.HasPrefix(id, "hr_") {
		return RoleHR
	}
	return RoleCandidate
}

// slug lowercases the name and folds whitespace and hyphens to underscores.
func slug(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	b.Grow(len(name))
	lastUnderscore := false
	for _, r := range name {
		switch {
		case r == ' ' || r == '\t' || r == '-':
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		default:
			b.WriteRune(r)
			lastUnderscore = false
		}
	}
	return strings.Trim(b.String(), "_")
}
