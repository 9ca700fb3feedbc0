package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// LearnerID is the opaque identifier of a learner. The portal accepts any
// non-blank identifier its account service hands out, UUIDs included.
type LearnerID string

// learnerIDRegex allows UUIDs, numeric ids and simple slugs.
var learnerIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:@-]{0,127}$`)

// IsValid checks if the learner ID is well formed.
func (l LearnerID) IsValid() bool {
	return learnerIDRegex.MatchString(string(l))
}

// String returns the string representation.
func (l LearnerID) String() string {
	return string(l)
}

// IsEmpty checks if the ID is empty.
func (l LearnerID) IsEmpty() bool {
	return l == ""
}

// NewLearnerID creates a new LearnerID with validation.
func NewLearnerID(id string) (LearnerID, error) {
	lid := LearnerID(strings.TrimSpace(id))
	if lid.IsEmpty() {
		return "", ErrLearnerIDRequired
	}
	if !lid.IsValid() {
		return "", NewDomainError("shared", "NewLearnerID", ErrInvalidID, "invalid learner ID format")
	}
	return lid, nil
}
