package shared

import (
	"regexp"
	"strings"
)

// ═══════════════════════════════════════════════════════════════════════════
// ID Value Objects
// ═══════════════════════════════════════════════════════════════════════════

// ChildID identifies a learner. IDs come from the account service, so only
// the shape is checked here.
type ChildID string

var childIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// IsValid checks the ID shape.
func (c ChildID) IsValid() bool {
	return childIDRegex.MatchString(string(c))
}

// String returns the string representation.
func (c ChildID) String() string {
	return string(c)
}

// NewChildID trims and validates a raw child ID.
func NewChildID(raw string) (ChildID, error) {
	id := ChildID(strings.TrimSpace(raw))
	if !id.IsValid() {
		return "", NewDomainError("shared", "NewChildID", ErrInvalidID, "invalid child ID")
	}
	return id, nil
}

// TopicID identifies a topic (UUID format).
type TopicID string

var uuidRegex = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// IsValid checks if the topic ID is a valid UUID.
func (t TopicID) IsValid() bool {
	return uuidRegex.MatchString(string(t))
}

// String returns the string representation.
func (t TopicID) String() string {
	return string(t)
}

// NewTopicID validates a raw topic ID.
func NewTopicID(raw string) (TopicID, error) {
	id := TopicID(strings.TrimSpace(raw))
	if !id.IsValid() {
		return "", NewDomainError("shared", "NewTopicID", ErrInvalidID, "invalid topic ID")
	}
	return id, nil
}

// ═══════════════════════════════════════════════════════════════════════════
// Age
// ═══════════════════════════════════════════════════════════════════════════

// Supported learner ages.
const (
	MinChildAge = 3
	MaxChildAge = 14
)

// ChildAge is the target reading age used for generation.
type ChildAge int

// IsValid checks the supported range.
func (a ChildAge) IsValid() bool {
	return a >= MinChildAge && a <= MaxChildAge
}

// Clamp forces the age into the supported range.
func (a ChildAge) Clamp() ChildAge {
	switch {
	case a < MinChildAge:
		return MinChildAge
	case a > MaxChildAge:
		return MaxChildAge
	default:
		return a
	}
}
