// Package progress implements the per-(child, topic) progress state machine.
//
// Sections unlock strictly in order. The quiz opens once every section is
// completed, and the certificate follows the quiz. Re-entering a completed
// section is a review: always allowed, never a state change.
package progress

import (
	"sort"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STATES & ACTIONS
// ══════════════════════════════════════════════════════════════════════════════

// State of a progress record.
type State string

const (
	StateNotStarted        State = "not_started"
	StateInProgress        State = "in_progress"
	StateQuizReady         State = "quiz_ready"
	StateQuizDone          State = "quiz_done"
	StateCertificateIssued State = "certificate_issued"
)

// IsTerminal reports whether no further transitions exist.
func (s State) IsTerminal() bool {
	return s == StateCertificateIssued
}

// Action is a requested transition.
type Action string

const (
	ActionCompleteSection  Action = "complete_section"
	ActionCompleteQuiz     Action = "complete_quiz"
	ActionIssueCertificate Action = "issue_certificate"
)

// transitionTable lists the state-changing actions each state accepts.
// Reviews of completed sections bypass the table because they change nothing.
var transitionTable = map[State]map[Action]struct{}{
	StateNotStarted:        {ActionCompleteSection: {}},
	StateInProgress:        {ActionCompleteSection: {}},
	StateQuizReady:         {ActionCompleteQuiz: {}},
	StateQuizDone:          {ActionIssueCertificate: {}},
	StateCertificateIssued: {},
}

// Allows reports whether action may change a record in state s.
func Allows(s State, action Action) bool {
	_, ok := transitionTable[s][action]
	return ok
}

// rejection maps a disallowed action to its error.
func rejection(s State, action Action) error {
	if s.IsTerminal() {
		return shared.ErrProgressTerminal
	}
	switch action {
	case ActionCompleteQuiz:
		return shared.ErrQuizNotReady
	case ActionIssueCertificate:
		return shared.ErrCertificateNotReady
	default:
		return shared.WrapError("progress", string(action), shared.ErrSequenceViolation,
			"action not allowed in state "+string(s), nil)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record is the progress of one child through one topic.
type Record struct {
	ChildID           string
	TopicID           string
	TotalSections     int
	completed         map[int]struct{}
	QuizCompleted     bool
	CertificateIssued bool
	UpdatedAt         time.Time
}

// NewRecord returns an empty record.
func NewRecord(childID, topicID string, totalSections int) *Record {
	return &Record{
		ChildID:       childID,
		TopicID:       topicID,
		TotalSections: totalSections,
		completed:     make(map[int]struct{}),
	}
}

// Restore rebuilds a record from storage. Indices outside the outline are dropped.
func Restore(childID, topicID string, totalSections int, completed []int, quizDone, certIssued bool, updatedAt time.Time) *Record {
	r := NewRecord(childID, topicID, totalSections)
	for _, i := range completed {
		if i >= 0 && i < totalSections {
			r.completed[i] = struct{}{}
		}
	}
	r.QuizCompleted = quizDone
	r.CertificateIssued = certIssued
	r.UpdatedAt = updatedAt
	return r
}

// State derives the machine state from the record.
func (r *Record) State() State {
	switch {
	case r.CertificateIssued:
		return StateCertificateIssued
	case r.QuizCompleted:
		return StateQuizDone
	case r.TotalSections > 0 && len(r.completed) == r.TotalSections:
		return StateQuizReady
	case len(r.completed) > 0:
		return StateInProgress
	default:
		return StateNotStarted
	}
}

// IsCompleted reports whether section i is in the completed set.
func (r *Record) IsCompleted(i int) bool {
	_, ok := r.completed[i]
	return ok
}

// IsUnlocked reports whether section i may be entered.
func (r *Record) IsUnlocked(i int) bool {
	if i < 0 || i >= r.TotalSections {
		return false
	}
	return i == 0 || r.IsCompleted(i-1) || r.IsCompleted(i)
}

// CompletedSections returns the completed indices in ascending order.
func (r *Record) CompletedSections() []int {
	out := make([]int, 0, len(r.completed))
	for i := range r.completed {
		out = append(out, i)
	}
	sort.Ints(out)
	return out
}

// CompletedCount returns the size of the completed set.
func (r *Record) CompletedCount() int {
	return len(r.completed)
}

// NextSection returns the lowest index not yet completed, or TotalSections.
func (r *Record) NextSection() int {
	for i := 0; i < r.TotalSections; i++ {
		if !r.IsCompleted(i) {
			return i
		}
	}
	return r.TotalSections
}

// ══════════════════════════════════════════════════════════════════════════════
// TRANSITIONS
// ══════════════════════════════════════════════════════════════════════════════

// Outcome describes the effect of a transition.
type Outcome struct {
	From State
	To   State

	// Changed is false for reviews. Rewards are issued only when Changed.
	Changed bool
}

// Review reports a no-op re-entry.
func (o Outcome) Review() bool {
	return !o.Changed
}

// CompleteSection marks section i completed. Completing an already completed
// section is a review and never fails.
func (r *Record) CompleteSection(i int, now time.Time) (Outcome, error) {
	from := r.State()

	if i < 0 || i >= r.TotalSections {
		return Outcome{From: from, To: from}, shared.ErrSectionOutOfRange
	}
	if r.IsCompleted(i) {
		return Outcome{From: from, To: from}, nil
	}
	if !Allows(from, ActionCompleteSection) {
		return Outcome{From: from, To: from}, rejection(from, ActionCompleteSection)
	}
	if i != 0 && !r.IsCompleted(i-1) {
		return Outcome{From: from, To: from}, shared.ErrSectionOutOfOrder
	}

	r.completed[i] = struct{}{}
	r.UpdatedAt = now.UTC()
	return Outcome{From: from, To: r.State(), Changed: true}, nil
}

// CompleteQuiz is valid only from QuizReady.
func (r *Record) CompleteQuiz(now time.Time) (Outcome, error) {
	from := r.State()
	if !Allows(from, ActionCompleteQuiz) {
		return Outcome{From: from, To: from}, rejection(from, ActionCompleteQuiz)
	}
	r.QuizCompleted = true
	r.UpdatedAt = now.UTC()
	return Outcome{From: from, To: r.State(), Changed: true}, nil
}

// IssueCertificate is valid only from QuizDone. CertificateIssued is terminal.
func (r *Record) IssueCertificate(now time.Time) (Outcome, error) {
	from := r.State()
	if !Allows(from, ActionIssueCertificate) {
		return Outcome{From: from, To: from}, rejection(from, ActionIssueCertificate)
	}
	r.CertificateIssued = true
	r.UpdatedAt = now.UTC()
	return Outcome{From: from, To: r.State(), Changed: true}, nil
}
