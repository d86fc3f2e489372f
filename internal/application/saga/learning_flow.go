package saga

import (
	"context"
	"log/slog"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// LEARNING FLOW SAGA
// Flow: Progress Transition (+ reward) → Record Activity (+ streak bonus) →
//       Achievement Check
//
// The transition is the critical step: its error is returned as is. Streak and
// achievements are engagement steps that run after a committed transition or a
// review; their failures are logged and leave the result fields nil.
// ══════════════════════════════════════════════════════════════════════════════

// LearningFlowResult is the combined outcome of one learning action.
type LearningFlowResult struct {
	Progress     *command.ProgressResult
	Streak       *command.RecordActivityResult
	Achievements *AchievementFlowResult
}

// LearningFlowSaga runs a progress command and the engagement that follows it.
type LearningFlowSaga struct {
	sections     *command.CompleteSectionHandler
	quizzes      *command.CompleteQuizHandler
	certificates *command.IssueCertificateHandler
	activity     *command.RecordActivityHandler
	achievements *AchievementFlowSaga
	logger       *slog.Logger
}

// LearningFlowDeps groups the handlers the saga coordinates. Activity and
// Achievements may be nil to skip that step.
type LearningFlowDeps struct {
	Sections     *command.CompleteSectionHandler
	Quizzes      *command.CompleteQuizHandler
	Certificates *command.IssueCertificateHandler
	Activity     *command.RecordActivityHandler
	Achievements *AchievementFlowSaga
	Logger       *slog.Logger
}

// NewLearningFlowSaga creates the saga.
func NewLearningFlowSaga(deps LearningFlowDeps) *LearningFlowSaga {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &LearningFlowSaga{
		sections:     deps.Sections,
		quizzes:      deps.Quizzes,
		certificates: deps.Certificates,
		activity:     deps.Activity,
		achievements: deps.Achievements,
		logger:       logger.With("saga", "learning_flow"),
	}
}

// CompleteSection completes a section and runs engagement.
func (s *LearningFlowSaga) CompleteSection(ctx context.Context, cmd command.CompleteSectionCommand) (*LearningFlowResult, error) {
	res, err := s.sections.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return s.engage(ctx, res, "section_completed", cmd.At), nil
}

// CompleteQuiz completes the topic quiz and runs engagement.
func (s *LearningFlowSaga) CompleteQuiz(ctx context.Context, cmd command.CompleteQuizCommand) (*LearningFlowResult, error) {
	res, err := s.quizzes.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return s.engage(ctx, res, "quiz_completed", cmd.At), nil
}

// IssueCertificate issues the certificate and runs engagement.
func (s *LearningFlowSaga) IssueCertificate(ctx context.Context, cmd command.IssueCertificateCommand) (*LearningFlowResult, error) {
	res, err := s.certificates.Handle(ctx, cmd)
	if err != nil {
		return nil, err
	}
	return s.engage(ctx, res, "certificate_issued", cmd.At), nil
}

func (s *LearningFlowSaga) engage(ctx context.Context, res *command.ProgressResult, trigger string, at time.Time) *LearningFlowResult {
	out := &LearningFlowResult{Progress: res}

	if s.activity != nil {
		streak, err := s.activity.Handle(ctx, command.RecordActivityCommand{ChildID: res.ChildID, At: at})
		if err != nil {
			s.logger.Error("record activity failed",
				"child_id", res.ChildID,
				"trigger", trigger,
				"error", err,
			)
		} else {
			out.Streak = streak
		}
	}

	if s.achievements != nil {
		ach, err := s.achievements.Execute(ctx, AchievementCheckInput{ChildID: res.ChildID, Trigger: trigger})
		if err != nil {
			s.logger.Error("achievement check failed",
				"child_id", res.ChildID,
				"trigger", trigger,
				"step", FailedStep(err),
				"error", err,
			)
		} else {
			out.Achievements = ach
		}
	}

	return out
}
