package command

import (
	"context"
	"fmt"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// CompleteQuizCommand completes the end-of-topic quiz.
type CompleteQuizCommand struct {
	ProgressCommand
}

// CompleteQuizHandler handles CompleteQuizCommand.
type CompleteQuizHandler struct {
	flow progressFlow
}

// NewCompleteQuizHandler creates a new CompleteQuizHandler.
func NewCompleteQuizHandler(cfg ProgressConfig) *CompleteQuizHandler {
	return &CompleteQuizHandler{flow: newProgressFlow("complete_quiz", cfg)}
}

// Handle executes the command. Valid only once every section is completed.
func (h *CompleteQuizHandler) Handle(ctx context.Context, cmd CompleteQuizCommand) (*ProgressResult, error) {
	f := h.flow
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}

	t, rec, err := f.load(ctx, cmd.ProgressCommand)
	if err != nil {
		return nil, err
	}

	now := f.at(cmd.ProgressCommand)
	outcome, err := rec.CompleteQuiz(now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}

	res := &ProgressResult{
		ChildID: cmd.ChildID,
		TopicID: cmd.TopicID,
		From:    outcome.From,
		To:      outcome.To,
		Record:  rec,
		Topic:   t,
	}

	applied, err := f.Progress.MarkQuizCompleted(ctx, cmd.ChildID, cmd.TopicID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}
	if !applied {
		return f.review(res, RewardQuiz), nil
	}

	f.advanceTopic(ctx, t, rec, now)

	if err := f.reward(ctx, res, RewardQuiz, f.Rewards.Quiz, ledger.QuizReason(cmd.TopicID)); err != nil {
		return nil, err
	}

	f.notify(shared.EventQuizCompleted, rec, -1)

	f.logger.Info("quiz completed", "child_id", cmd.ChildID, "topic_id", cmd.TopicID)
	return res, nil
}
