package command

import (
	"context"
	"fmt"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// COMPLETE SECTION COMMAND
// Section i unlocks only after section i-1. Re-completing a section is a
// review: allowed, and never rewarded twice.
// ══════════════════════════════════════════════════════════════════════════════

// CompleteSectionCommand completes one section.
type CompleteSectionCommand struct {
	ProgressCommand
	SectionIndex int
}

// CompleteSectionHandler handles CompleteSectionCommand.
type CompleteSectionHandler struct {
	flow progressFlow
}

// NewCompleteSectionHandler creates a new CompleteSectionHandler.
func NewCompleteSectionHandler(cfg ProgressConfig) *CompleteSectionHandler {
	return &CompleteSectionHandler{flow: newProgressFlow("complete_section", cfg)}
}

// Handle executes the command. Out-of-order completions return a
// SequenceViolation.
func (h *CompleteSectionHandler) Handle(ctx context.Context, cmd CompleteSectionCommand) (*ProgressResult, error) {
	f := h.flow
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}

	t, rec, err := f.load(ctx, cmd.ProgressCommand)
	if err != nil {
		return nil, err
	}

	now := f.at(cmd.ProgressCommand)
	outcome, err := rec.CompleteSection(cmd.SectionIndex, now)
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
	if outcome.Review() {
		return f.review(res, RewardSection), nil
	}

	applied, err := f.Progress.MarkSectionCompleted(ctx, cmd.ChildID, cmd.TopicID, cmd.SectionIndex, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}
	if !applied {
		return f.review(res, RewardSection), nil
	}

	f.advanceTopic(ctx, t, rec, now)

	if err := f.reward(ctx, res, RewardSection, f.Rewards.Section, ledger.SectionReason(cmd.TopicID, cmd.SectionIndex)); err != nil {
		return nil, err
	}

	f.notify(shared.EventSectionCompleted, rec, cmd.SectionIndex)

	f.logger.Info("section completed",
		"child_id", cmd.ChildID,
		"topic_id", cmd.TopicID,
		"section_index", cmd.SectionIndex,
		"state", res.To,
	)
	return res, nil
}
