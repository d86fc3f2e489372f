package command

import (
	"context"
	"fmt"

	"github.com/sparkquest/sparkquest-hub/internal/domain/ledger"
	"github.com/sparkquest/sparkquest-hub/internal/domain/shared"
)

// IssueCertificateCommand issues the topic certificate.
type IssueCertificateCommand struct {
	ProgressCommand
}

// IssueCertificateHandler handles IssueCertificateCommand.
type IssueCertificateHandler struct {
	flow progressFlow
}

// NewIssueCertificateHandler creates a new IssueCertificateHandler.
func NewIssueCertificateHandler(cfg ProgressConfig) *IssueCertificateHandler {
	return &IssueCertificateHandler{flow: newProgressFlow("issue_certificate", cfg)}
}

// Handle executes the command. Valid only after the quiz; the issued state
// is terminal.
func (h *IssueCertificateHandler) Handle(ctx context.Context, cmd IssueCertificateCommand) (*ProgressResult, error) {
	f := h.flow
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}

	t, rec, err := f.load(ctx, cmd.ProgressCommand)
	if err != nil {
		return nil, err
	}

	now := f.at(cmd.ProgressCommand)
	outcome, err := rec.IssueCertificate(now)
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

	applied, err := f.Progress.MarkCertificateIssued(ctx, cmd.ChildID, cmd.TopicID, now)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", f.op, err)
	}
	if !applied {
		return f.review(res, RewardCertificate), nil
	}

	if err := f.reward(ctx, res, RewardCertificate, f.Rewards.Certificate, ledger.CertificateReason(cmd.TopicID)); err != nil {
		return nil, err
	}

	f.notify(shared.EventCertificateIssued, rec, -1)

	f.logger.Info("certificate issued", "child_id", cmd.ChildID, "topic_id", cmd.TopicID)
	return res, nil
}
