package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/sparkquest/sparkquest-hub/internal/application/command"
	"github.com/sparkquest/sparkquest-hub/internal/application/query"
	"github.com/sparkquest/sparkquest-hub/internal/application/saga"
	"github.com/sparkquest/sparkquest-hub/internal/domain/achievement"
	"github.com/sparkquest/sparkquest-hub/internal/domain/progress"
	"github.com/sparkquest/sparkquest-hub/internal/domain/topic"
)

// ══════════════════════════════════════════════════════════════════════════════
// HEALTH & STATUS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleRoot serves the root endpoint with basic API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"name":    "SparkQuest Hub API",
		"version": s.config.Version,
		"endpoints": map[string]string{
			"health":   "/health",
			"topics":   "/v1/topics",
			"children": "/v1/children/{childID}",
			"stream":   "/v1/children/{childID}/stream",
		},
	})
}

// handleHealth handles the health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Healthy {
			writeJSON(w, r, http.StatusServiceUnavailable, status)
			return
		}
		writeJSON(w, r, http.StatusOK, status)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"uptime":  s.Uptime().String(),
		"version": s.config.Version,
	})
}

// handleReady handles the readiness probe endpoint.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.deps.HealthChecker != nil {
		status := s.deps.HealthChecker.Check(r.Context())
		if !status.Ready {
			writeJSON(w, r, http.StatusServiceUnavailable, map[string]string{
				"status": "not_ready",
				"reason": status.Message,
			})
			return
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// handleLive handles the liveness probe endpoint.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "alive"})
}

// ══════════════════════════════════════════════════════════════════════════════
// TOPIC & SECTION HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleCreateTopic handles POST /v1/topics.
func (s *Server) handleCreateTopic(w http.ResponseWriter, r *http.Request) {
	var req createTopicRequest
	if !s.decode(w, r, &req) {
		return
	}

	sections := make([]command.SectionInput, len(req.Sections))
	for i, sec := range req.Sections {
		sections[i] = command.SectionInput{
			Title:            sec.Title,
			Description:      sec.Description,
			EstimatedMinutes: sec.EstimatedMinutes,
		}
	}

	t, err := s.deps.CreateTopic.Handle(r.Context(), command.CreateTopicCommand{
		ID:          req.ID,
		Title:       req.Title,
		Description: req.Description,
		TargetAge:   req.TargetAge,
		CreatedBy:   req.CreatedBy,
		Sections:    sections,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, r, http.StatusCreated, newTopicView(t))
}

// handleGetTopic handles GET /v1/topics/{topicID}.
func (s *Server) handleGetTopic(w http.ResponseWriter, r *http.Request) {
	t, err := s.deps.Topics.GetByID(r.Context(), r.PathValue("topicID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newTopicView(t))
}

// handleResolveSection handles GET /v1/topics/{topicID}/sections/{index}.
// Optional query: child_id (enables per-child illustration rollout), age.
func (s *Server) handleResolveSection(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.sectionCommand(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Resolver.ResolveSection(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSectionView(res))
}

// handleRegenerateSection handles POST /v1/topics/{topicID}/sections/{index}/regenerate.
func (s *Server) handleRegenerateSection(w http.ResponseWriter, r *http.Request) {
	cmd, ok := s.sectionCommand(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Resolver.RegenerateSection(r.Context(), cmd)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newSectionView(res))
}

// handleInvalidateSection handles DELETE /v1/topics/{topicID}/sections/{index}.
func (s *Server) handleInvalidateSection(w http.ResponseWriter, r *http.Request) {
	index, ok := s.sectionIndex(w, r)
	if !ok {
		return
	}

	if err := s.deps.Resolver.InvalidateSection(r.Context(), r.PathValue("topicID"), index); err != nil {
		s.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sectionCommand(w http.ResponseWriter, r *http.Request) (command.ResolveSectionCommand, bool) {
	index, ok := s.sectionIndex(w, r)
	if !ok {
		return command.ResolveSectionCommand{}, false
	}

	params := sectionQuery{ChildID: r.URL.Query().Get("child_id")}
	if raw := r.URL.Query().Get("age"); raw != "" {
		age, err := strconv.Atoi(raw)
		if err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_input", "age must be an integer")
			return command.ResolveSectionCommand{}, false
		}
		params.Age = age
	}
	if !s.validateRequest(w, &params) {
		return command.ResolveSectionCommand{}, false
	}

	return command.ResolveSectionCommand{
		TopicID:      r.PathValue("topicID"),
		SectionIndex: index,
		ChildAge:     params.Age,
		Illustrate:   params.ChildID != "" && gate(s.deps.Illustrations, params.ChildID),
	}, true
}

func (s *Server) sectionIndex(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(r.PathValue("index"))
	if err != nil || index < 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "section index must be a non-negative integer")
		return 0, false
	}
	return index, true
}

// ══════════════════════════════════════════════════════════════════════════════
// PROGRESS HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetProgress handles GET /v1/children/{childID}/topics/{topicID}/progress.
func (s *Server) handleGetProgress(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetProgress.Handle(r.Context(), query.GetProgressQuery{
		ChildID: r.PathValue("childID"),
		TopicID: r.PathValue("topicID"),
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleCompleteSection handles POST .../sections/{index}/complete.
func (s *Server) handleCompleteSection(w http.ResponseWriter, r *http.Request) {
	base, ok := s.progressCommand(w, r)
	if !ok {
		return
	}
	index, ok := s.sectionIndex(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Learning.CompleteSection(r.Context(), command.CompleteSectionCommand{
		ProgressCommand: base,
		SectionIndex:    index,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLearningView(res))
}

// handleCompleteQuiz handles POST .../quiz/complete.
func (s *Server) handleCompleteQuiz(w http.ResponseWriter, r *http.Request) {
	base, ok := s.progressCommand(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Learning.CompleteQuiz(r.Context(), command.CompleteQuizCommand{ProgressCommand: base})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLearningView(res))
}

// handleIssueCertificate handles POST .../certificate.
func (s *Server) handleIssueCertificate(w http.ResponseWriter, r *http.Request) {
	base, ok := s.progressCommand(w, r)
	if !ok {
		return
	}

	res, err := s.deps.Learning.IssueCertificate(r.Context(), command.IssueCertificateCommand{ProgressCommand: base})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, newLearningView(res))
}

// progressCommand reads the path identifiers and the optional body.
func (s *Server) progressCommand(w http.ResponseWriter, r *http.Request) (command.ProgressCommand, bool) {
	var req progressRequest
	if !s.decodeOptional(w, r, &req) {
		return command.ProgressCommand{}, false
	}

	cmd := command.ProgressCommand{
		ChildID: r.PathValue("childID"),
		TopicID: r.PathValue("topicID"),
	}
	if req.At != nil {
		cmd.At = *req.At
	}
	return cmd, true
}

// ══════════════════════════════════════════════════════════════════════════════
// LEDGER, STREAK & ACHIEVEMENT HANDLERS
// ══════════════════════════════════════════════════════════════════════════════

// handleGetBalance handles GET /v1/children/{childID}/balance[?consistent=true].
func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	consistent, _ := strconv.ParseBool(r.URL.Query().Get("consistent"))

	view, err := s.deps.GetBalance.Handle(r.Context(), query.GetBalanceQuery{
		ChildID:    r.PathValue("childID"),
		Consistent: consistent,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleListTransactions handles GET /v1/children/{childID}/transactions.
// Optional query: from, to (RFC 3339), limit.
func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	q := query.ListTransactionsQuery{ChildID: r.PathValue("childID")}

	var err error
	if q.From, err = parseTimeParam(r, "from"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "from must be an RFC 3339 timestamp")
		return
	}
	if q.To, err = parseTimeParam(r, "to"); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_input", "to must be an RFC 3339 timestamp")
		return
	}
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if q.Limit, err = strconv.Atoi(raw); err != nil || q.Limit < 0 {
			writeJSONError(w, http.StatusBadRequest, "invalid_input", "limit must be a non-negative integer")
			return
		}
	}

	page, err := s.deps.ListTransactions.Handle(r.Context(), q)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, page)
}

// handleAppendTransaction handles POST /v1/children/{childID}/transactions.
// Used for grants and spends outside the learning flow.
func (s *Server) handleAppendTransaction(w http.ResponseWriter, r *http.Request) {
	var req appendTransactionRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.deps.Transaction.Handle(r.Context(), command.AppendTransactionCommand{
		ChildID: r.PathValue("childID"),
		Amount:  req.Amount,
		Reason:  req.Reason,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusCreated, newRewardView(res))
}

// handleGetStreak handles GET /v1/children/{childID}/streak.
func (s *Server) handleGetStreak(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetStreak.Handle(r.Context(), r.PathValue("childID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

// handleGetAchievements handles GET /v1/children/{childID}/achievements.
func (s *Server) handleGetAchievements(w http.ResponseWriter, r *http.Request) {
	view, err := s.deps.GetAchievements.Handle(r.Context(), r.PathValue("childID"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, r, http.StatusOK, view)
}

func parseTimeParam(r *http.Request, key string) (time.Time, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func gate(fn func(string) bool, childID string) bool {
	return fn == nil || fn(childID)
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE VIEWS
// ══════════════════════════════════════════════════════════════════════════════

type topicView struct {
	ID             string                 `json:"id"`
	Title          string                 `json:"title"`
	Description    string                 `json:"description,omitempty"`
	TargetAge      int                    `json:"target_age"`
	CreatedBy      string                 `json:"created_by,omitempty"`
	Status         topic.Status           `json:"status"`
	CurrentSection int                    `json:"current_section"`
	TotalSections  int                    `json:"total_sections"`
	Sections       []topic.SectionOutline `json:"sections"`
	CreatedAt      time.Time              `json:"created_at"`
	UpdatedAt      time.Time              `json:"updated_at"`
}

func newTopicView(t *topic.Topic) topicView {
	return topicView{
		ID:             t.ID,
		Title:          t.Title,
		Description:    t.Description,
		TargetAge:      t.TargetAge,
		CreatedBy:      t.CreatedBy,
		Status:         t.Status,
		CurrentSection: t.CurrentSection,
		TotalSections:  t.TotalSections(),
		Sections:       t.Sections,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
	}
}

type sectionView struct {
	*topic.SectionContent
	Outcome string `json:"outcome"`
}

func newSectionView(res *command.ResolveSectionResult) sectionView {
	return sectionView{SectionContent: res.Content, Outcome: res.Outcome}
}

type rewardView struct {
	TransactionID string    `json:"transaction_id"`
	Amount        int64     `json:"amount"`
	Reason        string    `json:"reason"`
	CreatedAt     time.Time `json:"created_at"`

	// Balance is omitted when the read-back after the append failed.
	Balance *int64 `json:"balance,omitempty"`
}

func newRewardView(res *command.AppendTransactionResult) *rewardView {
	if res == nil {
		return nil
	}
	return &rewardView{
		TransactionID: res.Transaction.ID,
		Amount:        res.Transaction.Amount,
		Reason:        res.Transaction.Reason,
		CreatedAt:     res.Transaction.CreatedAt,
		Balance:       res.Balance,
	}
}

type streakChangeView struct {
	Count     int         `json:"count"`
	BestCount int         `json:"best_count"`
	Change    string      `json:"change"`
	Day       string      `json:"day"`
	BonusDay  bool        `json:"bonus_day"`
	Bonus     *rewardView `json:"bonus,omitempty"`
}

type learningView struct {
	ChildID  string               `json:"child_id"`
	TopicID  string               `json:"topic_id"`
	From     progress.State       `json:"from"`
	To       progress.State       `json:"to"`
	Review   bool                 `json:"review"`
	Reward   *rewardView          `json:"reward,omitempty"`
	Progress *query.ProgressView  `json:"progress"`
	Streak   *streakChangeView    `json:"streak,omitempty"`
	Unlocked []achievement.Status `json:"unlocked"`
}

func newLearningView(res *saga.LearningFlowResult) learningView {
	p := res.Progress
	view := learningView{
		ChildID:  p.ChildID,
		TopicID:  p.TopicID,
		From:     p.From,
		To:       p.To,
		Review:   p.Review,
		Reward:   newRewardView(p.Reward),
		Progress: query.BuildProgressView(p.Topic, p.Record),
		Unlocked: []achievement.Status{},
	}

	if st := res.Streak; st != nil {
		view.Streak = &streakChangeView{
			Count:     st.State.Count,
			BestCount: st.State.BestCount,
			Change:    string(st.Change),
			Day:       st.Day.String(),
			BonusDay:  st.State.IsBonusDay(),
			Bonus:     newRewardView(st.Bonus),
		}
	}
	if res.Achievements != nil && len(res.Achievements.NewlyEarned) > 0 {
		view.Unlocked = res.Achievements.NewlyEarned
	}
	return view
}
