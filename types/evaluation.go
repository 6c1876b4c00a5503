package types

// SessionStatus is the lifecycle status of an evaluation session.
type SessionStatus string

const (
	SessionPending                 SessionStatus = "pending"
	SessionAwaitingRubricReview    SessionStatus = "awaiting_rubric_review"
	SessionAwaitingHumanEvaluation SessionStatus = "awaiting_human_evaluation"
	SessionCompleted               SessionStatus = "completed"
	SessionFailed                  SessionStatus = "failed"
)

// IsTerminal reports whether no further transition is allowed.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionCompleted || s == SessionFailed
}

// TerminalStatuses lists the statuses a session never leaves.
func TerminalStatuses() []SessionStatus {
	return []SessionStatus{SessionCompleted, SessionFailed}
}

// ReviewStatus tracks the human review of a rubric.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// JudgeKind distinguishes agent-produced and human-produced evaluations.
type JudgeKind string

const (
	JudgeAgent JudgeKind = "agent"
	JudgeHuman JudgeKind = "human"
)

// Verdict is the outcome recorded on a final report.
type Verdict string

const (
	VerdictPass        Verdict = "pass"
	VerdictFail        Verdict = "fail"
	VerdictNeedsReview Verdict = "needs_review"
)

// Criterion is one weighted rubric question.
type Criterion struct {
	ID       string  `json:"id"`
	Question string  `json:"question"`
	Category string  `json:"category,omitempty"`
	Weight   float64 `json:"weight"`
	Guidance string  `json:"guidance,omitempty"`
}

// CriterionPatch overwrites only the fields that are set.
type CriterionPatch struct {
	ID       string   `json:"id"`
	Question *string  `json:"question,omitempty"`
	Category *string  `json:"category,omitempty"`
	Weight   *float64 `json:"weight,omitempty"`
	Guidance *string  `json:"guidance,omitempty"`
}

// Answer is the score given to one rubric question.
type Answer struct {
	QuestionID string  `json:"question_id"`
	Score      float64 `json:"score"`
	Reasoning  string  `json:"reasoning,omitempty"`
}

// AnswerPatch overwrites only the fields that are set.
type AnswerPatch struct {
	QuestionID string   `json:"question_id"`
	Score      *float64 `json:"score,omitempty"`
	Reasoning  *string  `json:"reasoning,omitempty"`
}

// Evaluation is a scored pass over a rubric.
type Evaluation struct {
	Answers      []Answer `json:"answers"`
	OverallScore float64  `json:"overall_score"`
	Summary      string   `json:"summary,omitempty"`
	EvaluatorID  string   `json:"evaluator_id,omitempty"`
}

// Report is the terminal artifact of a session.
type Report struct {
	Verdict       Verdict  `json:"verdict"`
	OverallScore  float64  `json:"overall_score"`
	Summary       string   `json:"summary,omitempty"`
	Discrepancies []string `json:"discrepancies,omitempty"`
	AuditTrail    []string `json:"audit_trail,omitempty"`
}
