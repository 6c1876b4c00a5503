package store

import (
	"time"

	"github.com/BaSui01/evalflow/types"
)

// GoldenSet 评测金标集：两条按 position 对齐的只追加序列。
type GoldenSet struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	ProjectID string    `gorm:"size:100;not null;index" json:"project_id"`
	Name      string    `gorm:"size:200;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserInputs     []UserInput     `gorm:"foreignKey:GoldenSetID" json:"user_inputs"`
	CopilotOutputs []CopilotOutput `gorm:"foreignKey:GoldenSetID" json:"copilot_outputs"`
}

func (GoldenSet) TableName() string { return "eval_golden_sets" }

// PendingWindow returns the half-open index range of inputs that have no
// copilot output yet.
func (g *GoldenSet) PendingWindow() (start, end int) {
	start, end = len(g.CopilotOutputs), len(g.UserInputs)
	if start > end {
		start = end
	}
	return start, end
}

// UserInput 单条用户输入，IsActive 仅在模拟进行中为 true。
type UserInput struct {
	ID          uint      `gorm:"primaryKey" json:"id"`
	GoldenSetID uint      `gorm:"not null;uniqueIndex:idx_input_position" json:"golden_set_id"`
	Position    int       `gorm:"not null;uniqueIndex:idx_input_position" json:"position"`
	Content     string    `gorm:"type:text;not null" json:"content"`
	IsActive    bool      `gorm:"not null;default:false" json:"is_active"`
	CreatedAt   time.Time `json:"created_at"`
}

func (UserInput) TableName() string { return "eval_user_inputs" }

// CopilotOutput 与同 position 的 UserInput 对应的模拟输出。
type CopilotOutput struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	GoldenSetID  uint      `gorm:"not null;uniqueIndex:idx_output_position" json:"golden_set_id"`
	Position     int       `gorm:"not null;uniqueIndex:idx_output_position" json:"position"`
	EditableText string    `gorm:"type:text;not null" json:"editable_text"`
	CreatedAt    time.Time `json:"created_at"`
}

func (CopilotOutput) TableName() string { return "eval_copilot_outputs" }

// SessionMetadata records the flags a session was started with.
type SessionMetadata struct {
	SkipReview    bool   `json:"skip_review"`
	SkipEval      bool   `json:"skip_eval"`
	EngineVariant string `json:"engine_variant"`
}

// EvaluationSession 一次工作流引擎运行。终态后不可再修改，也不会被删除。
type EvaluationSession struct {
	ID            uint                `gorm:"primaryKey" json:"id"`
	GoldenSetID   uint                `gorm:"not null;index" json:"golden_set_id"`
	ThreadID      string              `gorm:"size:64;not null;uniqueIndex" json:"thread_id"`
	Status        types.SessionStatus `gorm:"size:40;not null;index" json:"status"`
	ModelName     string              `gorm:"size:100" json:"model_name"`
	InputPosition int                 `gorm:"not null" json:"input_position"`
	Metadata      SessionMetadata     `gorm:"type:text;serializer:json" json:"metadata"`
	CreatedAt     time.Time           `json:"created_at"`
	UpdatedAt     time.Time           `json:"updated_at"`
}

func (EvaluationSession) TableName() string { return "eval_sessions" }

// Rubric 会话的评分标准。Final 为空表示尚未定稿。
type Rubric struct {
	ID           uint               `gorm:"primaryKey" json:"id"`
	SessionID    uint               `gorm:"not null;index" json:"session_id"`
	Version      int                `gorm:"not null;default:1" json:"version"`
	Draft        []types.Criterion  `gorm:"type:text;serializer:json" json:"draft"`
	Final        []types.Criterion  `gorm:"type:text;serializer:json" json:"final,omitempty"`
	ReviewStatus types.ReviewStatus `gorm:"size:20;not null" json:"review_status"`
	ReviewedBy   string             `gorm:"size:100" json:"reviewed_by,omitempty"`
	ReviewedAt   *time.Time         `json:"reviewed_at,omitempty"`
	Feedback     string             `gorm:"type:text" json:"feedback,omitempty"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

func (Rubric) TableName() string { return "eval_rubrics" }

// Current returns the finalized criteria when present, else the draft.
func (r *Rubric) Current() []types.Criterion {
	if len(r.Final) > 0 {
		return r.Final
	}
	return r.Draft
}

// JudgeRecord 一次打分记录，每个会话每种 Kind 至多一条。
type JudgeRecord struct {
	ID           uint            `gorm:"primaryKey" json:"id"`
	SessionID    uint            `gorm:"not null;uniqueIndex:idx_judge_session_kind" json:"session_id"`
	RubricID     uint            `gorm:"index" json:"rubric_id"`
	Kind         types.JudgeKind `gorm:"size:20;not null;uniqueIndex:idx_judge_session_kind" json:"kind"`
	Answers      []types.Answer  `gorm:"type:text;serializer:json" json:"answers"`
	OverallScore float64         `json:"overall_score"`
	Summary      string          `gorm:"type:text" json:"summary,omitempty"`
	EvaluatorID  string          `gorm:"size:100" json:"evaluator_id,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (JudgeRecord) TableName() string { return "eval_judge_records" }

// Evaluation converts the record to its API shape.
func (j *JudgeRecord) Evaluation() *types.Evaluation {
	return &types.Evaluation{
		Answers:      j.Answers,
		OverallScore: j.OverallScore,
		Summary:      j.Summary,
		EvaluatorID:  j.EvaluatorID,
	}
}

// FinalReport 会话终态报告，每个会话唯一。
type FinalReport struct {
	ID            uint          `gorm:"primaryKey" json:"id"`
	SessionID     uint          `gorm:"not null;uniqueIndex" json:"session_id"`
	Verdict       types.Verdict `gorm:"size:20;not null" json:"verdict"`
	OverallScore  float64       `json:"overall_score"`
	Summary       string        `gorm:"type:text" json:"summary,omitempty"`
	Discrepancies []string      `gorm:"type:text;serializer:json" json:"discrepancies,omitempty"`
	AuditTrail    []string      `gorm:"type:text;serializer:json" json:"audit_trail,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

func (FinalReport) TableName() string { return "eval_final_reports" }

// Report converts the record to its API shape.
func (f *FinalReport) Report() *types.Report {
	return &types.Report{
		Verdict:       f.Verdict,
		OverallScore:  f.OverallScore,
		Summary:       f.Summary,
		Discrepancies: f.Discrepancies,
		AuditTrail:    f.AuditTrail,
	}
}

// AllModels lists every model for AutoMigrate.
func AllModels() []any {
	return []any{
		&GoldenSet{},
		&UserInput{},
		&CopilotOutput{},
		&EvaluationSession{},
		&Rubric{},
		&JudgeRecord{},
		&FinalReport{},
	}
}
