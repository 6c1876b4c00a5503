package api

import "github.com/BaSui01/evalflow/types"

// =============================================================================
// 金标集
// =============================================================================

// CreateGoldenSetRequest 创建金标集
type CreateGoldenSetRequest struct {
	ProjectID string   `json:"project_id"`
	Name      string   `json:"name"`
	Inputs    []string `json:"inputs,omitempty"`
}

// AppendInputsRequest 在末尾追加用户输入
type AppendInputsRequest struct {
	Inputs []string `json:"inputs"`
}

// AppendInputsResponse 追加结果，Positions 与 Inputs 一一对应
type AppendInputsResponse struct {
	GoldenSetID uint  `json:"golden_set_id"`
	Positions   []int `json:"positions"`
}

// =============================================================================
// 批量与会话
// =============================================================================

// BatchRequest 批量执行参数，金标集 id 来自路径
type BatchRequest struct {
	ModelName  string `json:"model_name,omitempty"`
	SkipReview bool   `json:"skip_review,omitempty"`
	SkipEval   bool   `json:"skip_eval,omitempty"`
}

// BatchResponse 批量执行结果。单条输入失败不影响 Success。
type BatchResponse struct {
	GoldenSetID    uint `json:"golden_set_id"`
	Success        bool `json:"success"`
	UserInputs     int  `json:"user_inputs"`
	CopilotOutputs int  `json:"copilot_outputs"`
}

// StartSessionRequest 启动单个会话
type StartSessionRequest struct {
	GoldenSetID   uint   `json:"golden_set_id"`
	ModelName     string `json:"model_name,omitempty"`
	SkipReview    bool   `json:"skip_review,omitempty"`
	SkipEval      bool   `json:"skip_eval,omitempty"`
	InputPosition *int   `json:"input_position,omitempty"`
}

// RubricReviewRequest 评分标准审核，会话 id 来自路径。
// ReviewerID 为空时使用认证用户。
type RubricReviewRequest struct {
	ThreadID      string                 `json:"thread_id"`
	Approved      bool                   `json:"approved"`
	Modifications []types.Criterion      `json:"modifications,omitempty"`
	Patches       []types.CriterionPatch `json:"patches,omitempty"`
	Feedback      string                 `json:"feedback,omitempty"`
	ReviewerID    string                 `json:"reviewer_id,omitempty"`
}

// HumanEvaluationRequest 人工评分，会话 id 来自路径。
// EvaluatorID 为空时使用认证用户。
type HumanEvaluationRequest struct {
	ThreadID          string              `json:"thread_id"`
	Scores            []types.Answer      `json:"scores,omitempty"`
	AnswerPatches     []types.AnswerPatch `json:"answer_patches,omitempty"`
	OverallAssessment string              `json:"overall_assessment,omitempty"`
	EvaluatorID       string              `json:"evaluator_id,omitempty"`
}
