package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/BaSui01/evalflow/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Store is the persistence surface used by the orchestration layer.
type Store interface {
	CreateGoldenSet(ctx context.Context, projectID, name string, inputs []string) (*GoldenSet, error)
	AppendUserInputs(ctx context.Context, goldenSetID uint, contents []string) ([]UserInput, error)
	GetGoldenSet(ctx context.Context, id uint) (*GoldenSet, error)
	SetInputsActive(ctx context.Context, goldenSetID uint, from, to int, active bool) error
	AppendCopilotOutput(ctx context.Context, goldenSetID uint, position int, text string) error

	CreateSession(ctx context.Context, s *EvaluationSession) error
	GetSession(ctx context.Context, id uint) (*EvaluationSession, error)
	UpdateSessionStatus(ctx context.Context, id uint, status types.SessionStatus) error

	SaveRubric(ctx context.Context, r *Rubric) error
	GetRubric(ctx context.Context, sessionID uint) (*Rubric, error)
	SaveJudgeRecord(ctx context.Context, j *JudgeRecord) error
	GetJudgeRecord(ctx context.Context, sessionID uint, kind types.JudgeKind) (*JudgeRecord, error)
	CreateFinalReport(ctx context.Context, f *FinalReport) error
	GetFinalReport(ctx context.Context, sessionID uint) (*FinalReport, error)
}

// GormStore implements Store on top of gorm.
type GormStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormStore wraps an opened gorm handle. The caller owns the handle's lifecycle.
func NewGormStore(db *gorm.DB, logger *zap.Logger) *GormStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GormStore{db: db, logger: logger.With(zap.String("component", "store"))}
}

// AutoMigrate creates or updates every table. Production deployments use the
// SQL migrations instead.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

// DB returns the underlying handle.
func (s *GormStore) DB() *gorm.DB {
	return s.db
}

func (s *GormStore) CreateGoldenSet(ctx context.Context, projectID, name string, inputs []string) (*GoldenSet, error) {
	if projectID == "" {
		return nil, types.NewInvalidRequestError("project_id is required")
	}
	gs := &GoldenSet{ProjectID: projectID, Name: name}
	for i, c := range inputs {
		gs.UserInputs = append(gs.UserInputs, UserInput{Position: i, Content: c})
	}
	if err := s.db.WithContext(ctx).Create(gs).Error; err != nil {
		return nil, dbError(err, "create golden set")
	}
	gs.CopilotOutputs = []CopilotOutput{}
	return gs, nil
}

// AppendUserInputs adds inputs after the last existing position.
func (s *GormStore) AppendUserInputs(ctx context.Context, goldenSetID uint, contents []string) ([]UserInput, error) {
	var created []UserInput
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureGoldenSet(tx, goldenSetID); err != nil {
			return err
		}
		var n int64
		if err := tx.Model(&UserInput{}).Where("golden_set_id = ?", goldenSetID).Count(&n).Error; err != nil {
			return err
		}
		for i, c := range contents {
			created = append(created, UserInput{GoldenSetID: goldenSetID, Position: int(n) + i, Content: c})
		}
		if len(created) == 0 {
			return nil
		}
		return tx.Create(&created).Error
	})
	if err != nil {
		return nil, dbError(err, "append user inputs")
	}
	return created, nil
}

// GetGoldenSet loads a golden set with both sequences ordered by position.
func (s *GormStore) GetGoldenSet(ctx context.Context, id uint) (*GoldenSet, error) {
	var gs GoldenSet
	err := s.db.WithContext(ctx).
		Preload("UserInputs", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Preload("CopilotOutputs", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		First(&gs, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError("golden set", id)
		}
		return nil, dbError(err, "get golden set")
	}
	return &gs, nil
}

// SetInputsActive sets is_active for positions in [from, to).
func (s *GormStore) SetInputsActive(ctx context.Context, goldenSetID uint, from, to int, active bool) error {
	if from >= to {
		return nil
	}
	err := s.db.WithContext(ctx).Model(&UserInput{}).
		Where("golden_set_id = ? AND position >= ? AND position < ?", goldenSetID, from, to).
		Update("is_active", active).Error
	return dbError(err, "set inputs active")
}

// AppendCopilotOutput appends text at position and clears the input's active
// flag in one transaction. position must equal the current output count.
func (s *GormStore) AppendCopilotOutput(ctx context.Context, goldenSetID uint, position int, text string) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&CopilotOutput{}).Where("golden_set_id = ?", goldenSetID).Count(&n).Error; err != nil {
			return err
		}
		if int(n) != position {
			return types.Errorf(types.ErrConflict, "copilot output append point is %d, not %d", n, position)
		}
		var input UserInput
		if err := tx.Where("golden_set_id = ? AND position = ?", goldenSetID, position).First(&input).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return types.Errorf(types.ErrConflict, "no user input at position %d", position)
			}
			return err
		}
		out := CopilotOutput{GoldenSetID: goldenSetID, Position: position, EditableText: text}
		if err := tx.Create(&out).Error; err != nil {
			return err
		}
		return tx.Model(&input).Update("is_active", false).Error
	})
	if err != nil {
		return dbError(err, "append copilot output")
	}
	s.logger.Debug("copilot output appended", zap.Uint("golden_set_id", goldenSetID), zap.Int("position", position))
	return nil
}

func (s *GormStore) CreateSession(ctx context.Context, sess *EvaluationSession) error {
	if sess.Status == "" {
		sess.Status = types.SessionPending
	}
	return dbError(s.db.WithContext(ctx).Create(sess).Error, "create session")
}

func (s *GormStore) GetSession(ctx context.Context, id uint) (*EvaluationSession, error) {
	var sess EvaluationSession
	if err := s.db.WithContext(ctx).First(&sess, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError("session", id)
		}
		return nil, dbError(err, "get session")
	}
	return &sess, nil
}

// UpdateSessionStatus moves a non-terminal session to status. A terminal
// session is never modified.
func (s *GormStore) UpdateSessionStatus(ctx context.Context, id uint, status types.SessionStatus) error {
	res := s.db.WithContext(ctx).Model(&EvaluationSession{}).
		Where("id = ? AND status NOT IN ?", id, terminalStatuses()).
		Update("status", string(status))
	if res.Error != nil {
		return dbError(res.Error, "update session status")
	}
	if res.RowsAffected > 0 {
		return nil
	}
	cur, err := s.GetSession(ctx, id)
	if err != nil {
		return err
	}
	if cur.Status == status {
		return nil
	}
	return types.Errorf(types.ErrInvalidTransition, "session %d is %s", id, cur.Status).
		WithHTTPStatus(409)
}

// SaveRubric creates the rubric or updates it in place.
func (s *GormStore) SaveRubric(ctx context.Context, r *Rubric) error {
	if r.ReviewStatus == "" {
		r.ReviewStatus = types.ReviewPending
	}
	if r.Version == 0 {
		r.Version = 1
	}
	return dbError(s.db.WithContext(ctx).Save(r).Error, "save rubric")
}

// GetRubric returns the latest rubric version of a session.
func (s *GormStore) GetRubric(ctx context.Context, sessionID uint) (*Rubric, error) {
	var r Rubric
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("version DESC").Order("id DESC").First(&r).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError("rubric for session", sessionID)
		}
		return nil, dbError(err, "get rubric")
	}
	return &r, nil
}

// SaveJudgeRecord upserts the record for (session, kind).
func (s *GormStore) SaveJudgeRecord(ctx context.Context, j *JudgeRecord) error {
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "session_id"}, {Name: "kind"}},
		DoUpdates: clause.AssignmentColumns([]string{"rubric_id", "answers", "overall_score", "summary", "evaluator_id", "updated_at"}),
	}).Create(j).Error
	return dbError(err, "save judge record")
}

func (s *GormStore) GetJudgeRecord(ctx context.Context, sessionID uint, kind types.JudgeKind) (*JudgeRecord, error) {
	var j JudgeRecord
	err := s.db.WithContext(ctx).Where("session_id = ? AND kind = ?", sessionID, string(kind)).First(&j).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError(string(kind)+" evaluation for session", sessionID)
		}
		return nil, dbError(err, "get judge record")
	}
	return &j, nil
}

// CreateFinalReport stores the single report of a session. A second report
// for the same session is a CONFLICT.
func (s *GormStore) CreateFinalReport(ctx context.Context, f *FinalReport) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&FinalReport{}).Where("session_id = ?", f.SessionID).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return types.Errorf(types.ErrConflict, "final report already exists for session %d", f.SessionID).
				WithHTTPStatus(409)
		}
		return tx.Create(f).Error
	})
	return dbError(err, "create final report")
}

func (s *GormStore) GetFinalReport(ctx context.Context, sessionID uint) (*FinalReport, error) {
	var f FinalReport
	if err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&f).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, types.NewNotFoundError("final report for session", sessionID)
		}
		return nil, dbError(err, "get final report")
	}
	return &f, nil
}

func terminalStatuses() []string {
	out := make([]string, 0, 2)
	for _, st := range types.TerminalStatuses() {
		out = append(out, string(st))
	}
	return out
}

func ensureGoldenSet(tx *gorm.DB, id uint) error {
	var n int64
	if err := tx.Model(&GoldenSet{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return err
	}
	if n == 0 {
		return types.NewNotFoundError("golden set", id)
	}
	return nil
}

// dbError keeps *types.Error values and wraps everything else as INTERNAL_ERROR.
func dbError(err error, op string) error {
	if err == nil {
		return nil
	}
	return types.WrapError(err, types.ErrInternalError, op)
}
