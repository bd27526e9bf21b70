package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/agentrelay/types"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// RunRecord is the row stored for one finished top-level run. Steps are kept as
// the JSON of the whole ExecutionLog.
type RunRecord struct {
	RunID          string `gorm:"primaryKey;size:64"`
	AgentID        string `gorm:"size:128;index"`
	SessionID      string `gorm:"size:128;index"`
	Task           string `gorm:"type:text"`
	Status         string `gorm:"size:32;index"`
	Reason         string `gorm:"size:32"`
	FinalResponse  string `gorm:"type:text"`
	Error          string `gorm:"type:text"`
	Steps          int
	ToolCallsCount int
	ElapsedMS      int64
	Log            string    `gorm:"type:text"`
	StartedAt      time.Time `gorm:"index"`
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// TableName 固定表名
func (RunRecord) TableName() string {
	return "agent_runs"
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	AgentID   string
	SessionID string
	Status    types.Status
	Limit     int
}

// GormRunStore stores finished runs in a relational database.
type GormRunStore struct {
	db     *gorm.DB
	logger *zap.Logger
}

// NewGormRunStore migrates the runs table and returns the store.
func NewGormRunStore(db *gorm.DB, logger *zap.Logger) (*GormRunStore, error) {
	if db == nil {
		return nil, fmt.Errorf("%w: db cannot be nil", ErrInvalidInput)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := db.AutoMigrate(&RunRecord{}); err != nil {
		return nil, fmt.Errorf("migrate agent_runs: %w", err)
	}
	return &GormRunStore{db: db, logger: logger.With(zap.String("component", "run_store"))}, nil
}

// SaveRun upserts log by run id.
func (s *GormRunStore) SaveRun(ctx context.Context, log *types.ExecutionLog) error {
	if log == nil || log.RunID == "" {
		return ErrInvalidInput
	}
	data, err := json.Marshal(log)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}
	rec := RunRecord{
		RunID:          log.RunID,
		AgentID:        log.AgentID,
		SessionID:      log.SessionID,
		Task:           log.Task,
		Status:         string(log.Status),
		Reason:         string(log.Reason),
		FinalResponse:  log.FinalResponse,
		Error:          log.Error,
		Steps:          len(log.Steps),
		ToolCallsCount: log.ToolCallsCount,
		ElapsedMS:      log.Elapsed.Milliseconds(),
		Log:            string(data),
		StartedAt:      log.StartedAt,
	}
	err = s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "run_id"}},
		UpdateAll: true,
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("save run %s: %w", log.RunID, err)
	}
	s.logger.Debug("run stored",
		zap.String("run_id", log.RunID),
		zap.String("status", rec.Status),
		zap.Int("steps", rec.Steps))
	return nil
}

// GetRun loads a stored run.
func (s *GormRunStore) GetRun(ctx context.Context, runID string) (*types.ExecutionLog, error) {
	var rec RunRecord
	err := s.db.WithContext(ctx).Where("run_id = ?", runID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("run %s: %w", runID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return decodeRun(rec)
}

// ListRuns returns stored runs, newest first.
func (s *GormRunStore) ListRuns(ctx context.Context, filter RunFilter) ([]*types.ExecutionLog, error) {
	q := s.db.WithContext(ctx).Model(&RunRecord{}).Order("started_at DESC")
	if filter.AgentID != "" {
		q = q.Where("agent_id = ?", filter.AgentID)
	}
	if filter.SessionID != "" {
		q = q.Where("session_id = ?", filter.SessionID)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []RunRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*types.ExecutionLog, 0, len(recs))
	for _, rec := range recs {
		log, err := decodeRun(rec)
		if err != nil {
			return nil, err
		}
		out = append(out, log)
	}
	return out, nil
}

// Ping checks the database connection.
func (s *GormRunStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func decodeRun(rec RunRecord) (*types.ExecutionLog, error) {
	var log types.ExecutionLog
	if err := json.Unmarshal([]byte(rec.Log), &log); err != nil {
		return nil, fmt.Errorf("decode run %s: %w", rec.RunID, err)
	}
	return &log, nil
}
