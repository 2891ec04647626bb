package badger

import (
	"context"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/timshannon/badgerhold/v4"

	"github.com/ternarybob/visum/internal/common"
	"github.com/ternarybob/visum/internal/interfaces"
	"github.com/ternarybob/visum/internal/models"
)

// ResultStorage implements the ResultStorage interface for Badger
type ResultStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewResultStorage creates a new ResultStorage instance
func NewResultStorage(db *BadgerDB, logger arbor.ILogger) interfaces.ResultStorage {
	return &ResultStorage{
		db:     db,
		logger: logger,
	}
}

func (s *ResultStorage) SaveResult(ctx context.Context, result *models.VideoResult) error {
	if result.ID == "" {
		result.ID = common.NewResultID()
	}
	if result.JobID == "" {
		return fmt.Errorf("result job ID is required")
	}

	if err := s.db.Store().Upsert(result.ID, result); err != nil {
		return fmt.Errorf("failed to save result: %w", err)
	}
	return nil
}

func (s *ResultStorage) GetResultByJob(ctx context.Context, jobID string) (*models.VideoResult, error) {
	var results []models.VideoResult
	if err := s.db.Store().Find(&results, badgerhold.Where("JobID").Eq(jobID)); err != nil {
		return nil, fmt.Errorf("failed to get result: %w", err)
	}
	if len(results) == 0 {
		return nil, fmt.Errorf("%w for job: %s", ErrResultNotFound, jobID)
	}
	return &results[0], nil
}

func (s *ResultStorage) ListResults(ctx context.Context, limit, offset int) ([]*models.VideoResult, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("CreatedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Skip(offset)
	}

	var results []models.VideoResult
	if err := s.db.Store().Find(&results, query); err != nil {
		return nil, fmt.Errorf("failed to list results: %w", err)
	}

	out := make([]*models.VideoResult, len(results))
	for i := range results {
		out[i] = &results[i]
	}
	return out, nil
}

func (s *ResultStorage) CountResults(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.VideoResult{}, nil)
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
