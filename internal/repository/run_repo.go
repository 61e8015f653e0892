package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/dugoutlabs/hap/internal/models"
)

// runRepo implements RunRepository using GORM.
type runRepo struct {
	db *gorm.DB
}

// NewRunRepository creates a new RunRepository.
func NewRunRepository(db *gorm.DB) *runRepo {
	return &runRepo{db: db}
}

// Create inserts a new run record.
func (r *runRepo) Create(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return fmt.Errorf("creating run: %w", err)
	}
	return nil
}

// Update persists changes to an existing run record.
func (r *runRepo) Update(ctx context.Context, run *models.Run) error {
	if err := r.db.WithContext(ctx).Save(run).Error; err != nil {
		return fmt.Errorf("updating run: %w", err)
	}
	return nil
}

// GetByToken retrieves a run by its working-directory token.
func (r *runRepo) GetByToken(ctx context.Context, token string) (*models.Run, error) {
	var run models.Run
	if err := r.db.WithContext(ctx).Where("token = ?", token).First(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("getting run by token: %w", err)
	}
	return &run, nil
}

// Recent returns the most recent runs, newest first.
func (r *runRepo) Recent(ctx context.Context, limit int) ([]*models.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []*models.Run
	if err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing recent runs: %w", err)
	}
	return runs, nil
}

// Ensure runRepo implements RunRepository at compile time.
var _ RunRepository = (*runRepo)(nil)
