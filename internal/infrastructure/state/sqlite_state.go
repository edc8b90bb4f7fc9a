package state

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"hookdeploy/internal/errs"
	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
	"hookdeploy/internal/ports"
)

// SQLiteStateStore keeps the last deployed commit of each working copy.
type SQLiteStateStore struct {
	db *gorm.DB
}

var _ ports.DeployStateStore = (*SQLiteStateStore)(nil)

func NewSQLiteStateStore(db *gorm.DB) *SQLiteStateStore {
	return &SQLiteStateStore{db: db}
}

func (s *SQLiteStateStore) LastDeploy(ctx context.Context, workDir string) (ports.DeployRecord, bool, error) {
	if ctx == nil {
		return ports.DeployRecord{}, false, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return ports.DeployRecord{}, false, errs.Wrap(err, "check context")
	}

	key := strings.TrimSpace(workDir)
	if key == "" {
		return ports.DeployRecord{}, false, errors.New("work dir is required")
	}

	var row model.DeployState
	if err := s.db.WithContext(ctx).Where("work_dir = ?", key).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ports.DeployRecord{}, false, nil
		}
		return ports.DeployRecord{}, false, errs.Wrap(err, "query deploy state by work dir")
	}

	return mapDeployState(row), true, nil
}

func (s *SQLiteStateStore) RecordDeploy(ctx context.Context, record ports.DeployRecord) error {
	if ctx == nil {
		return errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return errs.Wrap(err, "check context")
	}

	key := strings.TrimSpace(record.WorkDir)
	if key == "" {
		return errors.New("work dir is required")
	}
	deployedAt := record.DeployedAt
	if deployedAt.IsZero() {
		deployedAt = time.Now().UTC()
	}

	row := model.DeployState{
		WorkDir:    key,
		Repository: record.Repository,
		Branch:     record.Branch,
		CommitSHA:  record.CommitSHA,
		EventID:    record.EventID,
		DeployedAt: deployedAt,
	}

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "work_dir"}},
		DoUpdates: clause.Assignments(map[string]any{
			"repository":  row.Repository,
			"branch":      row.Branch,
			"commit_sha":  row.CommitSHA,
			"event_id":    row.EventID,
			"deployed_at": row.DeployedAt,
		}),
	}).Create(&row).Error; err != nil {
		return errs.Wrap(err, "upsert deploy state")
	}

	return nil
}

func (s *SQLiteStateStore) ListDeploys(ctx context.Context) ([]ports.DeployRecord, error) {
	if ctx == nil {
		return nil, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return nil, errs.Wrap(err, "check context")
	}

	var rows []model.DeployState
	if err := s.db.WithContext(ctx).Order("deployed_at desc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "list deploy states")
	}

	out := make([]ports.DeployRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, mapDeployState(row))
	}
	return out, nil
}

func mapDeployState(row model.DeployState) ports.DeployRecord {
	return ports.DeployRecord{
		WorkDir:    row.WorkDir,
		Repository: row.Repository,
		Branch:     row.Branch,
		CommitSHA:  row.CommitSHA,
		EventID:    row.EventID,
		DeployedAt: row.DeployedAt,
	}
}
