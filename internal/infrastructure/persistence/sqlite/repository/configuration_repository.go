package repository

import (
	"context"
	"errors"
	"strings"

	"gorm.io/gorm"

	domaindeploy "hookdeploy/internal/domain/deploy"
	"hookdeploy/internal/errs"
	"hookdeploy/internal/infrastructure/persistence/sqlite/model"
	"hookdeploy/internal/ports"
)

type ConfigurationRepository struct {
	db *gorm.DB
}

var _ ports.ConfigurationRepository = (*ConfigurationRepository)(nil)

func NewConfigurationRepository(db *gorm.DB) *ConfigurationRepository {
	return &ConfigurationRepository{db: db}
}

func (r *ConfigurationRepository) FindEnabledByRepo(ctx context.Context, repo string, exact bool) (ports.Configuration, bool, error) {
	repo = strings.TrimSpace(repo)
	if repo == "" {
		return ports.Configuration{}, false, nil
	}

	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Configuration{}, false, err
	}

	var rows []model.Configuration
	if err := db.
		Where("enabled = ?", true).
		Where(`LOWER(repository_url) LIKE ? ESCAPE '\'`, containsPattern(repo)).
		Order("created_at asc").
		Order("id asc").
		Find(&rows).Error; err != nil {
		return ports.Configuration{}, false, errs.Wrap(err, "query enabled configurations")
	}

	mode := domaindeploy.MatchSubstring
	if exact {
		mode = domaindeploy.MatchExact
	}
	for _, row := range rows {
		if domaindeploy.MatchesRepository(row.RepositoryURL, repo, mode) {
			return mapConfiguration(row), true, nil
		}
	}
	return ports.Configuration{}, false, nil
}

func (r *ConfigurationRepository) GetConfiguration(ctx context.Context, id uint64) (ports.Configuration, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return ports.Configuration{}, err
	}
	row, err := getConfigurationByID(db, id)
	if err != nil {
		return ports.Configuration{}, err
	}
	return mapConfiguration(row), nil
}

func (r *ConfigurationRepository) ListConfigurations(ctx context.Context) ([]ports.Configuration, error) {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return nil, err
	}

	var rows []model.Configuration
	if err := db.Order("created_at asc").Order("id asc").Find(&rows).Error; err != nil {
		return nil, errs.Wrap(err, "query configurations")
	}

	items := make([]ports.Configuration, 0, len(rows))
	for _, row := range rows {
		items = append(items, mapConfiguration(row))
	}
	return items, nil
}

func (r *ConfigurationRepository) CreateConfiguration(ctx context.Context, cfg ports.Configuration) (ports.Configuration, error) {
	row := model.Configuration{
		RepositoryURL: cfg.RepositoryURL,
		Secret:        cfg.Secret,
		Enabled:       cfg.Enabled,
		AutoDeploy:    cfg.AutoDeploy,
		DeployBranch:  cfg.DeployBranch,
		WorkDir:       cfg.WorkDir,
		CreatedAt:     cfg.CreatedAt,
		UpdatedAt:     cfg.UpdatedAt,
	}

	if err := inTx(ctx, r.db, func(db *gorm.DB) error {
		if row.Enabled {
			if err := ensureNoEnabledDuplicate(db, row.RepositoryURL, 0); err != nil {
				return err
			}
		}
		if err := db.Create(&row).Error; err != nil {
			return errs.Wrap(err, "insert configuration")
		}
		return nil
	}); err != nil {
		return ports.Configuration{}, err
	}
	return mapConfiguration(row), nil
}

func (r *ConfigurationRepository) UpdateConfiguration(ctx context.Context, cfg ports.Configuration) (ports.Configuration, error) {
	var updated model.Configuration
	if err := inTx(ctx, r.db, func(db *gorm.DB) error {
		if _, err := getConfigurationByID(db, cfg.ID); err != nil {
			return err
		}
		if cfg.Enabled {
			if err := ensureNoEnabledDuplicate(db, cfg.RepositoryURL, cfg.ID); err != nil {
				return err
			}
		}

		if err := db.Model(&model.Configuration{}).
			Where("id = ?", cfg.ID).
			Updates(map[string]any{
				"repository_url": cfg.RepositoryURL,
				"secret":         cfg.Secret,
				"enabled":        cfg.Enabled,
				"auto_deploy":    cfg.AutoDeploy,
				"deploy_branch":  cfg.DeployBranch,
				"work_dir":       cfg.WorkDir,
				"updated_at":     cfg.UpdatedAt,
			}).Error; err != nil {
			return errs.Wrap(err, "update configuration")
		}

		row, err := getConfigurationByID(db, cfg.ID)
		if err != nil {
			return err
		}
		updated = row
		return nil
	}); err != nil {
		return ports.Configuration{}, err
	}
	return mapConfiguration(updated), nil
}

func (r *ConfigurationRepository) DeleteConfiguration(ctx context.Context, id uint64) error {
	db, err := dbFromContext(ctx, r.db)
	if err != nil {
		return err
	}

	result := db.Where("id = ?", id).Delete(&model.Configuration{})
	if result.Error != nil {
		return errs.Wrap(result.Error, "delete configuration")
	}
	if result.RowsAffected == 0 {
		return ports.ErrConfigurationNotFound
	}
	return nil
}

func ensureNoEnabledDuplicate(db *gorm.DB, repositoryURL string, excludeID uint64) error {
	var count int64
	query := db.Model(&model.Configuration{}).
		Where("enabled = ?", true).
		Where("LOWER(repository_url) = ?", strings.ToLower(repositoryURL))
	if excludeID != 0 {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return errs.Wrap(err, "count enabled configurations by url")
	}
	if count > 0 {
		return ports.ErrDuplicateRepository
	}
	return nil
}

func getConfigurationByID(db *gorm.DB, id uint64) (model.Configuration, error) {
	var row model.Configuration
	if err := db.Where("id = ?", id).Take(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return model.Configuration{}, ports.ErrConfigurationNotFound
		}
		return model.Configuration{}, errs.Wrap(err, "query configuration")
	}
	return row, nil
}

func mapConfiguration(row model.Configuration) ports.Configuration {
	return ports.Configuration{
		ID:            row.ID,
		RepositoryURL: row.RepositoryURL,
		Secret:        row.Secret,
		Enabled:       row.Enabled,
		AutoDeploy:    row.AutoDeploy,
		DeployBranch:  row.DeployBranch,
		WorkDir:       row.WorkDir,
		CreatedAt:     row.CreatedAt,
		UpdatedAt:     row.UpdatedAt,
	}
}
