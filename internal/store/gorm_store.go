package store

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/example/paygate/internal/models"
)

var errLostRace = errors.New("lost save race")

// GormStore keeps gateway configuration in a SQL table. Updates are
// conditional on the row version so concurrent writers never clobber each
// other silently.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore wraps an already migrated connection.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// List returns all records, or the defaults when the table is empty.
func (s *GormStore) List(ctx context.Context) ([]models.GatewayConfig, error) {
	var records []models.GatewayConfig
	if err := s.db.WithContext(ctx).Order("sort_order asc, gateway_name asc").Find(&records).Error; err != nil {
		return nil, fmt.Errorf("list gateway configs: %w", err)
	}
	if len(records) == 0 {
		return models.DefaultGatewayConfigs(), nil
	}
	return records, nil
}

// Get looks a record up by name.
func (s *GormStore) Get(ctx context.Context, name string) (*models.GatewayConfig, error) {
	var record models.GatewayConfig
	err := s.db.WithContext(ctx).Where("gateway_name = ?", name).Take(&record).Error
	if err == nil {
		return &record, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("get gateway config %q: %w", name, err)
	}

	var count int64
	if err := s.db.WithContext(ctx).Model(&models.GatewayConfig{}).Count(&count).Error; err != nil {
		return nil, fmt.Errorf("count gateway configs: %w", err)
	}
	if count == 0 {
		return findDefault(name), nil
	}
	return nil, nil
}

// Save upserts a record by gateway name.
func (s *GormStore) Save(ctx context.Context, cfg *models.GatewayConfig) (*models.GatewayConfig, error) {
	in := *cfg
	normalize(&in)
	if in.GatewayName == "" {
		return nil, errors.New("gateway_name is required")
	}

	if err := s.seedDefaults(ctx); err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxSaveAttempts; attempt++ {
		saved, err := s.trySave(ctx, &in)
		if errors.Is(err, errLostRace) {
			continue
		}
		return saved, err
	}
	return nil, ErrVersionConflict
}

func (s *GormStore) seedDefaults(ctx context.Context) error {
	var count int64
	if err := s.db.WithContext(ctx).Model(&models.GatewayConfig{}).Count(&count).Error; err != nil {
		return fmt.Errorf("count gateway configs: %w", err)
	}
	if count > 0 {
		return nil
	}
	_, err := s.Seed(ctx, stampedDefaults(stamp()))
	return err
}

func (s *GormStore) trySave(ctx context.Context, in *models.GatewayConfig) (*models.GatewayConfig, error) {
	db := s.db.WithContext(ctx)
	now := stamp()

	var existing models.GatewayConfig
	err := db.Where("gateway_name = ?", in.GatewayName).Take(&existing).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		if in.Version > 0 {
			return nil, ErrVersionConflict
		}
		record := *in
		record.BaseModel = models.BaseModel{CreatedAt: now, UpdatedAt: now}
		record.Version = 1
		if err := db.Create(&record).Error; err != nil {
			// A concurrent insert of the same name trips the unique index.
			var count int64
			if cerr := db.Model(&models.GatewayConfig{}).Where("gateway_name = ?", in.GatewayName).Count(&count).Error; cerr == nil && count > 0 {
				return nil, errLostRace
			}
			return nil, fmt.Errorf("create gateway config %q: %w", in.GatewayName, err)
		}
		return &record, nil
	case err != nil:
		return nil, fmt.Errorf("load gateway config %q: %w", in.GatewayName, err)
	}

	if in.Version > 0 && in.Version != existing.Version {
		return nil, ErrVersionConflict
	}

	res := db.Model(&models.GatewayConfig{}).
		Where("id = ? AND version = ?", existing.ID, existing.Version).
		Updates(map[string]any{
			"gateway_type":             in.GatewayType,
			"display_name":             in.DisplayName,
			"is_active":                in.IsActive,
			"environment":              in.Environment,
			"supports_digital_wallets": in.SupportsDigitalWallets,
			"connection_status":        in.ConnectionStatus,
			"credentials":              in.Credentials,
			"sort_order":               in.SortOrder,
			"updated_at":               now,
			"version":                  existing.Version + 1,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("update gateway config %q: %w", in.GatewayName, res.Error)
	}
	if res.RowsAffected == 0 {
		if in.Version > 0 {
			return nil, ErrVersionConflict
		}
		return nil, errLostRace
	}

	var saved models.GatewayConfig
	if err := db.Where("id = ?", existing.ID).Take(&saved).Error; err != nil {
		return nil, fmt.Errorf("reload gateway config %q: %w", in.GatewayName, err)
	}
	return &saved, nil
}

// Seed inserts records whose names are not present yet.
func (s *GormStore) Seed(ctx context.Context, records []models.GatewayConfig) (int, error) {
	inserted := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, rec := range records {
			record := rec
			normalize(&record)
			if record.GatewayName == "" {
				continue
			}

			var count int64
			if err := tx.Model(&models.GatewayConfig{}).Where("gateway_name = ?", record.GatewayName).Count(&count).Error; err != nil {
				return err
			}
			if count > 0 {
				continue
			}

			if record.Version == 0 {
				record.Version = 1
			}
			if err := tx.Create(&record).Error; err != nil {
				return fmt.Errorf("seed gateway config %q: %w", record.GatewayName, err)
			}
			inserted++
		}
		return nil
	})
	return inserted, err
}
