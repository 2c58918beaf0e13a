// Package store persists admin-managed payment gateway configuration.
package store

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/example/paygate/internal/models"
)

// ErrVersionConflict is returned when a save carries a version that no
// longer matches the stored record.
var ErrVersionConflict = errors.New("gateway configuration was modified concurrently")

// maxSaveAttempts bounds retries of unversioned saves that lose a race.
const maxSaveAttempts = 5

// GatewayStore reads and writes gateway configuration records keyed by
// gateway name.
type GatewayStore interface {
	// List returns every record ordered by sort order, or the built-in
	// defaults when nothing has been saved yet.
	List(ctx context.Context) ([]models.GatewayConfig, error)
	// Get returns nil without error when no record has the name.
	Get(ctx context.Context, name string) (*models.GatewayConfig, error)
	// Save upserts by gateway name. A non-zero Version must match the
	// stored one or ErrVersionConflict is returned.
	Save(ctx context.Context, cfg *models.GatewayConfig) (*models.GatewayConfig, error)
	// Seed inserts records whose names are absent, keeping their timestamps.
	Seed(ctx context.Context, records []models.GatewayConfig) (int, error)
}

func normalize(cfg *models.GatewayConfig) {
	cfg.GatewayName = strings.TrimSpace(cfg.GatewayName)
	if cfg.Environment == "" {
		cfg.Environment = models.EnvironmentSandbox
	}
	if cfg.ConnectionStatus == "" {
		cfg.ConnectionStatus = models.ConnectionNotConnected
	}
	if cfg.Credentials == nil {
		cfg.Credentials = datatypes.JSONMap{}
	}
}

func findDefault(name string) *models.GatewayConfig {
	for _, def := range models.DefaultGatewayConfigs() {
		if def.GatewayName == name {
			rec := def
			return &rec
		}
	}
	return nil
}

// stampedDefaults materialises the defaults so the first save keeps them
// alongside the saved record.
func stampedDefaults(now time.Time) []models.GatewayConfig {
	defaults := models.DefaultGatewayConfigs()
	for i := range defaults {
		defaults[i].ID = uuid.New()
		defaults[i].CreatedAt = now
		defaults[i].UpdatedAt = now
		defaults[i].Version = 1
	}
	return defaults
}

func stamp() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}
