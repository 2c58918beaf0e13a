package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Connection states recorded on a gateway configuration.
const (
	ConnectionNotConnected = "not_connected"
	ConnectionConnected    = "connected"
	ConnectionFailed       = "failed"
)

// Gateway environments.
const (
	EnvironmentSandbox = "sandbox"
	EnvironmentLive    = "live"
)

// BaseModel carries the id and audit timestamps of persisted records.
type BaseModel struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// BeforeCreate assigns ids and creation stamps to records inserted without them.
func (b *BaseModel) BeforeCreate(tx *gorm.DB) error {
	if b.ID == uuid.Nil {
		b.ID = uuid.New()
	}
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	if b.UpdatedAt.IsZero() {
		b.UpdatedAt = b.CreatedAt
	}
	return nil
}

// GatewayConfig is the admin-managed record for one payment gateway.
// GatewayName is the identity key; Version guards concurrent writers.
type GatewayConfig struct {
	BaseModel
	GatewayName            string            `gorm:"size:64;uniqueIndex;not null" json:"gateway_name" validate:"required,max=64"`
	GatewayType            string            `gorm:"size:32;not null" json:"gateway_type" validate:"required,max=32"`
	DisplayName            string            `gorm:"size:128;not null" json:"display_name" validate:"required,max=128"`
	IsActive               bool              `gorm:"not null;default:false" json:"is_active"`
	Environment            string            `gorm:"size:16;not null;default:sandbox" json:"environment" validate:"omitempty,oneof=sandbox live"`
	SupportsDigitalWallets bool              `gorm:"not null;default:false" json:"supports_digital_wallets"`
	ConnectionStatus       string            `gorm:"size:32;not null;default:not_connected" json:"connection_status"`
	Credentials            datatypes.JSONMap `json:"credentials"`
	SortOrder              int               `gorm:"not null;default:0" json:"sort_order"`
	Version                int64             `gorm:"not null;default:0" json:"version"`
}

// CredentialMap returns the credentials as a plain map, never nil.
func (g *GatewayConfig) CredentialMap() map[string]any {
	out := make(map[string]any, len(g.Credentials))
	for k, v := range g.Credentials {
		out[k] = v
	}
	return out
}

// DefaultGatewayConfigs are reported while no configuration has been saved.
func DefaultGatewayConfigs() []GatewayConfig {
	return []GatewayConfig{
		{
			GatewayName:            "paypal",
			GatewayType:            "paypal",
			DisplayName:            "PayPal Commerce Platform",
			IsActive:               false,
			Environment:            EnvironmentSandbox,
			SupportsDigitalWallets: true,
			ConnectionStatus:       ConnectionNotConnected,
			Credentials:            datatypes.JSONMap{},
			SortOrder:              1,
		},
		{
			GatewayName:            "stripe",
			GatewayType:            "card",
			DisplayName:            "Stripe",
			IsActive:               false,
			Environment:            EnvironmentSandbox,
			SupportsDigitalWallets: true,
			ConnectionStatus:       ConnectionNotConnected,
			Credentials:            datatypes.JSONMap{},
			SortOrder:              2,
		},
	}
}
