package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	"github.com/example/paygate/internal/models"
)

// FileStore keeps gateway configuration in a single JSON document of the
// form {"gateways": [...]}. All access goes through one mutex and writes
// replace the file atomically, so it is safe within a single process.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by the file at path. The file is
// created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

type fileDocument struct {
	Gateways []fileRecord `json:"gateways"`
}

// fileRecord tolerates documents written without ids, versions or zone
// information on timestamps.
type fileRecord struct {
	ID                     string         `json:"id,omitempty"`
	GatewayName            string         `json:"gateway_name"`
	GatewayType            string         `json:"gateway_type"`
	DisplayName            string         `json:"display_name"`
	IsActive               bool           `json:"is_active"`
	Environment            string         `json:"environment"`
	SupportsDigitalWallets bool           `json:"supports_digital_wallets"`
	ConnectionStatus       string         `json:"connection_status"`
	Credentials            map[string]any `json:"credentials"`
	SortOrder              int            `json:"sort_order"`
	Version                int64          `json:"version,omitempty"`
	CreatedAt              string         `json:"created_at,omitempty"`
	UpdatedAt              string         `json:"updated_at,omitempty"`
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05",
}

func parseTimestamp(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}

func (r fileRecord) toModel() (models.GatewayConfig, error) {
	created, err := parseTimestamp(r.CreatedAt)
	if err != nil {
		return models.GatewayConfig{}, err
	}
	updated, err := parseTimestamp(r.UpdatedAt)
	if err != nil {
		return models.GatewayConfig{}, err
	}

	id, _ := uuid.Parse(r.ID)
	rec := models.GatewayConfig{
		BaseModel:              models.BaseModel{ID: id, CreatedAt: created, UpdatedAt: updated},
		GatewayName:            r.GatewayName,
		GatewayType:            r.GatewayType,
		DisplayName:            r.DisplayName,
		IsActive:               r.IsActive,
		Environment:            r.Environment,
		SupportsDigitalWallets: r.SupportsDigitalWallets,
		ConnectionStatus:       r.ConnectionStatus,
		Credentials:            datatypes.JSONMap(r.Credentials),
		SortOrder:              r.SortOrder,
		Version:                r.Version,
	}
	normalize(&rec)
	return rec, nil
}

func recordFromModel(m models.GatewayConfig) fileRecord {
	rec := fileRecord{
		GatewayName:            m.GatewayName,
		GatewayType:            m.GatewayType,
		DisplayName:            m.DisplayName,
		IsActive:               m.IsActive,
		Environment:            m.Environment,
		SupportsDigitalWallets: m.SupportsDigitalWallets,
		ConnectionStatus:       m.ConnectionStatus,
		Credentials:            map[string]any(m.Credentials),
		SortOrder:              m.SortOrder,
		Version:                m.Version,
	}
	if m.ID != uuid.Nil {
		rec.ID = m.ID.String()
	}
	if !m.CreatedAt.IsZero() {
		rec.CreatedAt = m.CreatedAt.Format(time.RFC3339Nano)
	}
	if !m.UpdatedAt.IsZero() {
		rec.UpdatedAt = m.UpdatedAt.Format(time.RFC3339Nano)
	}
	return rec
}

// ReadDocument decodes a gateway configuration file. A missing file yields
// ok=false and no error.
func ReadDocument(path string) (records []models.GatewayConfig, ok bool, err error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read %s: %w", path, err)
	}

	var doc fileDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, false, fmt.Errorf("decode %s: %w", path, err)
	}

	records = make([]models.GatewayConfig, 0, len(doc.Gateways))
	for _, raw := range doc.Gateways {
		rec, err := raw.toModel()
		if err != nil {
			return nil, false, fmt.Errorf("decode %s: gateway %q: %w", path, raw.GatewayName, err)
		}
		records = append(records, rec)
	}
	return records, true, nil
}

func (s *FileStore) write(records []models.GatewayConfig) error {
	doc := fileDocument{Gateways: make([]fileRecord, 0, len(records))}
	for _, rec := range records {
		doc.Gateways = append(doc.Gateways, recordFromModel(rec))
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode gateway configs: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".gateways-*.json")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

func sortRecords(records []models.GatewayConfig) {
	sort.SliceStable(records, func(i, j int) bool {
		if records[i].SortOrder != records[j].SortOrder {
			return records[i].SortOrder < records[j].SortOrder
		}
		return records[i].GatewayName < records[j].GatewayName
	})
}

// List returns all records, or the defaults when the file does not exist.
func (s *FileStore) List(ctx context.Context) ([]models.GatewayConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok, err := ReadDocument(s.path)
	if err != nil {
		return nil, err
	}
	if !ok || len(records) == 0 {
		return models.DefaultGatewayConfigs(), nil
	}
	sortRecords(records)
	return records, nil
}

// Get scans the document for name.
func (s *FileStore) Get(ctx context.Context, name string) (*models.GatewayConfig, error) {
	records, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range records {
		if records[i].GatewayName == name {
			return &records[i], nil
		}
	}
	return nil, nil
}

// Save upserts by gateway name and rewrites the document.
func (s *FileStore) Save(ctx context.Context, cfg *models.GatewayConfig) (*models.GatewayConfig, error) {
	in := *cfg
	normalize(&in)
	if in.GatewayName == "" {
		return nil, errors.New("gateway_name is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, ok, err := ReadDocument(s.path)
	if err != nil {
		return nil, err
	}

	now := stamp()
	if !ok {
		records = stampedDefaults(now)
	}

	idx := -1
	for i := range records {
		if records[i].GatewayName == in.GatewayName {
			idx = i
			break
		}
	}

	if idx < 0 {
		if in.Version > 0 {
			return nil, ErrVersionConflict
		}
		in.ID = uuid.New()
		in.CreatedAt = now
		in.UpdatedAt = now
		in.Version = 1
		records = append(records, in)
		idx = len(records) - 1
	} else {
		existing := records[idx]
		if in.Version > 0 && in.Version != existing.Version {
			return nil, ErrVersionConflict
		}
		in.ID = existing.ID
		if in.ID == uuid.Nil {
			in.ID = uuid.New()
		}
		in.CreatedAt = existing.CreatedAt
		if in.CreatedAt.IsZero() {
			in.CreatedAt = now
		}
		in.UpdatedAt = now
		in.Version = existing.Version + 1
		records[idx] = in
	}

	if err := s.write(records); err != nil {
		return nil, err
	}
	saved := records[idx]
	return &saved, nil
}

// Seed appends records whose names are absent.
func (s *FileStore) Seed(ctx context.Context, incoming []models.GatewayConfig) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, _, err := ReadDocument(s.path)
	if err != nil {
		return 0, err
	}

	present := make(map[string]bool, len(records))
	for _, rec := range records {
		present[rec.GatewayName] = true
	}

	inserted := 0
	for _, rec := range incoming {
		record := rec
		normalize(&record)
		if record.GatewayName == "" || present[record.GatewayName] {
			continue
		}
		if record.ID == uuid.Nil {
			record.ID = uuid.New()
		}
		if record.Version == 0 {
			record.Version = 1
		}
		records = append(records, record)
		present[record.GatewayName] = true
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}
	return inserted, s.write(records)
}
