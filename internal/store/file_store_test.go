package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileStore_DefaultsUntilFirstSave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payment_gateways.json")
	s := NewFileStore(path)
	ctx := context.Background()

	records, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	rec, err := s.Get(ctx, "stripe")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "Stripe", rec.DisplayName)

	rec, err = s.Get(ctx, "nonexistent")
	require.NoError(t, err)
	assert.Nil(t, rec)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "listing must not create the file")
}

func TestFileStore_SaveWritesWholeDocument(t *testing.T) {
	path := filepath.Join(t.TempDir(), "payment_gateways.json")
	s := NewFileStore(path)
	ctx := context.Background()

	saved, err := s.Save(ctx, squareConfig())
	require.NoError(t, err)
	assert.Equal(t, int64(1), saved.Version)

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var doc struct {
		Gateways []map[string]any `json:"gateways"`
	}
	require.NoError(t, json.Unmarshal(data, &doc))
	require.Len(t, doc.Gateways, 3)
	assert.Equal(t, "square", doc.Gateways[2]["gateway_name"])
}

func TestFileStore_SaveExistingPreservesCreatedAt(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "payment_gateways.json"))
	ctx := context.Background()

	first, err := s.Save(ctx, squareConfig())
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	second, err := s.Save(ctx, squareConfig())
	require.NoError(t, err)

	assert.True(t, second.CreatedAt.Equal(first.CreatedAt))
	assert.True(t, second.UpdatedAt.After(first.UpdatedAt))
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, int64(2), second.Version)

	stale := squareConfig()
	stale.Version = 1
	_, err = s.Save(ctx, stale)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestFileStore_ConcurrentSavesSerialize(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "payment_gateways.json"))
	ctx := context.Background()

	const writers = 10
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Save(ctx, squareConfig())
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	rec, err := s.Get(ctx, "square")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, int64(writers), rec.Version)
}

func TestReadDocument_AcceptsNaiveTimestamps(t *testing.T) {
	path := filepath.Join(t.TempDir(), "legacy.json")
	legacy := `{"gateways":[{"gateway_name":"stripe","gateway_type":"card","display_name":"Stripe",
		"credentials":{"api_key":"sk_test_x"},"created_at":"2024-05-06T07:08:09.101112","updated_at":"2024-05-06 07:08:09"}]}`
	require.NoError(t, os.WriteFile(path, []byte(legacy), 0o600))

	records, ok, err := ReadDocument(path)
	require.NoError(t, err)
	require.True(t, ok)
	require.Len(t, records, 1)

	assert.Equal(t, 9, records[0].CreatedAt.Second())
	assert.Equal(t, "sandbox", records[0].Environment)
	assert.Equal(t, "not_connected", records[0].ConnectionStatus)
}
