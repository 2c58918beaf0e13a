package store

import (
	"context"
	"fmt"
)

// ImportFile copies the records of a {"gateways": [...]} document into dst,
// skipping names dst already holds. A missing file imports nothing.
func ImportFile(ctx context.Context, dst GatewayStore, path string) (int, error) {
	records, ok, err := ReadDocument(path)
	if err != nil {
		return 0, err
	}
	if !ok || len(records) == 0 {
		return 0, nil
	}

	inserted, err := dst.Seed(ctx, records)
	if err != nil {
		return inserted, fmt.Errorf("import %s: %w", path, err)
	}
	return inserted, nil
}
