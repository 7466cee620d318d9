package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
)

// GetReplacements loads a tenant's whole-token replacement dictionary (spec
// §3, §4.E).
func (s *Store) GetReplacements(ctx context.Context, tenantID uuid.UUID) ([]models.ReplacementEntry, error) {
	rows, err := s.QueryContext(ctx, `
		SELECT tenant_id, original_token, replacement_token, use_count
		FROM replacement_dictionary WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query replacements: %w", err)
	}
	defer rows.Close()

	var entries []models.ReplacementEntry
	for rows.Next() {
		var e models.ReplacementEntry
		if err := rows.Scan(&e.TenantID, &e.OriginalToken, &e.ReplacementToken, &e.UseCount); err != nil {
			return nil, fmt.Errorf("failed to scan replacement entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}

// IncrementUseCounts bumps use_count for every token that matched during
// post-processing (spec §4.E "Increments use_count for each match").
func (s *Store) IncrementUseCounts(ctx context.Context, tenantID uuid.UUID, originalTokens []string) error {
	if len(originalTokens) == 0 {
		return nil
	}
	tx, err := s.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin use-count tx: %w", err)
	}
	defer tx.Rollback()

	for _, token := range originalTokens {
		if _, err := tx.ExecContext(ctx, `
			UPDATE replacement_dictionary SET use_count = use_count + 1
			WHERE tenant_id = $1 AND original_token = $2
		`, tenantID, token); err != nil {
			return fmt.Errorf("failed to increment use count for %q: %w", token, err)
		}
	}

	return tx.Commit()
}
