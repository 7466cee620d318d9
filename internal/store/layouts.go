package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"github.com/churchcast/reelforge/internal/models"
)

// GetLayout fetches a saved ThumbnailLayout by id (spec §3).
func (s *Store) GetLayout(ctx context.Context, id uuid.UUID) (*models.ThumbnailLayout, error) {
	layout := &models.ThumbnailLayout{}
	var boxesJSON []byte
	err := s.QueryRowContext(ctx, `
		SELECT id, tenant_id, background_image_url, text_boxes,
			intro_enabled, intro_duration_sec, outro_enabled, outro_duration_sec
		FROM thumbnail_layouts WHERE id = $1
	`, id).Scan(
		&layout.ID, &layout.TenantID, &layout.BackgroundImageURL, &boxesJSON,
		&layout.Intro.Enabled, &layout.Intro.DurationSeconds,
		&layout.Outro.Enabled, &layout.Outro.DurationSeconds,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get layout: %w", err)
	}
	if err := json.Unmarshal(boxesJSON, &layout.TextBoxes); err != nil {
		return nil, fmt.Errorf("failed to unmarshal text boxes: %w", err)
	}
	return layout, nil
}

// CreateLayout persists a new ThumbnailLayout.
func (s *Store) CreateLayout(ctx context.Context, layout *models.ThumbnailLayout) error {
	boxesJSON, err := json.Marshal(layout.TextBoxes)
	if err != nil {
		return fmt.Errorf("failed to marshal text boxes: %w", err)
	}
	_, err = s.ExecContext(ctx, `
		INSERT INTO thumbnail_layouts (
			id, tenant_id, background_image_url, text_boxes,
			intro_enabled, intro_duration_sec, outro_enabled, outro_duration_sec
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`, layout.ID, layout.TenantID, layout.BackgroundImageURL, boxesJSON,
		layout.Intro.Enabled, layout.Intro.DurationSeconds,
		layout.Outro.Enabled, layout.Outro.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to create layout: %w", err)
	}
	return nil
}
