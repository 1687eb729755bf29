package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	domain "github.com/h7-ecom/api/internal/domain"
)

const notificationSettingsID = "notifications"

// SettingsRepository keeps relay settings in a single settings row.
type SettingsRepository struct {
	db *DB
}

// NotificationSettings returns zero settings when none were saved.
func (r *SettingsRepository) NotificationSettings(ctx context.Context) (domain.NotificationSettings, error) {
	var settings domain.NotificationSettings
	err := r.db.conn(ctx).QueryRow(ctx,
		`SELECT admin_phone, api_key, updated_at FROM settings WHERE id = $1`, notificationSettingsID,
	).Scan(&settings.AdminPhone, &settings.APIKey, &settings.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.NotificationSettings{}, nil
	}
	if err != nil {
		return domain.NotificationSettings{}, wrapError("settings.get", err)
	}
	settings.UpdatedAt = settings.UpdatedAt.UTC()
	return settings, nil
}

func (r *SettingsRepository) SaveNotificationSettings(ctx context.Context, settings domain.NotificationSettings) error {
	_, err := r.db.conn(ctx).Exec(ctx, `
INSERT INTO settings (id, admin_phone, api_key, updated_at) VALUES ($1, $2, $3, $4)
ON CONFLICT (id) DO UPDATE SET admin_phone = EXCLUDED.admin_phone, api_key = EXCLUDED.api_key, updated_at = EXCLUDED.updated_at`,
		notificationSettingsID, settings.AdminPhone, settings.APIKey, settings.UpdatedAt)
	return wrapError("settings.save", err)
}
