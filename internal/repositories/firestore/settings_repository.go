package firestore

import (
	"context"
	"errors"
	"time"

	domain "github.com/h7-ecom/api/internal/domain"
	pfirestore "github.com/h7-ecom/api/internal/platform/firestore"
)

const (
	settingsCollection       = "settings"
	notificationsSettingsDoc = "notifications"
)

type notificationSettingsDocument struct {
	AdminPhone string    `firestore:"adminPhone"`
	APIKey     string    `firestore:"apiKey"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

// SettingsRepository stores relay settings in settings/notifications.
type SettingsRepository struct {
	settings *pfirestore.BaseRepository[notificationSettingsDocument]
}

// NewSettingsRepository constructs a Firestore-backed settings repository.
func NewSettingsRepository(provider *pfirestore.Provider) (*SettingsRepository, error) {
	if provider == nil {
		return nil, errors.New("settings repository requires firestore provider")
	}
	return &SettingsRepository{
		settings: pfirestore.NewBaseRepository[notificationSettingsDocument](provider, settingsCollection),
	}, nil
}

// NotificationSettings returns zero settings when none were saved.
func (r *SettingsRepository) NotificationSettings(ctx context.Context) (domain.NotificationSettings, error) {
	doc, err := r.settings.Get(ctx, notificationsSettingsDoc)
	if err != nil {
		if isNotFound(err) {
			return domain.NotificationSettings{}, nil
		}
		return domain.NotificationSettings{}, err
	}
	return domain.NotificationSettings{
		AdminPhone: doc.Data.AdminPhone,
		APIKey:     doc.Data.APIKey,
		UpdatedAt:  doc.Data.UpdatedAt.UTC(),
	}, nil
}

func (r *SettingsRepository) SaveNotificationSettings(ctx context.Context, settings domain.NotificationSettings) error {
	return r.settings.Set(ctx, notificationsSettingsDoc, notificationSettingsDocument{
		AdminPhone: settings.AdminPhone,
		APIKey:     settings.APIKey,
		UpdatedAt:  settings.UpdatedAt,
	})
}
