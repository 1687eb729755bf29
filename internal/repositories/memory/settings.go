package memory

import (
	"context"

	domain "github.com/h7-ecom/api/internal/domain"
)

type settingsRepository struct {
	store *Store
}

func (r *settingsRepository) NotificationSettings(context.Context) (domain.NotificationSettings, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.settings, nil
}

func (r *settingsRepository) SaveNotificationSettings(ctx context.Context, settings domain.NotificationSettings) error {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	previous := s.settings
	s.settings = settings
	journal(ctx, func() { s.settings = previous })
	return nil
}
