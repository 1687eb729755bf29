package notifications

import (
	"context"
	"errors"
	"strings"

	domain "github.com/h7-ecom/api/internal/domain"
	"github.com/h7-ecom/api/internal/platform/config"
	"github.com/h7-ecom/api/internal/repositories"
	"github.com/h7-ecom/api/internal/services"
)

// SettingsSource resolves relay settings at dispatch time. Stored settings win over the
// configured defaults field by field, and an API key held as a secret reference is resolved on
// every call so a rotated key is picked up without a restart.
type SettingsSource struct {
	repo     repositories.SettingsRepository
	defaults domain.NotificationSettings
	secrets  config.SecretResolver
}

var _ services.NotificationSettingsSource = (*SettingsSource)(nil)

// NewSettingsSource builds a source. repo and secrets may be nil.
func NewSettingsSource(repo repositories.SettingsRepository, defaults domain.NotificationSettings, secrets config.SecretResolver) *SettingsSource {
	return &SettingsSource{repo: repo, defaults: defaults, secrets: secrets}
}

func (s *SettingsSource) Current(ctx context.Context) (domain.NotificationSettings, error) {
	settings := s.defaults
	if s.repo != nil {
		stored, err := s.repo.NotificationSettings(ctx)
		if err != nil {
			return domain.NotificationSettings{}, err
		}
		if phone := strings.TrimSpace(stored.AdminPhone); phone != "" {
			settings.AdminPhone = phone
		}
		if key := strings.TrimSpace(stored.APIKey); key != "" {
			settings.APIKey = key
		}
		if !stored.UpdatedAt.IsZero() {
			settings.UpdatedAt = stored.UpdatedAt
		}
	}
	settings.AdminPhone = strings.TrimSpace(settings.AdminPhone)
	if settings.AdminPhone == "" || strings.TrimSpace(settings.APIKey) == "" {
		return domain.NotificationSettings{}, services.ErrNotificationNotConfigured
	}

	key, err := config.ResolveValue(ctx, settings.APIKey, s.secrets)
	if err != nil {
		return domain.NotificationSettings{}, err
	}
	if key == "" {
		return domain.NotificationSettings{}, errors.Join(services.ErrNotificationNotConfigured, errors.New("relay api key secret is empty"))
	}
	settings.APIKey = key
	return settings, nil
}
