package signature

import (
	"context"
	"errors"
	"strings"

	"github.com/smallbiznis/creatorpay/internal/config"
	"github.com/smallbiznis/creatorpay/internal/webhook/domain"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

// SettingKey is the platform_settings row consulted when the secret is not
// set in the environment.
const SettingKey = "razorpay_webhook_secret"

// SecretSource resolves the shared webhook secret.
type SecretSource interface {
	Resolve(ctx context.Context) (string, error)
}

type SecretParams struct {
	fx.In

	DB  *gorm.DB
	Cfg config.Config
}

type secretSource struct {
	db       *gorm.DB
	override string
}

func NewSecretSource(p SecretParams) SecretSource {
	return &secretSource{
		db:       p.DB,
		override: strings.TrimSpace(p.Cfg.Webhook.RazorpaySecret),
	}
}

// StaticSecret always resolves to secret; an empty value behaves as unset.
func StaticSecret(secret string) SecretSource {
	return &secretSource{override: strings.TrimSpace(secret)}
}

func (s *secretSource) Resolve(ctx context.Context) (string, error) {
	if s.override != "" {
		return s.override, nil
	}
	if s.db == nil {
		return "", domain.ErrSecretNotConfigured
	}

	var value string
	err := s.db.WithContext(ctx).Raw(
		`SELECT setting_value
		 FROM platform_settings
		 WHERE setting_key = ?
		 LIMIT 1`,
		SettingKey,
	).Scan(&value).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}

	value = strings.TrimSpace(value)
	if value == "" {
		return "", domain.ErrSecretNotConfigured
	}
	return value, nil
}
