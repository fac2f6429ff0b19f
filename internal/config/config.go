// Package config содержит логику чтения конфигурации сервиса pointsgate.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации сервиса pointsgate.
type Config struct {
	RunAddress     string `env:"RUN_ADDRESS"`
	DatabaseURI    string `env:"DATABASE_URI"`
	RedisAddress   string `env:"REDIS_ADDRESS"`
	GatewayAddress string `env:"GATEWAY_ADDRESS"`

	// GatewaySecret используется для проверки подписи вебхуков шлюза.
	// Пустой секрет означает, что все вебхуки будут отклонены.
	GatewaySecret string `env:"GATEWAY_SECRET"`
	AuthSecret    string `env:"AUTH_SECRET" envDefault:"pointsgate-secret"`

	// AdminUserIDs — allow-list операторов для административных операций.
	AdminUserIDs []int64 `env:"ADMIN_USER_IDS" envSeparator:","`

	// ManualChannels — включённые каналы ручной оплаты.
	ManualChannels []string `env:"MANUAL_CHANNELS" envSeparator:"," envDefault:"alipay,wechat"`

	// ManualCooldown — окно подавления повторных ручных заявок одного пользователя.
	ManualCooldown time.Duration `env:"MANUAL_COOLDOWN" envDefault:"10m"`

	// ConfirmTimeout — таймаут транзакции подтверждения ручного платежа.
	ConfirmTimeout time.Duration `env:"CONFIRM_TIMEOUT" envDefault:"5s"`

	// CreditCeiling — максимальная сумма одного административного начисления.
	CreditCeiling int64 `env:"CREDIT_CEILING" envDefault:"100000"`

	// SupportContact указывается в инструкциях ручной оплаты.
	SupportContact string `env:"SUPPORT_CONTACT" envDefault:"support@pointsgate.example"`

	// FirstPurchaseBonusPercent — процент бонуса за первую покупку.
	FirstPurchaseBonusPercent int64 `env:"FIRST_PURCHASE_BONUS_PERCENT" envDefault:"30"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envRedisAddress := cfg.RedisAddress
	envGatewayAddress := cfg.GatewayAddress

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.RedisAddress, "r", "", "redis address for the shared rate-limit store")
	flag.StringVar(&cfg.GatewayAddress, "g", "", "payment gateway address")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envRedisAddress != "" {
		cfg.RedisAddress = envRedisAddress
	}
	if envGatewayAddress != "" {
		cfg.GatewayAddress = envGatewayAddress
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}

// IsAdmin сообщает, входит ли пользователь в allow-list операторов.
func (c *Config) IsAdmin(userID int64) bool {
	for _, id := range c.AdminUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsManualChannelEnabled сообщает, включён ли канал ручной оплаты.
func (c *Config) IsManualChannelEnabled(channel string) bool {
	for _, ch := range c.ManualChannels {
		if ch == channel {
			return true
		}
	}
	return false
}
