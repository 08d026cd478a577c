package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Port string `env:"PORT" envDefault:"8080"`

	PodID string `env:"POD_ID"`

	RedisURL  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET,required"`

	WalletBaseURL      string `env:"WALLET_BASE_URL,required"`
	BetHistoryBaseURL  string `env:"BET_HISTORY_BASE_URL,required"`
	GameConfigBaseURL  string `env:"GAME_CONFIG_BASE_URL"`
	CollaboratorAPIKey string `env:"COLLABORATOR_API_KEY"`

	LeaderLockTTL   time.Duration `env:"LEADER_LOCK_TTL" envDefault:"30s"`
	LeaderRenewTick time.Duration `env:"LEADER_RENEW_TICK" envDefault:"10s"`

	PendingBetTTL   time.Duration `env:"PENDING_BET_TTL" envDefault:"5m"`
	IdempotencyTTL  time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"10m"`
	MinesSessionTTL time.Duration `env:"MINES_SESSION_TTL" envDefault:"24h"`
}

func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.LeaderRenewTick*2 >= cfg.LeaderLockTTL {
		return nil, fmt.Errorf("leader renew tick %s must be less than half the lock ttl %s",
			cfg.LeaderRenewTick, cfg.LeaderLockTTL)
	}

	return cfg, nil
}
