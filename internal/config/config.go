package config

import (
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Env            string        `mapstructure:"ENV"`
	Port           string        `mapstructure:"PORT"`
	DatabaseURL    string        `mapstructure:"DATABASE_URL"`
	AdminKey       string        `mapstructure:"ADMIN_KEY"`
	CORSAllowed    string        `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel       string        `mapstructure:"LOG_LEVEL"`
	NotifyURL      string        `mapstructure:"NOTIFY_URL"`
	RequestTimeout time.Duration `mapstructure:"REQUEST_TIMEOUT"`
	OfferWindow    time.Duration `mapstructure:"OFFER_WINDOW"`
	DispatchTick   time.Duration `mapstructure:"DISPATCH_TICK"`
	StaleAfter     time.Duration `mapstructure:"STALE_AFTER"`
	DebounceWindow time.Duration `mapstructure:"DEBOUNCE_WINDOW"`
}

func Load() (Config, error) {
	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	_ = v.ReadInConfig()

	v.SetDefault("ENV", "dev")
	v.SetDefault("PORT", "8080")
	v.SetDefault("REQUEST_TIMEOUT", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	v.SetDefault("OFFER_WINDOW", "45s")
	v.SetDefault("DISPATCH_TICK", "30s")
	v.SetDefault("STALE_AFTER", "40m")
	v.SetDefault("DEBOUNCE_WINDOW", "500ms")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
