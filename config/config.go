/*
Package config loads server configuration from the environment.

PURPOSE:
  One flat struct of env keys, decoded by viper. A .env file in the working
  directory is loaded first for local development; real environment
  variables win over it.

DERIVED VALUES:
  Policy():         generation thresholds as payout.Policy
  LedgerAccounts(): GL counter-accounts as payout.LedgerAccountMap
  Tenants():        CYCLE_TENANTS split into a list
*/
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"github.com/warp/sacco-engine/payout"
)

// Config holds all configuration for the application.
type Config struct {
	ServerPort string `mapstructure:"SERVER_PORT"`

	DatabaseDriver string `mapstructure:"DATABASE_DRIVER"` // sqlite | postgres
	DatabasePath   string `mapstructure:"DATABASE_PATH"`
	DatabaseURL    string `mapstructure:"DATABASE_URL"`

	RedisAddr     string        `mapstructure:"REDIS_ADDR"` // empty disables the cycle lock
	RedisPassword string        `mapstructure:"REDIS_PASSWORD"`
	RedisDB       int           `mapstructure:"REDIS_DB"`
	CycleLockTTL  time.Duration `mapstructure:"CYCLE_LOCK_TTL"`

	RabbitMQURL string `mapstructure:"RABBITMQ_URL"` // empty logs events instead

	CycleSchedule string `mapstructure:"CYCLE_SCHEDULE"` // cron spec, empty disables
	CycleTenants  string `mapstructure:"CYCLE_TENANTS"`
	CyclePeriod   string `mapstructure:"CYCLE_PERIOD"`
	CycleActor    string `mapstructure:"CYCLE_ACTOR"`

	InterestExpenseAccount string `mapstructure:"INTEREST_EXPENSE_ACCOUNT"`
	InterestIncomeAccount  string `mapstructure:"INTEREST_INCOME_ACCOUNT"`

	MinimumInterest    string `mapstructure:"MINIMUM_INTEREST"`
	MinimumBalance     string `mapstructure:"MINIMUM_BALANCE"`
	DefaultSavingsRate string `mapstructure:"DEFAULT_SAVINGS_RATE"`
	DefaultLoanRate    string `mapstructure:"DEFAULT_LOAN_RATE"`
}

var defaults = map[string]any{
	"SERVER_PORT":              "8080",
	"DATABASE_DRIVER":          "sqlite",
	"DATABASE_PATH":            "sacco.db",
	"DATABASE_URL":             "",
	"REDIS_ADDR":               "",
	"REDIS_PASSWORD":           "",
	"REDIS_DB":                 0,
	"CYCLE_LOCK_TTL":           "15m",
	"RABBITMQ_URL":             "",
	"CYCLE_SCHEDULE":           "",
	"CYCLE_TENANTS":            "",
	"CYCLE_PERIOD":             "MONTHLY",
	"CYCLE_ACTOR":              "scheduler",
	"INTEREST_EXPENSE_ACCOUNT": "GL-INTEREST-EXPENSE",
	"INTEREST_INCOME_ACCOUNT":  "GL-INTEREST-INCOME",
	"MINIMUM_INTEREST":         "0.01",
	"MINIMUM_BALANCE":          "0",
	"DEFAULT_SAVINGS_RATE":     "4",
	"DEFAULT_LOAN_RATE":        "12",
}

// LoadConfig reads .env (if present) and the environment.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() (Config, error) {
	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
		_ = v.BindEnv(key)
	}
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if port := os.Getenv("PORT"); port != "" {
		cfg.ServerPort = port
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values whose mistakes would only surface at first use.
func (c Config) Validate() error {
	switch c.DatabaseDriver {
	case "sqlite":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL is required for the postgres driver")
		}
	default:
		return fmt.Errorf("config: unknown DATABASE_DRIVER %q", c.DatabaseDriver)
	}
	if _, err := payout.ParsePeriod(c.CyclePeriod); err != nil {
		return fmt.Errorf("config: CYCLE_PERIOD: %w", err)
	}
	if _, err := c.Policy(); err != nil {
		return err
	}
	return nil
}

// Policy returns the generation thresholds.
func (c Config) Policy() (payout.Policy, error) {
	p := payout.DefaultPolicy()
	fields := []struct {
		key string
		raw string
		dst *decimal.Decimal
	}{
		{"MINIMUM_INTEREST", c.MinimumInterest, &p.MinimumInterest},
		{"MINIMUM_BALANCE", c.MinimumBalance, &p.MinimumBalance},
		{"DEFAULT_SAVINGS_RATE", c.DefaultSavingsRate, &p.DefaultSavingsRate},
		{"DEFAULT_LOAN_RATE", c.DefaultLoanRate, &p.DefaultLoanRate},
	}
	for _, f := range fields {
		if strings.TrimSpace(f.raw) == "" {
			continue
		}
		d, err := decimal.NewFromString(strings.TrimSpace(f.raw))
		if err != nil {
			return payout.Policy{}, fmt.Errorf("config: %s: %w", f.key, err)
		}
		*f.dst = d
	}
	return p, nil
}

func (c Config) LedgerAccounts() payout.LedgerAccountMap {
	return payout.LedgerAccountMap{
		InterestExpense: c.InterestExpenseAccount,
		InterestIncome:  c.InterestIncomeAccount,
	}
}

// Tenants returns the tenants scheduled cycles run for.
func (c Config) Tenants() []string {
	var tenants []string
	for _, t := range strings.Split(c.CycleTenants, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tenants = append(tenants, t)
		}
	}
	return tenants
}

// Period returns CYCLE_PERIOD. Validate has already checked it.
func (c Config) Period() payout.CalculationPeriod {
	p, _ := payout.ParsePeriod(c.CyclePeriod)
	return p
}
