package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ScoringConfig tunes the scoring coordinator, reputation views and reconciliation.
type ScoringConfig struct {
	Scoring   ScoringSection   `mapstructure:"scoring"`
	Reconcile ReconcileSection `mapstructure:"reconcile"`
}

type ScoringSection struct {
	MaxAttempts        int `mapstructure:"maxAttempts"`
	RiskyThreshold     int `mapstructure:"riskyThreshold"`
	GlobalMinCompleted int `mapstructure:"globalMinCompleted"`
}

type ReconcileSection struct {
	Enabled   bool          `mapstructure:"enabled"`
	Interval  time.Duration `mapstructure:"interval"`
	BatchSize int           `mapstructure:"batchSize"`
	Repair    bool          `mapstructure:"repair"`
	LockTTL   time.Duration `mapstructure:"lockTTL"`
	// UnscoredGrace is how long a terminal shipment may stay unscored before
	// reconcile reports it.
	UnscoredGrace time.Duration `mapstructure:"unscoredGrace"`
}

func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Scoring: ScoringSection{
			MaxAttempts:        3,
			RiskyThreshold:     -3,
			GlobalMinCompleted: 3,
		},
		Reconcile: ReconcileSection{
			Enabled:   true,
			Interval:  10 * time.Minute,
			BatchSize: 200,
			Repair:    false,
			LockTTL:   5 * time.Minute,

			UnscoredGrace: 5 * time.Minute,
		},
	}
}

type ScoringConfigHolder struct {
	current atomic.Value // holds ScoringConfig
}

// NewStaticScoringConfigHolder wraps a fixed config; used by tests and tools.
func NewStaticScoringConfigHolder(cfg ScoringConfig) *ScoringConfigHolder {
	holder := &ScoringConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewScoringConfigHolder() (*ScoringConfigHolder, error) {
	v := viper.New()

	v.SetConfigName("scoring")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/deliveryscore")
	v.AddConfigPath(".")

	v.SetEnvPrefix("DELIVERYSCORE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultScoringConfig()
	v.SetDefault("scoring.maxAttempts", defaults.Scoring.MaxAttempts)
	v.SetDefault("scoring.riskyThreshold", defaults.Scoring.RiskyThreshold)
	v.SetDefault("scoring.globalMinCompleted", defaults.Scoring.GlobalMinCompleted)
	v.SetDefault("reconcile.enabled", defaults.Reconcile.Enabled)
	v.SetDefault("reconcile.interval", defaults.Reconcile.Interval)
	v.SetDefault("reconcile.batchSize", defaults.Reconcile.BatchSize)
	v.SetDefault("reconcile.repair", defaults.Reconcile.Repair)
	v.SetDefault("reconcile.lockTTL", defaults.Reconcile.LockTTL)
	v.SetDefault("reconcile.unscoredGrace", defaults.Reconcile.UnscoredGrace)

	fileFound := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileFound = false
	}

	var cfg ScoringConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	if err := validateScoringConfig(cfg); err != nil {
		return nil, err
	}

	holder := NewStaticScoringConfigHolder(cfg)

	if fileFound {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated ScoringConfig
			if err := v.Unmarshal(&updated); err != nil {
				log.Printf("[scoring-config] reload failed: %v", err)
				return
			}
			if err := validateScoringConfig(updated); err != nil {
				log.Printf("[scoring-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[scoring-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// Current returns the active config snapshot.
func (h *ScoringConfigHolder) Current() ScoringConfig {
	if h == nil {
		return DefaultScoringConfig()
	}
	cfg, ok := h.current.Load().(ScoringConfig)
	if !ok {
		return DefaultScoringConfig()
	}
	return cfg
}

func validateScoringConfig(cfg ScoringConfig) error {
	if cfg.Scoring.MaxAttempts < 1 {
		return errors.New("scoring.maxAttempts must be >= 1")
	}
	if cfg.Scoring.GlobalMinCompleted < 1 {
		return errors.New("scoring.globalMinCompleted must be >= 1")
	}
	if cfg.Reconcile.Interval <= 0 {
		return errors.New("reconcile.interval must be positive")
	}
	if cfg.Reconcile.BatchSize <= 0 {
		return errors.New("reconcile.batchSize must be positive")
	}
	if cfg.Reconcile.LockTTL <= 0 {
		return errors.New("reconcile.lockTTL must be positive")
	}
	if cfg.Reconcile.UnscoredGrace < 0 {
		return errors.New("reconcile.unscoredGrace must not be negative")
	}
	return nil
}
