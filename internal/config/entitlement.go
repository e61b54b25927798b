package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// FreeTierLimits are the limits applied when a user is downgraded and the
// free plan row cannot be found.
type FreeTierLimits struct {
	MaxProducts       int  `mapstructure:"maxProducts"`
	MaxStorageMb      int  `mapstructure:"maxStorageMb"`
	MaxTeamMembers    int  `mapstructure:"maxTeamMembers"`
	MaxAiGenerations  int  `mapstructure:"maxAiGenerations"`
	CustomDomain      bool `mapstructure:"customDomain"`
	CanRemoveBranding bool `mapstructure:"canRemoveBranding"`
}

type EntitlementConfig struct {
	FreeTier FreeTierLimits `mapstructure:"freeTier"`
	// PlanCacheSeconds bounds how long a plan row is served from memory.
	PlanCacheSeconds int `mapstructure:"planCacheSeconds"`
}

func DefaultEntitlementConfig() EntitlementConfig {
	return EntitlementConfig{
		FreeTier: FreeTierLimits{
			MaxProducts:  1,
			MaxStorageMb: 100,
		},
		PlanCacheSeconds: 300,
	}
}

type EntitlementConfigHolder struct {
	current atomic.Value // holds EntitlementConfig
}

// NewStaticEntitlementConfigHolder returns a holder that never reloads.
func NewStaticEntitlementConfigHolder(cfg EntitlementConfig) *EntitlementConfigHolder {
	holder := &EntitlementConfigHolder{}
	holder.current.Store(cfg)
	return holder
}

func NewEntitlementConfigHolder(cfg Config) (*EntitlementConfigHolder, error) {
	v := viper.New()

	if path := strings.TrimSpace(cfg.EntitlementConfigPath); path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("entitlement")
		v.SetConfigType("yml")
		v.AddConfigPath("/etc/creatorpay")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("CREATORPAY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultEntitlementConfig()
	v.SetDefault("entitlement.freeTier.maxProducts", defaults.FreeTier.MaxProducts)
	v.SetDefault("entitlement.freeTier.maxStorageMb", defaults.FreeTier.MaxStorageMb)
	v.SetDefault("entitlement.freeTier.maxTeamMembers", defaults.FreeTier.MaxTeamMembers)
	v.SetDefault("entitlement.freeTier.maxAiGenerations", defaults.FreeTier.MaxAiGenerations)
	v.SetDefault("entitlement.freeTier.customDomain", defaults.FreeTier.CustomDomain)
	v.SetDefault("entitlement.freeTier.canRemoveBranding", defaults.FreeTier.CanRemoveBranding)
	v.SetDefault("entitlement.planCacheSeconds", defaults.PlanCacheSeconds)

	watch := true
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
		watch = false
	}

	var current EntitlementConfig
	if err := v.UnmarshalKey("entitlement", &current); err != nil {
		return nil, err
	}
	if err := validateEntitlementConfig(current); err != nil {
		return nil, err
	}

	holder := NewStaticEntitlementConfigHolder(current)
	if !watch {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated EntitlementConfig
		if err := v.UnmarshalKey("entitlement", &updated); err != nil {
			log.Printf("[entitlement-config] reload failed: %v", err)
			return
		}
		if err := validateEntitlementConfig(updated); err != nil {
			log.Printf("[entitlement-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[entitlement-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *EntitlementConfigHolder) Get() EntitlementConfig {
	if h == nil {
		return DefaultEntitlementConfig()
	}
	return h.current.Load().(EntitlementConfig)
}

func validateEntitlementConfig(cfg EntitlementConfig) error {
	limits := cfg.FreeTier
	if limits.MaxProducts < 0 || limits.MaxStorageMb < 0 || limits.MaxTeamMembers < 0 || limits.MaxAiGenerations < 0 {
		return errors.New("entitlement.freeTier limits cannot be negative")
	}
	if cfg.PlanCacheSeconds < 0 {
		return errors.New("entitlement.planCacheSeconds cannot be negative")
	}
	return nil
}
