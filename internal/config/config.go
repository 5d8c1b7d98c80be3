// Package config provides configuration loading and validation for hydraflow.
//
// Configuration is loaded with the following priority (highest to lowest):
//  1. Environment variables (HYDRAFLOW_* prefix)
//  2. YAML config file (if specified with --config)
//  3. Hardcoded defaults
//
// Command-line flags are not handled here (see cmd/hydraflow/main.go).
//
// Environment variables are mapped from HYDRAFLOW_CATEGORY_SETTING format,
// e.g., HYDRAFLOW_SERVER_HOST maps to server.host in YAML.
//
// All configuration is validated during Load() to ensure correctness early.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// initConfig sets up the config loader with defaults, env binding, and config file.
func initConfig(configPath string) (*viper.Viper, error) {
	v := viper.New()

	setDefaults(v)

	// Environment variable binding
	// Uses HYDRAFLOW_ prefix: HYDRAFLOW_SERVER_HOST -> server.host
	v.SetEnvPrefix("HYDRAFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	return v, nil
}

// setDefaults configures all default values.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 1053)
	v.SetDefault("server.workers", "auto")
	v.SetDefault("server.enable_tcp", true)
	v.SetDefault("server.tcp_fallback", true)

	// Upstream defaults
	v.SetDefault("upstream.servers", []string{"8.8.8.8", "1.1.1.1"})
	v.SetDefault("upstream.query_timeout", "3s")
	v.SetDefault("upstream.max_retries", 3)
	v.SetDefault("upstream.initial_backoff_ms", 250)

	// Rule store defaults
	v.SetDefault("rule_store.path", "hydraflow-rules.db")

	// Cache defaults
	v.SetDefault("cache.rule_cache_capacity", 50000)
	v.SetDefault("cache.response_cache_capacity", 50000)

	// Response cache policy defaults
	v.SetDefault("response_policy.vpn_cidrs", []string{})
	v.SetDefault("response_policy.auth_suffixes", []string{})
	v.SetDefault("response_policy.bypass_suffixes", []string{})
	v.SetDefault("response_policy.never_domains", []string{})
	v.SetDefault("response_policy.disabled", false)

	// Logging defaults
	v.SetDefault("logging.level", "INFO")
	v.SetDefault("logging.structured", false)
	v.SetDefault("logging.structured_format", "json")
	v.SetDefault("logging.include_pid", false)
	v.SetDefault("logging.extra_fields", map[string]string{})

	// Orchestrator defaults
	v.SetDefault("orchestrator.enabled", false)
	v.SetDefault("orchestrator.primary_manifest_identifier", "default")
	v.SetDefault("orchestrator.manifest_kind", "https")
	v.SetDefault("orchestrator.max_concurrent", 3)
	v.SetDefault("orchestrator.default_update_interval", "30m")
	v.SetDefault("orchestrator.strict", false)
	v.SetDefault("orchestrator.sources", []ManifestSourceConfig{})
	v.SetDefault("orchestrator.schedules", []ScheduleConfig{})

	// Netpath defaults
	v.SetDefault("netpath.enabled", true)
	v.SetDefault("netpath.poll_interval", "15s")

	// Admin API defaults
	// Default to disabled and bound to localhost for safety.
	v.SetDefault("api.enabled", false)
	v.SetDefault("api.host", "127.0.0.1")
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.api_key", "")
}

// loadFromSource loads configuration from file and environment.
func loadFromSource(configPath string) (*Config, error) {
	v, err := initConfig(configPath)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}

	loadServerConfig(v, cfg)
	loadUpstreamConfig(v, cfg)
	loadRuleStoreConfig(v, cfg)
	loadCacheConfig(v, cfg)
	loadResponsePolicyConfig(v, cfg)
	loadLoggingConfig(v, cfg)
	loadOrchestratorConfig(v, cfg)
	loadNetPathConfig(v, cfg)
	loadAPIConfig(v, cfg)

	if err := normalizeConfig(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadServerConfig(v *viper.Viper, cfg *Config) {
	cfg.Server.Host = v.GetString("server.host")
	cfg.Server.Port = v.GetInt("server.port")
	cfg.Server.EnableTCP = v.GetBool("server.enable_tcp")
	cfg.Server.TCPFallback = v.GetBool("server.tcp_fallback")
	cfg.Server.WorkersRaw = v.GetString("server.workers")
	cfg.Server.Workers = parseWorkers(cfg.Server.WorkersRaw)
}

func loadUpstreamConfig(v *viper.Viper, cfg *Config) {
	cfg.Upstream.Servers = parseServerList(v.GetStringSlice("upstream.servers"))
	if len(cfg.Upstream.Servers) == 0 {
		if s := v.GetString("upstream.servers"); s != "" {
			cfg.Upstream.Servers = parseServerList(strings.Split(s, ","))
		}
	}
	cfg.Upstream.QueryTimeout = v.GetString("upstream.query_timeout")
	cfg.Upstream.MaxRetries = v.GetInt("upstream.max_retries")
	cfg.Upstream.InitialBackoffMs = v.GetInt("upstream.initial_backoff_ms")
}

func loadRuleStoreConfig(v *viper.Viper, cfg *Config) {
	cfg.RuleStore.Path = v.GetString("rule_store.path")
}

func loadCacheConfig(v *viper.Viper, cfg *Config) {
	cfg.Cache.RuleCacheCapacity = v.GetInt("cache.rule_cache_capacity")
	cfg.Cache.ResponseCacheCapacity = v.GetInt("cache.response_cache_capacity")
}

func loadResponsePolicyConfig(v *viper.Viper, cfg *Config) {
	cfg.ResponsePolicy.VPNCIDRs = getStringSliceOrSplit(v, "response_policy.vpn_cidrs")
	cfg.ResponsePolicy.AuthSuffixes = getStringSliceOrSplit(v, "response_policy.auth_suffixes")
	cfg.ResponsePolicy.BypassSuffixes = getStringSliceOrSplit(v, "response_policy.bypass_suffixes")
	cfg.ResponsePolicy.NeverDomains = getStringSliceOrSplit(v, "response_policy.never_domains")
	cfg.ResponsePolicy.Disabled = v.GetBool("response_policy.disabled")
}

func loadLoggingConfig(v *viper.Viper, cfg *Config) {
	cfg.Logging.Level = strings.ToUpper(v.GetString("logging.level"))
	cfg.Logging.Structured = v.GetBool("logging.structured")
	cfg.Logging.StructuredFormat = v.GetString("logging.structured_format")
	cfg.Logging.IncludePID = v.GetBool("logging.include_pid")
	cfg.Logging.ExtraFields = v.GetStringMapString("logging.extra_fields")
}

func loadOrchestratorConfig(v *viper.Viper, cfg *Config) {
	cfg.Orchestrator.Enabled = v.GetBool("orchestrator.enabled")
	cfg.Orchestrator.PrimaryManifestIdentifier = v.GetString("orchestrator.primary_manifest_identifier")
	cfg.Orchestrator.ManifestURLTemplate = v.GetString("orchestrator.manifest_url_template")
	cfg.Orchestrator.ManifestKind = v.GetString("orchestrator.manifest_kind")
	cfg.Orchestrator.ManifestBearerToken = v.GetString("orchestrator.manifest_bearer_token")
	cfg.Orchestrator.MaxConcurrent = v.GetInt("orchestrator.max_concurrent")
	cfg.Orchestrator.DefaultUpdateInterval = v.GetString("orchestrator.default_update_interval")
	cfg.Orchestrator.Strict = v.GetBool("orchestrator.strict")

	if err := v.UnmarshalKey("orchestrator.sources", &cfg.Orchestrator.Sources); err != nil {
		cfg.Orchestrator.Sources = []ManifestSourceConfig{}
	}
	if err := v.UnmarshalKey("orchestrator.schedules", &cfg.Orchestrator.Schedules); err != nil {
		cfg.Orchestrator.Schedules = []ScheduleConfig{}
	}
}

func loadNetPathConfig(v *viper.Viper, cfg *Config) {
	cfg.NetPath.Enabled = v.GetBool("netpath.enabled")
	cfg.NetPath.PollInterval = v.GetString("netpath.poll_interval")
}

func loadAPIConfig(v *viper.Viper, cfg *Config) {
	cfg.API.Enabled = v.GetBool("api.enabled")
	cfg.API.Host = v.GetString("api.host")
	cfg.API.Port = v.GetInt("api.port")
	cfg.API.APIKey = v.GetString("api.api_key")
}

// parseWorkers converts the workers string to WorkerSetting.
func parseWorkers(raw string) WorkerSetting {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" || raw == "auto" {
		return WorkerSetting{Mode: WorkersAuto}
	}
	if n, err := strconv.Atoi(raw); err == nil && n > 0 {
		return WorkerSetting{Mode: WorkersFixed, Value: n}
	}
	return WorkerSetting{Mode: WorkersAuto}
}

// parseServerList cleans up a list of server addresses.
func parseServerList(servers []string) []string {
	result := make([]string, 0, len(servers))
	for _, s := range servers {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		if h, _, ok := strings.Cut(s, ":"); ok {
			s = h
		}
		result = append(result, s)
	}
	return result
}

// getStringSliceOrSplit handles both slice and comma-separated string values.
func getStringSliceOrSplit(v *viper.Viper, key string) []string {
	if slice := v.GetStringSlice(key); len(slice) > 0 {
		result := make([]string, 0, len(slice))
		for _, s := range slice {
			s = strings.TrimSpace(s)
			if s != "" {
				result = append(result, s)
			}
		}
		return result
	}
	if s := v.GetString(key); s != "" {
		parts := strings.Split(s, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			p = strings.TrimSpace(p)
			if p != "" {
				result = append(result, p)
			}
		}
		return result
	}
	return nil
}

// normalizeConfig validates and normalizes the configuration.
func normalizeConfig(cfg *Config) error {
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		return errors.New("server.port must be 1..65535")
	}

	if len(cfg.Upstream.Servers) == 0 {
		cfg.Upstream.Servers = []string{"8.8.8.8"}
	}

	if cfg.Upstream.MaxRetries < 0 {
		cfg.Upstream.MaxRetries = 0
	}
	if cfg.Upstream.InitialBackoffMs <= 0 {
		cfg.Upstream.InitialBackoffMs = 250
	}

	if cfg.RuleStore.Path == "" {
		cfg.RuleStore.Path = "hydraflow-rules.db"
	}

	if cfg.Cache.RuleCacheCapacity <= 0 {
		cfg.Cache.RuleCacheCapacity = 50000
	}
	if cfg.Cache.ResponseCacheCapacity <= 0 {
		cfg.Cache.ResponseCacheCapacity = 50000
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "INFO"
	}
	if cfg.Logging.StructuredFormat == "" {
		cfg.Logging.StructuredFormat = "json"
	}
	if cfg.Logging.ExtraFields == nil {
		cfg.Logging.ExtraFields = map[string]string{}
	}

	if cfg.Orchestrator.PrimaryManifestIdentifier == "" {
		cfg.Orchestrator.PrimaryManifestIdentifier = "default"
	}
	if cfg.Orchestrator.MaxConcurrent <= 0 {
		cfg.Orchestrator.MaxConcurrent = 3
	}
	if cfg.Orchestrator.DefaultUpdateInterval == "" {
		cfg.Orchestrator.DefaultUpdateInterval = "30m"
	}
	if cfg.Orchestrator.ManifestKind == "" {
		cfg.Orchestrator.ManifestKind = "https"
	}

	if cfg.NetPath.PollInterval == "" {
		cfg.NetPath.PollInterval = "15s"
	}

	if cfg.API.Host == "" {
		cfg.API.Host = "127.0.0.1"
	}
	if cfg.API.Enabled {
		if cfg.API.Port <= 0 || cfg.API.Port > 65535 {
			return errors.New("api.port must be 1..65535")
		}
	}

	return nil
}
