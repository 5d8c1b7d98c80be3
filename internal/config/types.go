// Package config provides configuration loading for hydraflow using Viper.
// Configuration is loaded from YAML files with automatic environment variable binding.
//
// Environment variables use the HYDRAFLOW prefix and underscore-separated keys:
//   - HYDRAFLOW_SERVER_HOST -> server.host
//   - HYDRAFLOW_SERVER_PORT -> server.port
//   - HYDRAFLOW_UPSTREAM_SERVERS -> upstream.servers (comma-separated)
//   - HYDRAFLOW_ORCHESTRATOR_STRICT -> orchestrator.strict
package config

import (
	"os"
	"strconv"
	"strings"
)

// WorkersMode specifies how worker count is determined.
type WorkersMode int

const (
	// WorkersAuto automatically determines worker count based on available CPUs.
	WorkersAuto WorkersMode = iota
	// WorkersFixed uses a specific worker count.
	WorkersFixed
)

// WorkerSetting represents the workers configuration.
type WorkerSetting struct {
	Mode  WorkersMode
	Value int
}

// String returns the string representation of the worker setting.
func (w WorkerSetting) String() string {
	if w.Mode == WorkersAuto {
		return "auto"
	}
	return strconv.Itoa(w.Value)
}

// ServerConfig contains client-facing listener settings (§4.5).
type ServerConfig struct {
	Host        string        `yaml:"host"             mapstructure:"host"`
	Port        int           `yaml:"port"             mapstructure:"port"`
	Workers     WorkerSetting `yaml:"-"                mapstructure:"-"`
	WorkersRaw  string        `yaml:"workers"          mapstructure:"workers"`
	EnableTCP   bool          `yaml:"enable_tcp"       mapstructure:"enable_tcp"`
	TCPFallback bool          `yaml:"tcp_fallback"     mapstructure:"tcp_fallback"`
}

// UpstreamConfig contains upstream DNS server pool settings (§4.6).
type UpstreamConfig struct {
	Servers          []string `yaml:"servers"            mapstructure:"servers"            json:"servers"`
	QueryTimeout     string   `yaml:"query_timeout"      mapstructure:"query_timeout"      json:"query_timeout"`
	MaxRetries       int      `yaml:"max_retries"        mapstructure:"max_retries"        json:"max_retries"`
	InitialBackoffMs int      `yaml:"initial_backoff_ms" mapstructure:"initial_backoff_ms" json:"initial_backoff_ms"`
}

// RuleStoreConfig contains the durable rule store settings (§4.2).
type RuleStoreConfig struct {
	Path string `yaml:"path" mapstructure:"path" json:"path"`
}

// CacheConfig sizes the two in-memory caches (§4.3, §4.4).
type CacheConfig struct {
	RuleCacheCapacity     int `yaml:"rule_cache_capacity"     mapstructure:"rule_cache_capacity"`
	ResponseCacheCapacity int `yaml:"response_cache_capacity" mapstructure:"response_cache_capacity"`
}

// ResponseCachePolicyConfig controls what the response cache is
// permitted to store (§4.4 do-not-cache policy).
type ResponseCachePolicyConfig struct {
	VPNCIDRs       []string `yaml:"vpn_cidrs"       mapstructure:"vpn_cidrs"       json:"vpn_cidrs,omitempty"`
	AuthSuffixes   []string `yaml:"auth_suffixes"   mapstructure:"auth_suffixes"   json:"auth_suffixes,omitempty"`
	BypassSuffixes []string `yaml:"bypass_suffixes" mapstructure:"bypass_suffixes" json:"bypass_suffixes,omitempty"`
	NeverDomains   []string `yaml:"never_domains"   mapstructure:"never_domains"   json:"never_domains,omitempty"`
	Disabled       bool     `yaml:"disabled"        mapstructure:"disabled"        json:"disabled"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level            string            `yaml:"level"             mapstructure:"level"             json:"level"`
	Structured       bool              `yaml:"structured"        mapstructure:"structured"        json:"structured"`
	StructuredFormat string            `yaml:"structured_format" mapstructure:"structured_format" json:"structured_format"`
	IncludePID       bool              `yaml:"include_pid"       mapstructure:"include_pid"       json:"include_pid"`
	ExtraFields      map[string]string `yaml:"extra_fields"      mapstructure:"extra_fields"      json:"extra_fields,omitempty"`
}

// ManifestSourceConfig is the wire shape of a rule source read from the
// config file, mirroring manifest.Source (§4.7).
type ManifestSourceConfig struct {
	Identifier     string `yaml:"identifier"      mapstructure:"identifier"      json:"identifier"`
	Kind           string `yaml:"kind"            mapstructure:"kind"            json:"kind"`             // "https", "file"
	Format         string `yaml:"format"          mapstructure:"format"          json:"format"`           // "json", "yaml", "hosts"
	Location       string `yaml:"location"        mapstructure:"location"       json:"location"`
	Priority       int    `yaml:"priority"        mapstructure:"priority"       json:"priority"`
	UpdateInterval string `yaml:"update_interval" mapstructure:"update_interval" json:"update_interval"`
	Enabled        bool   `yaml:"enabled"         mapstructure:"enabled"        json:"enabled"`
	BearerToken    string `yaml:"bearer_token"    mapstructure:"bearer_token"   json:"-"`
	Username       string `yaml:"username"        mapstructure:"username"       json:"-"`
	Password       string `yaml:"password"        mapstructure:"password"      json:"-"`
}

// ScheduleConfig overrides a source's scheduling strategy (§4.7
// "Scheduling").
type ScheduleConfig struct {
	Identifier      string   `yaml:"identifier"       mapstructure:"identifier"`
	Strategy        string   `yaml:"strategy"         mapstructure:"strategy"` // "interval", "scheduled", "manual", "adaptive"
	ScheduledTimes  []string `yaml:"scheduled_times"  mapstructure:"scheduled_times"`
	TimeZone        string   `yaml:"time_zone"        mapstructure:"time_zone"`
	AdaptiveFloor   string   `yaml:"adaptive_floor"   mapstructure:"adaptive_floor"`
	AdaptiveCeiling string   `yaml:"adaptive_ceiling" mapstructure:"adaptive_ceiling"`
}

// OrchestratorConfig controls the rule update orchestrator (§4.7),
// replacing the prior per-process FilteringConfig/BlocklistConfig with
// manifest-driven, multi-source scheduling.
type OrchestratorConfig struct {
	Enabled                   bool                   `yaml:"enabled"                      mapstructure:"enabled"`
	PrimaryManifestIdentifier string                 `yaml:"primary_manifest_identifier"  mapstructure:"primary_manifest_identifier"`
	ManifestURLTemplate       string                 `yaml:"manifest_url_template"         mapstructure:"manifest_url_template"`
	ManifestKind              string                 `yaml:"manifest_kind"                 mapstructure:"manifest_kind"`
	ManifestBearerToken       string                 `yaml:"manifest_bearer_token"         mapstructure:"manifest_bearer_token"`
	MaxConcurrent             int                    `yaml:"max_concurrent"                mapstructure:"max_concurrent"`
	DefaultUpdateInterval     string                 `yaml:"default_update_interval"       mapstructure:"default_update_interval"`
	Strict                    bool                   `yaml:"strict"                        mapstructure:"strict"`
	Sources                   []ManifestSourceConfig `yaml:"sources"                       mapstructure:"sources"`
	Schedules                 []ScheduleConfig        `yaml:"schedules"                    mapstructure:"schedules"`
}

// NetPathConfig controls network-path-change detection, which forces
// upstream connections to be re-established after an interface or
// default-route change.
type NetPathConfig struct {
	Enabled      bool   `yaml:"enabled"       mapstructure:"enabled"`
	PollInterval string `yaml:"poll_interval" mapstructure:"poll_interval"`
}

// APIConfig contains admin API settings.
//
// Note: APIKey is intentionally treated as a secret and should not be returned by API endpoints.
type APIConfig struct {
	Enabled bool   `yaml:"enabled" mapstructure:"enabled"`
	Host    string `yaml:"host"    mapstructure:"host"`
	Port    int    `yaml:"port"    mapstructure:"port"`
	APIKey  string `yaml:"api_key" mapstructure:"api_key"`
}

// Config is the root configuration structure.
type Config struct {
	Server         ServerConfig              `yaml:"server"          mapstructure:"server"`
	Upstream       UpstreamConfig            `yaml:"upstream"        mapstructure:"upstream"`
	RuleStore      RuleStoreConfig           `yaml:"rule_store"      mapstructure:"rule_store"`
	Cache          CacheConfig               `yaml:"cache"           mapstructure:"cache"`
	ResponsePolicy ResponseCachePolicyConfig `yaml:"response_policy" mapstructure:"response_policy"`
	Logging        LoggingConfig             `yaml:"logging"         mapstructure:"logging"`
	Orchestrator   OrchestratorConfig        `yaml:"orchestrator"    mapstructure:"orchestrator"`
	NetPath        NetPathConfig             `yaml:"netpath"         mapstructure:"netpath"`
	API            APIConfig                 `yaml:"api"             mapstructure:"api"`
}

// ResolveConfigPath determines the config file path from flag or environment.
func ResolveConfigPath(flagValue string) string {
	if strings.TrimSpace(flagValue) != "" {
		return flagValue
	}
	if v := strings.TrimSpace(os.Getenv("HYDRAFLOW_CONFIG")); v != "" {
		return v
	}
	return ""
}

// Load loads configuration from a YAML file with environment variable overrides.
// This is the main entry point for loading configuration.
//
// Configuration priority (highest to lowest):
//  1. Environment variables (HYDRAFLOW_*)
//  2. Config file values
//  3. Default values
func Load(path string) (*Config, error) {
	return loadFromSource(path)
}
