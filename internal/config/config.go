// Package config loads and validates the control-plane configuration:
// per-project credentials, aliasing, auto-target defaults, management
// access, and the tuning knobs for the adapter, plan store, and
// confirmation service.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
)

type Config struct {
	DefaultEndpoint string                   `json:"default_endpoint"`
	Projects        map[string]ProjectConfig `json:"projects"`
	Defaults        DefaultsConfig           `json:"defaults"`
	Management      *ManagementConfig        `json:"management,omitempty"`
	Server          ServerConfig             `json:"server"`
	Adapter         AdapterConfig            `json:"adapter"`
	Plans           PlansConfig              `json:"plans"`
	Audit           AuditConfig              `json:"audit"`
	Features        FeaturesConfig           `json:"features"`
	Confirm         ConfirmConfig            `json:"confirm"`

	// Production is derived from APP_ENV at load time.
	Production bool `json:"-"`
}

type ProjectConfig struct {
	APIKey         string   `json:"api_key"`
	Scopes         []string `json:"scopes,omitempty"`
	Endpoint       string   `json:"endpoint,omitempty"`
	Aliases        []string `json:"aliases,omitempty"`
	DefaultForAuto bool     `json:"default_for_auto,omitempty"`
	DisplayName    string   `json:"display_name,omitempty"`
}

type DefaultsConfig struct {
	AutoTargetProjectIDs []string        `json:"auto_target_project_ids,omitempty"`
	TargetSelector       *SelectorConfig `json:"target_selector,omitempty"`
}

type SelectorConfig struct {
	Mode   string   `json:"mode"`
	Values []string `json:"values,omitempty"`
}

type ManagementConfig struct {
	Endpoint  string   `json:"endpoint,omitempty"`
	APIKey    string   `json:"api_key"`
	Scopes    []string `json:"scopes,omitempty"`
	ProjectID string   `json:"project_id,omitempty"`
}

type ServerConfig struct {
	HTTPAddr         string `json:"http_addr,omitempty"`
	TransportDefault string `json:"transport_default,omitempty"`
}

type AdapterConfig struct {
	TimeoutMS int `json:"timeout_ms,omitempty"`
	// MaxRetries is a pointer so an explicit 0 (disable retries) is
	// distinguishable from an absent key.
	MaxRetries      *int  `json:"max_retries,omitempty"`
	RetryBaseMS     int   `json:"retry_base_ms,omitempty"`
	RetryMaxDelayMS int   `json:"retry_max_delay_ms,omitempty"`
	RetryStatuses   []int `json:"retry_statuses,omitempty"`
}

type PlansConfig struct {
	TTLSeconds int    `json:"ttl_seconds,omitempty"`
	GCCron     string `json:"gc_cron,omitempty"`
}

type AuditConfig struct {
	PostgresDSN string `json:"postgres_dsn,omitempty"`
}

type FeaturesConfig struct {
	LegacyUserUpdate *bool `json:"legacy_user_update,omitempty"`
}

type ConfirmConfig struct {
	Secret            string `json:"secret,omitempty"`
	DefaultTTLSeconds int    `json:"default_ttl_seconds,omitempty"`
}

// LoadConfig reads, parses, and validates the config file. CONFIRM_SECRET
// overrides confirm.secret; APP_ENV=production switches on the stricter
// secret check.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if secret := os.Getenv("CONFIRM_SECRET"); secret != "" {
		cfg.Confirm.Secret = secret
	}
	cfg.Production = strings.EqualFold(os.Getenv("APP_ENV"), "production")
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	if len(c.Projects) == 0 {
		return errors.New("projects required")
	}
	for _, id := range sortedProjectIDs(c.Projects) {
		p := c.Projects[id]
		if strings.TrimSpace(p.APIKey) == "" {
			return fmt.Errorf("projects.%s.api_key required", id)
		}
		if strings.TrimSpace(p.Endpoint) == "" && strings.TrimSpace(c.DefaultEndpoint) == "" {
			return fmt.Errorf("projects.%s.endpoint required when default_endpoint is unset", id)
		}
	}
	aliases := map[string]string{}
	for _, id := range sortedProjectIDs(c.Projects) {
		for _, alias := range c.Projects[id].Aliases {
			if alias == "" {
				return fmt.Errorf("projects.%s.aliases must not contain empty strings", id)
			}
			if owner, taken := aliases[alias]; taken {
				return fmt.Errorf("projects.%s.aliases: alias %q already used by project %q", id, alias, owner)
			}
			aliases[alias] = id
		}
	}
	for _, id := range c.Defaults.AutoTargetProjectIDs {
		if _, ok := c.Projects[id]; !ok {
			return fmt.Errorf("defaults.auto_target_project_ids references unknown project %q", id)
		}
	}
	if sel := c.Defaults.TargetSelector; sel != nil {
		switch sel.Mode {
		case "project_id":
			for _, v := range sel.Values {
				if _, ok := c.Projects[v]; !ok {
					return fmt.Errorf("defaults.target_selector references unknown project %q", v)
				}
			}
		case "alias":
			for _, v := range sel.Values {
				if _, ok := aliases[v]; !ok {
					return fmt.Errorf("defaults.target_selector references unknown alias %q", v)
				}
			}
		case "auto":
		default:
			return fmt.Errorf("defaults.target_selector.mode %q invalid", sel.Mode)
		}
	}
	if c.Management != nil && strings.TrimSpace(c.Management.APIKey) == "" {
		return errors.New("management.api_key required")
	}
	if c.Server.TransportDefault != "" &&
		c.Server.TransportDefault != "http" && c.Server.TransportDefault != "stdio" {
		return fmt.Errorf("server.transport_default %q invalid", c.Server.TransportDefault)
	}
	if c.Plans.TTLSeconds < 0 {
		return errors.New("plans.ttl_seconds must be >= 0")
	}
	if c.Production && strings.TrimSpace(c.Confirm.Secret) == "" {
		return errors.New("confirmation secret must be set in production")
	}
	return nil
}

// AliasMap returns alias → project id across all projects.
func (c Config) AliasMap() map[string]string {
	out := map[string]string{}
	for id, p := range c.Projects {
		for _, alias := range p.Aliases {
			out[alias] = id
		}
	}
	return out
}

// KnownProjectIDs returns every configured project id, sorted.
func (c Config) KnownProjectIDs() []string {
	return sortedProjectIDs(c.Projects)
}

// AutoTargetProjectIDs combines defaults.auto_target_project_ids with
// projects flagged default_for_auto, preserving the defaults order.
func (c Config) AutoTargetProjectIDs() []string {
	seen := map[string]bool{}
	var out []string
	for _, id := range c.Defaults.AutoTargetProjectIDs {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range sortedProjectIDs(c.Projects) {
		if c.Projects[id].DefaultForAuto && !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// ProjectEndpoint resolves a project's endpoint, falling back to
// default_endpoint.
func (c Config) ProjectEndpoint(id string) string {
	if p, ok := c.Projects[id]; ok && strings.TrimSpace(p.Endpoint) != "" {
		return p.Endpoint
	}
	return c.DefaultEndpoint
}

func sortedProjectIDs(projects map[string]ProjectConfig) []string {
	ids := make([]string, 0, len(projects))
	for id := range projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
