// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ProviderConfig selects and credentials exactly one delivery provider.
// Kind is "httpapi" (reference JSON API, Bearer key) or "graph" (M365
// sendMail with client credentials).
type ProviderConfig struct {
	Kind string `yaml:"kind"`

	// httpapi
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`

	// graph
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Config holds all configuration for the mail service.
type Config struct {
	DatabaseURL string
	RedisURL    string

	// Queue name for delivered-mail events.
	DeliveredQueue string

	// Server
	Port int

	// Scheduler
	DispatchSecret   string
	DispatchInterval time.Duration
	DispatchLookback time.Duration // 0 disables the lower bound on the due query
	ClaimTTL         time.Duration

	// Fixed, provider-verified transport sender.
	SenderAddress string
	SenderName    string

	Provider ProviderConfig

	// Text-generation assist (optional).
	AssistURL string
	AssistKey string

	AttachmentTimeout time.Duration
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL    string `yaml:"url"`
		Queues struct {
			Delivered string `yaml:"delivered"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	Sender struct {
		Address string `yaml:"address"`
		Name    string `yaml:"name"`
	} `yaml:"sender"`
	Provider ProviderConfig `yaml:"provider"`
	Dispatch struct {
		Secret string `yaml:"secret"`
	} `yaml:"dispatch"`
	Assist struct {
		URL string `yaml:"url"`
		Key string `yaml:"key"`
	} `yaml:"assist"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	var raw rawConfig
	data, err := os.ReadFile(configPath)
	if err == nil {
		// Expand ${VAR} references in the YAML
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
			return nil, fmt.Errorf("parse config YAML: %w", err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}
	// A missing config file is fine — everything can come from the environment.

	cfg := &Config{
		DatabaseURL:       firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "postgres://localhost:5432/maildash")),
		RedisURL:          firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		DeliveredQueue:    firstNonEmpty(raw.Redis.Queues.Delivered, envOrDefault("DELIVERED_QUEUE", "mail_delivered")),
		Port:              envOrDefaultInt("PORT", 8080),
		DispatchSecret:    firstNonEmpty(raw.Dispatch.Secret, os.Getenv("DISPATCH_SECRET")),
		DispatchInterval:  envOrDefaultDuration("DISPATCH_INTERVAL", 60*time.Second),
		DispatchLookback:  envOrDefaultDuration("DISPATCH_LOOKBACK", 0),
		ClaimTTL:          envOrDefaultDuration("CLAIM_TTL", 5*time.Minute),
		SenderAddress:     firstNonEmpty(raw.Sender.Address, os.Getenv("SENDER_ADDRESS")),
		SenderName:        firstNonEmpty(raw.Sender.Name, envOrDefault("SENDER_NAME", "Maildash")),
		Provider:          raw.Provider,
		AssistURL:         firstNonEmpty(raw.Assist.URL, os.Getenv("ASSIST_URL")),
		AssistKey:         firstNonEmpty(raw.Assist.Key, os.Getenv("ASSIST_KEY")),
		AttachmentTimeout: envOrDefaultDuration("ATTACHMENT_TIMEOUT", 15*time.Second),
	}

	// Env fallbacks for the provider block so a bare container can run
	// without a mounted config.yaml.
	if cfg.Provider.Kind == "" {
		cfg.Provider.Kind = os.Getenv("PROVIDER_KIND")
	}
	if cfg.Provider.BaseURL == "" {
		cfg.Provider.BaseURL = envOrDefault("PROVIDER_BASE_URL", "https://api.resend.com")
	}
	if cfg.Provider.APIKey == "" {
		cfg.Provider.APIKey = os.Getenv("PROVIDER_API_KEY")
	}
	if cfg.Provider.TenantID == "" {
		cfg.Provider.TenantID = os.Getenv("PROVIDER_TENANT_ID")
	}
	if cfg.Provider.ClientID == "" {
		cfg.Provider.ClientID = os.Getenv("PROVIDER_CLIENT_ID")
	}
	if cfg.Provider.ClientSecret == "" {
		cfg.Provider.ClientSecret = os.Getenv("PROVIDER_CLIENT_SECRET")
	}

	if cfg.SenderAddress == "" {
		return nil, fmt.Errorf("sender address is required — set sender.address or SENDER_ADDRESS")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
