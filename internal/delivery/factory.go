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

package delivery

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/bcem/maildash/internal/config"
)

const graphBaseURL = "https://graph.microsoft.com/v1.0"

// FromConfig selects the one configured provider at startup. Provider
// choice is made exactly once here and never re-sniffed per call. A
// missing or incomplete provider block yields a ConfigError so sends
// fail fast before any network attempt.
func FromConfig(ctx context.Context, cfg *config.Config, timeout time.Duration) (Gateway, error) {
	sender := Identity{Address: cfg.SenderAddress, Name: cfg.SenderName}
	resolver := NewAttachmentResolver(cfg.AttachmentTimeout)

	switch cfg.Provider.Kind {
	case "httpapi":
		if cfg.Provider.APIKey == "" {
			return nil, &ConfigError{Reason: "httpapi provider selected but api_key is empty"}
		}
		slog.Info("delivery provider configured",
			"kind", "httpapi",
			"base_url", cfg.Provider.BaseURL,
			"sender", sender.Address,
		)
		return NewHTTPProvider(cfg.Provider.BaseURL, cfg.Provider.APIKey, sender, resolver, timeout), nil

	case "graph":
		if cfg.Provider.TenantID == "" || cfg.Provider.ClientID == "" || cfg.Provider.ClientSecret == "" {
			return nil, &ConfigError{Reason: "graph provider selected but tenant credentials are incomplete"}
		}
		creds := &clientcredentials.Config{
			ClientID:     cfg.Provider.ClientID,
			ClientSecret: cfg.Provider.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Provider.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		slog.Info("delivery provider configured",
			"kind", "graph",
			"tenant", cfg.Provider.TenantID,
			"sender", sender.Address,
		)
		return NewGraphProvider(creds.Client(ctx), graphBaseURL, sender, resolver), nil

	case "":
		return nil, &ConfigError{Reason: "no delivery provider configured"}

	default:
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown provider kind %q", cfg.Provider.Kind)}
	}
}
