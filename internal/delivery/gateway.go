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

// Package delivery isolates the rest of the system from outbound email
// provider wire formats. Exactly one provider is configured at startup;
// callers only ever see the Gateway contract and the error taxonomy.
//
// Identity separation: every outbound message is transport-authenticated
// as the one fixed, provider-verified sender address. The composing
// user's dashboard address rides only as a Reply-To hint. Provider APIs
// reject unverified From domains silently, so deliverability must not
// depend on which user composed the message.
package delivery

import (
	"context"
	"fmt"

	"github.com/bcem/maildash/internal/models"
)

// Request is a provider-agnostic delivery request.
type Request struct {
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	Text        string
	HTML        string
	ReplyTo     string // the composing user's dashboard address
	Attachments []models.Attachment
}

// Receipt is the provider-agnostic result of a successful delivery.
type Receipt struct {
	MessageID string
	Accepted  []string
	Rejected  []string
}

// Gateway is the single delivery contract. Implementations carry their
// own network timeouts so a slow provider cannot stall a scheduler tick.
type Gateway interface {
	Deliver(ctx context.Context, req Request) (*Receipt, error)
}

// Identity is the fixed transport sender configured for the deployment.
type Identity struct {
	Address string
	Name    string
}

// Display renders the identity as "Name <address>" for provider APIs.
func (i Identity) Display() string {
	if i.Name == "" {
		return i.Address
	}
	return fmt.Sprintf("%s <%s>", i.Name, i.Address)
}

// ConfigError means no usable provider configuration is present. It is
// raised before any network call and is never retried.
type ConfigError struct {
	Reason string
}

func (e *ConfigError) Error() string {
	return "delivery not configured: " + e.Reason
}

// DeliveryError means the provider rejected the message (HTTP 4xx).
// It is permanent; callers should not retry automatically.
type DeliveryError struct {
	Status int
	Detail string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("provider rejected message (HTTP %d): %s", e.Status, e.Detail)
}

// TransientError means the delivery attempt failed for a reason that may
// clear on its own (network error, timeout, provider 5xx). The
// scheduler's next tick is the retry mechanism; interactive sends
// surface it to the caller instead of retrying silently.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return "transient delivery failure: " + e.Err.Error()
}

func (e *TransientError) Unwrap() error {
	return e.Err
}
