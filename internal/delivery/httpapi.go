// Copyright (c) 2026 John Earle
//
// Licensed under the Business Source License 1.1 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://github.com/yourusername/bcem/blob/main/LICENSE
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package delivery

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// HTTPProvider delivers mail through a JSON-over-HTTPS transactional
// email API ("POST {base}/emails" with a Bearer key, Resend-compatible).
// This is the reference Gateway implementation.
type HTTPProvider struct {
	client      *http.Client
	baseURL     string
	apiKey      string
	sender      Identity
	attachments *AttachmentResolver
}

// NewHTTPProvider creates the reference HTTP API provider.
func NewHTTPProvider(baseURL, apiKey string, sender Identity, resolver *AttachmentResolver, timeout time.Duration) *HTTPProvider {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		client:      &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		apiKey:      apiKey,
		sender:      sender,
		attachments: resolver,
	}
}

// httpAPIRequest mirrors the provider's send-email JSON body.
type httpAPIRequest struct {
	From        string              `json:"from"`
	To          []string            `json:"to"`
	Cc          []string            `json:"cc,omitempty"`
	Bcc         []string            `json:"bcc,omitempty"`
	ReplyTo     string              `json:"reply_to,omitempty"`
	Subject     string              `json:"subject"`
	Text        string              `json:"text,omitempty"`
	HTML        string              `json:"html,omitempty"`
	Attachments []httpAPIAttachment `json:"attachments,omitempty"`
}

type httpAPIAttachment struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type,omitempty"`
	Content     string `json:"content"` // base64
}

// Deliver sends the message through the provider API.
func (p *HTTPProvider) Deliver(ctx context.Context, req Request) (*Receipt, error) {
	body := httpAPIRequest{
		From:    p.sender.Display(),
		To:      req.To,
		Cc:      req.Cc,
		Bcc:     req.Bcc,
		ReplyTo: req.ReplyTo,
		Subject: req.Subject,
		Text:    req.Text,
		HTML:    req.HTML,
	}

	for _, f := range p.attachments.Resolve(ctx, req.Attachments) {
		body.Attachments = append(body.Attachments, httpAPIAttachment{
			Filename:    f.Name,
			ContentType: f.ContentType,
			Content:     base64.StdEncoding.EncodeToString(f.Content),
		})
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal delivery request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/emails", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build delivery request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fall through to receipt parsing
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &DeliveryError{Status: resp.StatusCode, Detail: string(respBody)}
	default:
		return nil, &TransientError{Err: fmt.Errorf("provider returned HTTP %d", resp.StatusCode)}
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.ID == "" {
		// Some deployments return an empty body on success.
		slog.Debug("provider response carried no message id", "body_len", len(respBody))
	}

	return &Receipt{
		MessageID: parsed.ID,
		Accepted:  append(append(append([]string{}, req.To...), req.Cc...), req.Bcc...),
	}, nil
}
