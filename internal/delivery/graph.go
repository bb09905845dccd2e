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
	"net/http"
	"time"

	"github.com/google/uuid"
)

// GraphProvider delivers mail through the Microsoft Graph sendMail
// endpoint, authenticated with tenant client credentials. The fixed
// sender identity must be a mailbox in the tenant.
type GraphProvider struct {
	httpClient  *http.Client
	baseURL     string
	sender      Identity
	attachments *AttachmentResolver
}

// NewGraphProvider creates a Graph sendMail provider. httpClient must
// already carry the OAuth2 client-credentials transport.
func NewGraphProvider(httpClient *http.Client, baseURL string, sender Identity, resolver *AttachmentResolver) *GraphProvider {
	if httpClient.Timeout == 0 {
		httpClient.Timeout = 30 * time.Second
	}
	return &GraphProvider{
		httpClient:  httpClient,
		baseURL:     baseURL,
		sender:      sender,
		attachments: resolver,
	}
}

type graphRecipient struct {
	EmailAddress struct {
		Address string `json:"address"`
	} `json:"emailAddress"`
}

func graphRecipients(addrs []string) []graphRecipient {
	var out []graphRecipient
	for _, a := range addrs {
		var r graphRecipient
		r.EmailAddress.Address = a
		out = append(out, r)
	}
	return out
}

// Deliver sends the message via POST /users/{sender}/sendMail.
func (p *GraphProvider) Deliver(ctx context.Context, req Request) (*Receipt, error) {
	message := map[string]any{
		"subject": req.Subject,
		"body": map[string]string{
			"contentType": bodyContentType(req),
			"content":     bodyContent(req),
		},
		"toRecipients": graphRecipients(req.To),
	}
	if len(req.Cc) > 0 {
		message["ccRecipients"] = graphRecipients(req.Cc)
	}
	if len(req.Bcc) > 0 {
		message["bccRecipients"] = graphRecipients(req.Bcc)
	}
	if req.ReplyTo != "" {
		message["replyTo"] = graphRecipients([]string{req.ReplyTo})
	}

	var attachments []map[string]any
	for _, f := range p.attachments.Resolve(ctx, req.Attachments) {
		attachments = append(attachments, map[string]any{
			"@odata.type":  "#microsoft.graph.fileAttachment",
			"name":         f.Name,
			"contentType":  f.ContentType,
			"contentBytes": base64.StdEncoding.EncodeToString(f.Content),
		})
	}
	if len(attachments) > 0 {
		message["attachments"] = attachments
	}

	payload, err := json.Marshal(map[string]any{
		"message":         message,
		"saveToSentItems": false,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal sendMail request: %w", err)
	}

	url := fmt.Sprintf("%s/users/%s/sendMail", p.baseURL, p.sender.Address)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build sendMail request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(httpReq)
	if err != nil {
		return nil, &TransientError{Err: err}
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusAccepted:
		// Graph returns 202 with no body; synthesise a message id so the
		// receipt stays uniform across providers.
		return &Receipt{
			MessageID: uuid.New().String(),
			Accepted:  append(append(append([]string{}, req.To...), req.Cc...), req.Bcc...),
		}, nil
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, &DeliveryError{Status: resp.StatusCode, Detail: string(respBody)}
	default:
		return nil, &TransientError{Err: fmt.Errorf("graph API returned HTTP %d", resp.StatusCode)}
	}
}

func bodyContentType(req Request) string {
	if req.HTML != "" {
		return "html"
	}
	return "text"
}

func bodyContent(req Request) string {
	if req.HTML != "" {
		return req.HTML
	}
	return req.Text
}
