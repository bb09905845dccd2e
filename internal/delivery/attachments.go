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
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bcem/maildash/internal/models"
)

// maxAttachmentBytes bounds a single attachment fetch. Providers cap
// total message size around 25MB anyway.
const maxAttachmentBytes = 25 << 20

// File is a resolved attachment ready to embed in a provider request.
type File struct {
	Name        string
	ContentType string
	Content     []byte
}

// AttachmentResolver fetches attachment references from the external
// object store at send time.
type AttachmentResolver struct {
	client *http.Client
}

// NewAttachmentResolver creates a resolver with the given fetch timeout.
func NewAttachmentResolver(timeout time.Duration) *AttachmentResolver {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &AttachmentResolver{
		client: &http.Client{Timeout: timeout},
	}
}

// Resolve fetches each attachment reference. A failed fetch drops that
// attachment with a logged warning; delivery proceeds with the rest.
func (r *AttachmentResolver) Resolve(ctx context.Context, refs []models.Attachment) []File {
	var files []File
	for _, ref := range refs {
		f, err := r.fetch(ctx, ref)
		if err != nil {
			slog.Warn("dropping unfetchable attachment",
				"file_name", ref.FileName,
				"url", ref.URL,
				"error", err,
			)
			continue
		}
		files = append(files, *f)
	}
	return files
}

func (r *AttachmentResolver) fetch(ctx context.Context, ref models.Attachment) (*File, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch attachment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("object store returned HTTP %d", resp.StatusCode)
	}

	content, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes))
	if err != nil {
		return nil, fmt.Errorf("read attachment body: %w", err)
	}

	contentType := ref.FileType
	if contentType == "" {
		contentType = resp.Header.Get("Content-Type")
	}

	return &File{
		Name:        ref.FileName,
		ContentType: contentType,
		Content:     content,
	}, nil
}
