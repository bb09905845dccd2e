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

// Package models defines the data structures shared across the mail service.
package models

import (
	"fmt"
	"time"
)

// Folder identifies which mailbox folder a mail record lives in.
type Folder string

const (
	FolderDrafts    Folder = "drafts"
	FolderScheduled Folder = "scheduled"
	FolderSent      Folder = "sent"
	FolderInbox     Folder = "inbox"
	FolderTrash     Folder = "trash"
)

// Folders lists every valid folder, in display order.
var Folders = []Folder{FolderDrafts, FolderScheduled, FolderSent, FolderInbox, FolderTrash}

// ParseFolder validates a folder name coming in from the API boundary.
func ParseFolder(s string) (Folder, error) {
	f := Folder(s)
	for _, known := range Folders {
		if f == known {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown folder %q", s)
}

// transitions is the closed transition table for the folder state machine.
// Any move not listed here is rejected. Physical deletion out of trash is
// not a transition — it removes the record entirely.
var transitions = map[Folder]map[Folder]bool{
	FolderDrafts: {
		FolderScheduled: true, // send with a future scheduledAt
		FolderSent:      true, // immediate send of a draft
		FolderTrash:     true,
	},
	FolderScheduled: {
		FolderSent:  true, // scheduler dispatch or interactive send
		FolderTrash: true,
	},
	FolderSent: {
		FolderTrash: true,
	},
	FolderInbox: {
		FolderTrash: true,
	},
	FolderTrash: {
		FolderDrafts: true, // restore
		FolderSent:   true,
		FolderInbox:  true,
	},
}

// CanTransition reports whether the state machine allows moving a record
// from one folder to another.
func CanTransition(from, to Folder) bool {
	return transitions[from][to]
}

// RestoreTargets are the folders a trashed record may be restored into.
var RestoreTargets = []Folder{FolderInbox, FolderDrafts, FolderSent}

// ValidRestoreTarget reports whether target is an allowed restore destination.
func ValidRestoreTarget(target Folder) bool {
	return CanTransition(FolderTrash, target)
}

// Attachment is a reference into the external object store. The mail
// service never owns attachment bytes; it fetches them at delivery time.
type Attachment struct {
	URL      string `json:"url"`
	FileName string `json:"fileName"`
	FileSize int64  `json:"fileSize"`
	FileType string `json:"fileType"`
}

// Mail is the single persisted entity: a draft, a scheduled send, a sent
// copy, or a recipient's inbox copy. Copies are full content duplicates;
// there is no shared mailbox.
//
// The JSON property names are a stable contract with the dashboard UI.
type Mail struct {
	ID          string       `json:"id"`
	Owner       string       `json:"owner"`
	From        string       `json:"from"`
	To          string       `json:"to"`
	Cc          string       `json:"cc"`
	Bcc         string       `json:"bcc"`
	Subject     string       `json:"subject"`
	Body        string       `json:"body"`
	HTMLBody    string       `json:"htmlBody"`
	Attachments []Attachment `json:"attachments"`
	Folder      Folder       `json:"folder"`
	IsScheduled bool         `json:"isScheduled"`
	ScheduledAt *time.Time   `json:"scheduledAt,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}
