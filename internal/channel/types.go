// Package channel defines the canonical message model shared between
// platform adapters and the application layer, plus the event surface
// adapters use to report lifecycle changes.
package channel

import (
	"context"
	"strings"
	"time"
)

// ChatType distinguishes one-on-one conversations from group chats.
type ChatType string

const (
	ChatDirect ChatType = "direct"
	ChatGroup  ChatType = "group"
)

// AttachmentType classifies the kind of binary attachment.
type AttachmentType string

const (
	AttachmentImage AttachmentType = "image"
	AttachmentAudio AttachmentType = "audio"
	AttachmentVideo AttachmentType = "video"
	AttachmentFile  AttachmentType = "file"
)

// Attachment represents a media item resolved to a local file.
type Attachment struct {
	Type      AttachmentType `json:"type"`
	LocalPath string         `json:"local_path,omitempty"`
	Name      string         `json:"name,omitempty"`
}

// Identity represents a sender's identity on a platform.
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name,omitempty"`
}

// InboundMessage is a platform message normalized for the application layer.
type InboundMessage struct {
	Platform       string       `json:"platform"`
	MessageID      string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	ChatType       ChatType     `json:"chat_type"`
	Sender         Identity     `json:"sender"`
	Content        string       `json:"content"`
	Attachments    []Attachment `json:"attachments,omitempty"`
	ReceivedAt     time.Time    `json:"received_at"`
}

// IsEmpty reports whether the message carries no content.
func (m InboundMessage) IsEmpty() bool {
	return strings.TrimSpace(m.Content) == "" && len(m.Attachments) == 0
}

// ReplyFunc delivers the final reply text for an inbound message.
type ReplyFunc func(ctx context.Context, text string) error

// StreamFunc pushes one cumulative snapshot of an in-progress reply.
// Each call carries the full content generated so far, not a delta.
type StreamFunc func(ctx context.Context, text string) error

// Handler processes one inbound message. The stream function is nil when
// the adapter cannot render incremental output for the conversation; when
// non-nil it may be called any number of times before reply.
type Handler func(ctx context.Context, msg InboundMessage, reply ReplyFunc, stream StreamFunc) error
