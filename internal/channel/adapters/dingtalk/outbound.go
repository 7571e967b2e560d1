package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/lobsterai/im-gateway/internal/channel"
)

const (
	markdownTitleMaxRunes = 20
	markdownTitleDefault  = "assistant"

	attachmentSentLabel   = "📎 %s"
	attachmentFailedLabel = "[attachment failed: %s]"
)

// deliverer is what the message pipeline needs from the outbound side.
type deliverer interface {
	SendBySession(ctx context.Context, webhook, text, atUserID string) error
	SendWithMedia(ctx context.Context, addr replyAddress, text string) error
	SendFileAttachments(ctx context.Context, addr replyAddress, text string) error
}

// sender delivers outbound text and media to the platform.
type sender struct {
	rest       *restClient
	tokens     *tokenCache
	oapiTokens *tokenCache
	media      *mediaClient
	creds      Credentials
	logger     *slog.Logger
}

// markdownPattern matches text that starts with a block marker or carries
// inline markdown punctuation.
var markdownPattern = regexp.MustCompile("^[#*>-]|[*_`#\\[\\]]")

// classifyMarkdown reports whether text should be rendered as markdown.
// Multi-line text always is: plain-text rendering collapses newlines.
func classifyMarkdown(text string) bool {
	return markdownPattern.MatchString(text) || strings.Contains(text, "\n")
}

// markdownTitle derives a short title from the first line of the text.
// A first line that strips down to nothing falls back to the default.
func markdownTitle(text string) string {
	first, _, _ := strings.Cut(text, "\n")
	first = strings.TrimLeft(first, "#*>- \t")
	first = strings.TrimSpace(first)
	if first == "" {
		return markdownTitleDefault
	}
	runes := []rune(first)
	if len(runes) > markdownTitleMaxRunes {
		return string(runes[:markdownTitleMaxRunes])
	}
	return first
}

// SendBySession posts a reply to the conversation's session webhook,
// choosing plain text or markdown by content. atUserID, when set, appends
// a group @-mention.
func (s *sender) SendBySession(ctx context.Context, webhook, text, atUserID string) error {
	if strings.TrimSpace(webhook) == "" {
		return fmt.Errorf("session webhook is empty")
	}
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}

	var body map[string]any
	if classifyMarkdown(text) {
		md := text
		if atUserID != "" {
			md += " @" + atUserID
		}
		body = map[string]any{
			"msgtype": "markdown",
			"markdown": map[string]string{
				"title": markdownTitle(text),
				"text":  md,
			},
		}
	} else {
		body = map[string]any{
			"msgtype": "text",
			"text":    map[string]string{"content": text},
		}
	}
	if atUserID != "" {
		body["at"] = map[string]any{
			"atUserIds": []string{atUserID},
			"isAtAll":   false,
		}
	}
	return s.rest.call(ctx, http.MethodPost, webhook, token, body, nil)
}

// SendWithMedia delivers text that may carry local media markers: each
// marker is uploaded and sent as its own media message, and the marker in
// the text is replaced by an outcome label before the text itself is sent.
func (s *sender) SendWithMedia(ctx context.Context, addr replyAddress, text string) error {
	markers := parseMediaMarkers(text)
	if len(markers) == 0 {
		return s.SendBySession(ctx, addr.SessionWebhook, text, addr.AtUserID)
	}

	clean := text
	for _, marker := range markers {
		label, err := s.sendMarker(ctx, addr, marker, marker.Type)
		if err != nil && s.logger != nil {
			s.logger.Warn("media marker delivery failed",
				slog.String("path", marker.Path),
				slog.Any("error", err),
			)
		}
		clean = strings.Replace(clean, marker.Original, label, 1)
	}

	if strings.TrimSpace(clean) == "" {
		return nil
	}
	return s.SendBySession(ctx, addr.SessionWebhook, clean, addr.AtUserID)
}

// SendFileAttachments sends only the file-type markers of text as separate
// messages, leaving the text alone. Used after a card reply is finalized,
// where the text already rendered inside the card.
func (s *sender) SendFileAttachments(ctx context.Context, addr replyAddress, text string) error {
	for _, marker := range parseMediaMarkers(text) {
		if marker.Type != channel.AttachmentFile {
			continue
		}
		if _, err := s.sendMarker(ctx, addr, marker, channel.AttachmentFile); err != nil {
			if s.logger != nil {
				s.logger.Warn("card attachment delivery failed",
					slog.String("path", marker.Path),
					slog.Any("error", err),
				)
			}
		}
	}
	return nil
}

// sendMarker uploads one marker and sends it as a media message, returning
// the label that should replace the marker in the surrounding text.
func (s *sender) sendMarker(ctx context.Context, addr replyAddress, marker mediaMarker, kind channel.AttachmentType) (string, error) {
	failed := fmt.Sprintf(attachmentFailedLabel, marker.Name)
	oapiToken, err := s.oapiTokens.Token(ctx)
	if err != nil {
		return failed, err
	}
	mediaID, err := s.media.Upload(ctx, oapiToken, marker.Path, kind)
	if err != nil {
		return failed, err
	}
	msg := buildMediaMessage(kind, mediaID, marker.Name)
	if err := s.sendMediaMessage(ctx, addr, msg); err != nil {
		return failed, err
	}
	return fmt.Sprintf(attachmentSentLabel, marker.Name), nil
}

// mediaMessage pairs a robot msgKey with its parameter map.
type mediaMessage struct {
	MsgKey string
	Param  map[string]any
}

func buildMediaMessage(kind channel.AttachmentType, mediaID, name string) mediaMessage {
	switch kind {
	case channel.AttachmentImage:
		return mediaMessage{
			MsgKey: "sampleImageMsg",
			Param:  map[string]any{"photoURL": mediaID},
		}
	case channel.AttachmentAudio:
		return mediaMessage{
			MsgKey: "sampleAudio",
			Param:  map[string]any{"mediaId": mediaID, "duration": "60000"},
		}
	case channel.AttachmentVideo:
		return mediaMessage{
			MsgKey: "sampleVideo",
			Param: map[string]any{
				"mediaId":   mediaID,
				"videoType": "mp4",
				"duration":  "60000",
			},
		}
	default:
		return mediaMessage{
			MsgKey: "sampleFile",
			Param:  map[string]any{"mediaId": mediaID, "fileName": name},
		}
	}
}

// sendMediaMessage delivers one media message over the robot API, picking
// the one-to-one or group endpoint from the address kind.
func (s *sender) sendMediaMessage(ctx context.Context, addr replyAddress, msg mediaMessage) error {
	token, err := s.tokens.Token(ctx)
	if err != nil {
		return err
	}
	param, err := json.Marshal(msg.Param)
	if err != nil {
		return fmt.Errorf("encode media message failed: %w", err)
	}

	if addr.Kind == channel.ChatGroup {
		body := map[string]any{
			"robotCode":          s.creds.robotCode(),
			"openConversationId": addr.OpenConversationID,
			"msgKey":             msg.MsgKey,
			"msgParam":           string(param),
		}
		return s.rest.call(ctx, http.MethodPost, "/v1.0/robot/groupMessages/send", token, body, nil)
	}
	body := map[string]any{
		"robotCode": s.creds.robotCode(),
		"userIds":   []string{addr.UserID},
		"msgKey":    msg.MsgKey,
		"msgParam":  string(param),
	}
	return s.rest.call(ctx, http.MethodPost, "/v1.0/robot/oToMessages/batchSend", token, body, nil)
}
