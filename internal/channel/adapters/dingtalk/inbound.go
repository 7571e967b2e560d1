package dingtalk

import (
	"fmt"
	"strings"

	"github.com/lobsterai/im-gateway/internal/channel"
)

// rawInbound mirrors the robot callback payload carried in a stream frame.
type rawInbound struct {
	MsgID             string     `json:"msgId"`
	MsgType           string     `json:"msgtype"`
	ConversationID    string     `json:"conversationId"`
	ConversationType  string     `json:"conversationType"`
	ConversationTitle string     `json:"conversationTitle"`
	SenderID          string     `json:"senderId"`
	SenderStaffID     string     `json:"senderStaffId"`
	SenderNick        string     `json:"senderNick"`
	ChatbotUserID     string     `json:"chatbotUserId"`
	SessionWebhook    string     `json:"sessionWebhook"`
	CreateAt          int64      `json:"createAt"`
	Text              rawText    `json:"text"`
	Content           rawContent `json:"content"`
}

type rawText struct {
	Content string `json:"content"`
}

type rawContent struct {
	Recognition         string        `json:"recognition"`
	DownloadCode        string        `json:"downloadCode"`
	PictureDownloadCode string        `json:"pictureDownloadCode"`
	FileName            string        `json:"fileName"`
	RichText            []rawRichPart `json:"richText"`
}

type rawRichPart struct {
	Type                string `json:"type"`
	Text                string `json:"text"`
	DownloadCode        string `json:"downloadCode"`
	PictureDownloadCode string `json:"pictureDownloadCode"`
}

const conversationTypeGroup = "2"

// replyAddress is the delivery target for a conversation, resolved once
// at normalization time. Downstream code branches on Kind only.
type replyAddress struct {
	Kind               channel.ChatType
	SessionWebhook     string
	UserID             string
	OpenConversationID string
	AtUserID           string
}

func resolveReplyAddress(raw rawInbound) replyAddress {
	if raw.ConversationType == conversationTypeGroup {
		return replyAddress{
			Kind:               channel.ChatGroup,
			SessionWebhook:     raw.SessionWebhook,
			OpenConversationID: raw.ConversationID,
			AtUserID:           raw.SenderStaffID,
		}
	}
	return replyAddress{
		Kind:           channel.ChatDirect,
		SessionWebhook: raw.SessionWebhook,
		UserID:         senderIdentity(raw),
	}
}

func senderIdentity(raw rawInbound) string {
	if id := strings.TrimSpace(raw.SenderStaffID); id != "" {
		return id
	}
	return strings.TrimSpace(raw.SenderID)
}

// mediaPointer references a platform-hosted media item by download code.
type mediaPointer struct {
	Code string
	Type channel.AttachmentType
	Name string
}

// inboundContent is the normalized content of one message.
type inboundContent struct {
	Text  string
	Media []mediaPointer
}

// extractContent normalizes the platform payload by message type.
func extractContent(raw rawInbound) inboundContent {
	switch raw.MsgType {
	case "text", "":
		return inboundContent{Text: strings.TrimSpace(raw.Text.Content)}
	case "richText":
		return extractRichText(raw)
	case "audio":
		out := inboundContent{Text: strings.TrimSpace(raw.Content.Recognition)}
		if out.Text == "" {
			out.Text = "[voice message]"
		}
		if raw.Content.DownloadCode != "" {
			out.Media = append(out.Media, mediaPointer{
				Code: raw.Content.DownloadCode,
				Type: channel.AttachmentAudio,
				Name: "voice.amr",
			})
		}
		return out
	case "picture":
		out := inboundContent{Text: nonEmpty(strings.TrimSpace(raw.Content.FileName), "[picture message]")}
		if raw.Content.DownloadCode != "" {
			out.Media = append(out.Media, mediaPointer{
				Code: raw.Content.DownloadCode,
				Type: channel.AttachmentImage,
				Name: pictureName(raw.Content.FileName, 0),
			})
		}
		return out
	case "video":
		out := inboundContent{Text: "[video message]"}
		if raw.Content.DownloadCode != "" {
			out.Media = append(out.Media, mediaPointer{
				Code: raw.Content.DownloadCode,
				Type: channel.AttachmentVideo,
				Name: "video.mp4",
			})
		}
		return out
	case "file":
		out := inboundContent{Text: "[file message]"}
		if raw.Content.DownloadCode != "" {
			out.Media = append(out.Media, mediaPointer{
				Code: raw.Content.DownloadCode,
				Type: channel.AttachmentFile,
				Name: nonEmpty(strings.TrimSpace(raw.Content.FileName), "file.bin"),
			})
		}
		return out
	default:
		// Unrecognized kinds still reach the handler: carried text when
		// present, otherwise a label tagged with the kind name.
		text := strings.TrimSpace(raw.Text.Content)
		if text == "" {
			text = fmt.Sprintf("[%s message]", raw.MsgType)
		}
		return inboundContent{Text: text}
	}
}

// extractRichText joins the text parts and collects every picture part's
// download code.
func extractRichText(raw rawInbound) inboundContent {
	var out inboundContent
	var parts []string
	for i, part := range raw.Content.RichText {
		if text := strings.TrimSpace(part.Text); text != "" {
			parts = append(parts, text)
		}
		code := part.DownloadCode
		if code == "" {
			code = part.PictureDownloadCode
		}
		if part.Type == "picture" && code != "" {
			out.Media = append(out.Media, mediaPointer{
				Code: code,
				Type: channel.AttachmentImage,
				Name: pictureName("", i),
			})
		}
	}
	out.Text = strings.TrimSpace(strings.Join(parts, "\n"))
	if out.Text == "" {
		out.Text = "[picture message]"
	}
	return out
}

func pictureName(name string, index int) string {
	if trimmed := strings.TrimSpace(name); trimmed != "" {
		return trimmed
	}
	return fmt.Sprintf("picture_%d.png", index)
}
