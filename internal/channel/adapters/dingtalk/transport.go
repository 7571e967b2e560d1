package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/open-dingtalk/dingtalk-stream-sdk-go/client"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/payload"
	"github.com/open-dingtalk/dingtalk-stream-sdk-go/utils"
)

// frame is one raw inbound callback frame from the transport.
type frame struct {
	ID   string
	Data []byte
}

// frameHandler consumes raw inbound frames.
type frameHandler func(f frame)

// transport is the Stream-mode connection collaborator. It hides the SDK
// behind four operations so the lifecycle manager and tests never touch
// the SDK directly.
type transport interface {
	Connect(ctx context.Context) error
	Disconnect(ctx context.Context) error
	RegisterInboundListener(handler frameHandler)
	Acknowledge(frameID string, success bool)
}

// transportFactory builds a transport for the given credentials.
type transportFactory func(creds Credentials, logger *slog.Logger) transport

// streamTransport adapts the DingTalk Stream SDK websocket client.
type streamTransport struct {
	creds  Credentials
	logger *slog.Logger

	mu      sync.Mutex
	handler frameHandler
	client  *client.StreamClient
}

func newStreamTransport(creds Credentials, logger *slog.Logger) transport {
	return &streamTransport{creds: creds, logger: logger}
}

func (t *streamTransport) RegisterInboundListener(handler frameHandler) {
	t.mu.Lock()
	t.handler = handler
	t.mu.Unlock()
}

func (t *streamTransport) Connect(ctx context.Context) error {
	cli := client.NewStreamClient(
		client.WithAppCredential(client.NewAppCredentialConfig(t.creds.ClientID, t.creds.ClientSecret)),
		client.WithAutoReconnect(true),
		client.WithSubscription(utils.SubscriptionTypeKCallback, payload.BotMessageCallbackTopic, t.onCallback),
	)
	if err := cli.Start(ctx); err != nil {
		return fmt.Errorf("start stream client failed: %w", err)
	}
	t.mu.Lock()
	t.client = cli
	t.mu.Unlock()
	return nil
}

func (t *streamTransport) Disconnect(ctx context.Context) error {
	t.mu.Lock()
	cli := t.client
	t.client = nil
	t.mu.Unlock()
	if cli != nil {
		cli.Close()
	}
	return nil
}

// Acknowledge is a no-op here: the SDK acknowledges a frame when the
// callback returns a success response.
func (t *streamTransport) Acknowledge(frameID string, success bool) {
	if t.logger != nil {
		t.logger.Debug("frame acknowledged", slog.String("frame_id", frameID), slog.Bool("success", success))
	}
}

func (t *streamTransport) onCallback(ctx context.Context, df *payload.DataFrame) (*payload.DataFrameResponse, error) {
	t.mu.Lock()
	handler := t.handler
	t.mu.Unlock()
	if handler != nil {
		handler(frame{ID: peekMessageID([]byte(df.Data)), Data: []byte(df.Data)})
	}
	return payload.NewSuccessDataFrameResponse(), nil
}

// peekMessageID extracts the business message id without a full decode.
func peekMessageID(data []byte) string {
	var peek struct {
		MsgID string `json:"msgId"`
	}
	_ = json.Unmarshal(data, &peek)
	return peek.MsgID
}
