package dingtalk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lobsterai/im-gateway/internal/channel"
)

const (
	healthCheckInterval  = 10 * time.Second
	silenceThreshold     = 60 * time.Second
	reconnectDebounce    = 3 * time.Second
	tokenRefreshInterval = time.Hour

	unsupportedTypeReply = "Sorry, I can only read text messages for now."
	handlerFailedReply   = "Something went wrong while handling your message. Please try again."
)

// Status is a point-in-time snapshot of the gateway.
type Status struct {
	Connected      bool
	StartedAt      time.Time
	LastError      string
	LastInboundAt  time.Time
	LastOutboundAt time.Time
}

// mediaResolver turns an inbound download code into a local file.
type mediaResolver interface {
	Download(ctx context.Context, downloadCode, fileName string) (string, error)
}

// Gateway owns the Stream-mode connection and drives the inbound pipeline
// and outbound replies. One Gateway serves one app credential.
type Gateway struct {
	logger *slog.Logger
	events *channel.Notifier
	rest   *restClient
	dedup  *ledger

	newTransport transportFactory

	healthInterval time.Duration
	silenceLimit   time.Duration
	reconnectDelay time.Duration
	refreshEvery   time.Duration

	mu               sync.Mutex
	handler          channel.Handler
	creds            Credentials
	hasCreds         bool
	savedCreds       *Credentials
	transport        transport
	stopping         bool
	reconnecting     bool
	stopCh           chan struct{}
	loopCancel       context.CancelFunc
	lastFrameAt      time.Time
	status           Status
	lastConversation *replyAddress
	mediaDir         string

	tokens     *tokenCache
	oapiTokens *tokenCache
	out        deliverer
	cards      cardAPI
	media      mediaResolver
}

// New creates a stopped Gateway. Call Start to connect.
func New(logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	adapterLogger := logger.With(slog.String("adapter", Type))
	return &Gateway{
		logger:         adapterLogger,
		events:         channel.NewNotifier(adapterLogger),
		rest:           newRESTClient(),
		dedup:          newLedger(dedupTTL),
		newTransport:   newStreamTransport,
		healthInterval: healthCheckInterval,
		silenceLimit:   silenceThreshold,
		reconnectDelay: reconnectDebounce,
		refreshEvery:   tokenRefreshInterval,
		mediaDir:       defaultMediaDir(),
	}
}

// OnMessage registers the application handler for inbound messages.
func (g *Gateway) OnMessage(handler channel.Handler) {
	g.mu.Lock()
	g.handler = handler
	g.mu.Unlock()
}

// Subscribe returns a channel of lifecycle events.
func (g *Gateway) Subscribe(buffer int) <-chan channel.Event {
	return g.events.Subscribe(buffer)
}

// Status returns a snapshot of the gateway state.
func (g *Gateway) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.status
}

// SetMediaDir overrides where inbound media files are stored.
func (g *Gateway) SetMediaDir(dir string) {
	if dir == "" {
		return
	}
	g.mu.Lock()
	g.mediaDir = dir
	g.mu.Unlock()
}

// Start validates credentials, connects the stream transport and launches
// the periodic loops. A running gateway is stopped first, so Start doubles
// as restart.
func (g *Gateway) Start(ctx context.Context, creds Credentials) error {
	if !creds.Enabled {
		g.logger.Info("gateway disabled, not starting")
		return nil
	}
	if err := creds.Validate(); err != nil {
		return err
	}

	g.mu.Lock()
	running := g.transport != nil
	g.mu.Unlock()
	if running {
		if err := g.Stop(ctx); err != nil {
			g.logger.Warn("stop before restart failed", slog.Any("error", err))
		}
	}

	g.mu.Lock()
	g.buildCollaborators(creds)
	g.creds = creds
	g.hasCreds = true
	saved := creds
	g.savedCreds = &saved
	g.stopping = false
	g.mu.Unlock()

	t := g.newTransport(creds, g.logger)
	t.RegisterInboundListener(g.onFrame)
	if err := t.Connect(ctx); err != nil {
		err = fmt.Errorf("connect stream transport failed: %w", err)
		g.recordError(err)
		return err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g.mu.Lock()
	g.transport = t
	g.loopCancel = cancel
	g.stopCh = make(chan struct{})
	g.lastFrameAt = time.Now()
	g.status = Status{Connected: true, StartedAt: time.Now()}
	g.mu.Unlock()

	go g.healthLoop(loopCtx)
	go g.tokenRefreshLoop(loopCtx)

	g.logger.Info("gateway started",
		slog.String("client_id", creds.ClientID),
		slog.Bool("card_mode", creds.cardMode()),
	)
	g.events.Publish(channel.Event{Kind: channel.EventConnected})
	return nil
}

// buildCollaborators wires the credential-bound collaborators. Token
// caches survive a restart with unchanged credentials so a reconnect does
// not cost a token refetch. Caller holds g.mu.
func (g *Gateway) buildCollaborators(creds Credentials) {
	if g.tokens == nil || g.creds.ClientID != creds.ClientID || g.creds.ClientSecret != creds.ClientSecret {
		g.tokens = newTokenCache(&apiTokenFetcher{rest: g.rest, clientID: creds.ClientID, clientSecret: creds.ClientSecret})
		g.oapiTokens = newTokenCache(&oapiTokenFetcher{rest: g.rest, clientID: creds.ClientID, clientSecret: creds.ClientSecret})
	}
	media := &mediaClient{rest: g.rest}
	g.out = &sender{
		rest:       g.rest,
		tokens:     g.tokens,
		oapiTokens: g.oapiTokens,
		media:      media,
		creds:      creds,
		logger:     g.logger,
	}
	g.cards = &restCardAPI{rest: g.rest, tokens: g.tokens, creds: creds}
	g.media = &restMediaResolver{
		media:     media,
		tokens:    g.tokens,
		robotCode: creds.robotCode(),
		dir: func() string {
			g.mu.Lock()
			defer g.mu.Unlock()
			return g.mediaDir
		},
	}
}

// Stop disconnects the transport and halts the periodic loops. Stopping a
// stopped gateway is a no-op. Saved credentials survive for later
// reconnects.
func (g *Gateway) Stop(ctx context.Context) error {
	g.mu.Lock()
	t := g.transport
	if t == nil {
		g.mu.Unlock()
		return nil
	}
	g.stopping = true
	g.transport = nil
	g.hasCreds = false
	cancel := g.loopCancel
	g.loopCancel = nil
	stopCh := g.stopCh
	g.stopCh = nil
	g.status = Status{}
	g.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if stopCh != nil {
		close(stopCh)
	}
	if err := t.Disconnect(ctx); err != nil {
		g.logger.Warn("transport disconnect failed", slog.Any("error", err))
	}
	g.events.Publish(channel.Event{Kind: channel.EventDisconnected})
	g.logger.Info("gateway stopped")

	g.mu.Lock()
	g.stopping = false
	g.mu.Unlock()
	return nil
}

// Close stops the gateway and closes the event stream. Unlike Stop, a
// closed gateway is not meant to be started again: subscribers see their
// channels close.
func (g *Gateway) Close(ctx context.Context) error {
	err := g.Stop(ctx)
	g.events.Close()
	return err
}

// ReconnectIfNeeded triggers a reconnect when the gateway is disconnected
// but still has credentials to connect with.
func (g *Gateway) ReconnectIfNeeded() {
	g.mu.Lock()
	needed := g.transport == nil && (g.hasCreds || g.savedCreds != nil)
	g.mu.Unlock()
	if needed {
		go g.reconnect()
	}
}

// SendNotification pushes an unsolicited message into the most recently
// active conversation.
func (g *Gateway) SendNotification(ctx context.Context, text string) error {
	g.mu.Lock()
	addr := g.lastConversation
	out := g.out
	g.mu.Unlock()
	if addr == nil || out == nil {
		return fmt.Errorf("%w: no active conversation", ErrNotRunning)
	}
	if err := out.SendWithMedia(ctx, *addr, text); err != nil {
		return err
	}
	g.markOutbound()
	return nil
}

// onFrame is the transport listener. Frames are acknowledged before any
// processing so a processing failure cannot hold a frame in redelivery.
func (g *Gateway) onFrame(f frame) {
	g.mu.Lock()
	t := g.transport
	if t == nil {
		// Stopped between arrival and dispatch; discard.
		g.mu.Unlock()
		return
	}
	g.lastFrameAt = time.Now()
	debug := g.creds.Debug
	g.mu.Unlock()

	t.Acknowledge(f.ID, true)
	if debug {
		g.logger.Debug("inbound frame", slog.String("payload", string(f.Data)))
	}

	var raw rawInbound
	if err := json.Unmarshal(f.Data, &raw); err != nil {
		g.recordError(fmt.Errorf("decode inbound frame failed: %w", err))
		return
	}
	go g.handleInbound(context.Background(), raw)
}

func (g *Gateway) handleInbound(ctx context.Context, raw rawInbound) {
	if raw.ChatbotUserID != "" && (raw.SenderID == raw.ChatbotUserID || raw.SenderStaffID == raw.ChatbotUserID) {
		return
	}
	if g.dedup.IsDuplicate(raw.MsgID) {
		g.logger.Debug("duplicate message dropped", slog.String("msg_id", raw.MsgID))
		return
	}

	addr := resolveReplyAddress(raw)
	g.mu.Lock()
	conv := addr
	g.lastConversation = &conv
	g.status.LastInboundAt = time.Now()
	out := g.out
	cards := g.cards
	handler := g.handler
	cardMode := g.creds.cardMode()
	g.mu.Unlock()

	content := extractContent(raw)
	msg := channel.InboundMessage{
		Platform:       Type,
		MessageID:      raw.MsgID,
		ConversationID: raw.ConversationID,
		ChatType:       addr.Kind,
		Sender:         channel.Identity{ID: senderIdentity(raw), DisplayName: raw.SenderNick},
		Content:        content.Text,
		Attachments:    g.resolveAttachments(ctx, content.Media),
		ReceivedAt:     receivedAt(raw.CreateAt),
	}
	if msg.IsEmpty() {
		g.logger.Debug("message resolved empty", slog.String("msgtype", raw.MsgType))
		if err := out.SendBySession(ctx, addr.SessionWebhook, unsupportedTypeReply, addr.AtUserID); err != nil {
			g.logger.Warn("canned reply failed", slog.Any("error", err))
		}
		return
	}
	g.events.Publish(channel.Event{Kind: channel.EventMessage, Message: &msg})

	if handler == nil {
		return
	}

	plainReply := func(ctx context.Context, text string) error {
		if err := out.SendWithMedia(ctx, addr, text); err != nil {
			return err
		}
		g.markOutbound()
		return nil
	}

	reply := plainReply
	var stream channel.StreamFunc
	if cardMode {
		cs := newCardStream(cards, g.logger)
		if err := cs.open(ctx, addr); err != nil {
			g.logger.Warn("card setup failed, falling back to markdown", slog.Any("error", err))
		} else {
			stream = cs.Push
			reply = func(ctx context.Context, text string) error {
				cs.Finalize(ctx, text)
				g.markOutbound()
				return out.SendFileAttachments(ctx, addr, text)
			}
		}
	}

	if err := handler(ctx, msg, reply, stream); err != nil {
		g.recordError(fmt.Errorf("message handler failed: %w", err))
		if sendErr := out.SendBySession(ctx, addr.SessionWebhook, handlerFailedReply, addr.AtUserID); sendErr != nil {
			g.logger.Warn("error reply failed", slog.Any("error", sendErr))
		}
	}
}

// resolveAttachments downloads inbound media pointers. Failures are
// logged and the message proceeds without the attachment.
func (g *Gateway) resolveAttachments(ctx context.Context, pointers []mediaPointer) []channel.Attachment {
	if len(pointers) == 0 {
		return nil
	}
	g.mu.Lock()
	resolver := g.media
	g.mu.Unlock()
	if resolver == nil {
		return nil
	}
	var attachments []channel.Attachment
	for _, p := range pointers {
		localPath, err := resolver.Download(ctx, p.Code, p.Name)
		if err != nil {
			g.logger.Warn("inbound media download failed",
				slog.String("name", p.Name),
				slog.Any("error", err),
			)
			continue
		}
		attachments = append(attachments, channel.Attachment{
			Type:      p.Type,
			LocalPath: localPath,
			Name:      p.Name,
		})
	}
	return attachments
}

func (g *Gateway) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(g.healthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.healthCheck()
		}
	}
}

// healthCheck reconnects when the connection handle is gone or no frame
// arrived within the silence threshold.
func (g *Gateway) healthCheck() {
	g.mu.Lock()
	stopping := g.stopping
	t := g.transport
	silentFor := time.Since(g.lastFrameAt)
	g.mu.Unlock()

	if stopping {
		return
	}
	if t == nil {
		g.reconnect()
		return
	}
	if silentFor > g.silenceLimit {
		g.logger.Warn("no inbound frames within silence threshold, reconnecting",
			slog.Duration("silent_for", silentFor),
		)
		g.reconnect()
	}
}

// reconnect tears the connection down and starts again with the saved
// credentials. Attempts are single-flight and debounced; there is no
// backoff, a failed attempt is simply retried on the next health tick.
// The restart runs on a fresh context: Stop cancels the loop context
// this may have been reached from, and the new connection must outlive
// it.
func (g *Gateway) reconnect() {
	g.mu.Lock()
	if g.reconnecting || g.stopping {
		g.mu.Unlock()
		return
	}
	g.reconnecting = true
	stopCh := g.stopCh
	creds := g.savedCreds
	delay := g.reconnectDelay
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		g.reconnecting = false
		g.mu.Unlock()
	}()

	if creds == nil {
		g.logger.Warn("reconnect skipped: no saved credentials")
		return
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	if stopCh != nil {
		select {
		case <-timer.C:
		case <-stopCh:
			// Stopped during the debounce wait; abort.
			return
		}
	} else {
		<-timer.C
	}

	g.mu.Lock()
	stopping := g.stopping
	g.mu.Unlock()
	if stopping {
		return
	}

	ctx := context.Background()
	g.logger.Info("reconnecting")
	if err := g.Stop(ctx); err != nil {
		g.logger.Warn("stop during reconnect failed", slog.Any("error", err))
	}
	if err := g.Start(ctx, *creds); err != nil {
		g.logger.Error("reconnect failed", slog.Any("error", err))
	}
}

func (g *Gateway) tokenRefreshLoop(ctx context.Context) {
	ticker := time.NewTicker(g.refreshEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			g.mu.Lock()
			tokens := g.tokens
			stopping := g.stopping
			g.mu.Unlock()
			if stopping || tokens == nil {
				continue
			}
			tokens.Invalidate()
			if _, err := tokens.Token(ctx); err != nil {
				g.logger.Warn("scheduled token refresh failed", slog.Any("error", err))
			}
		}
	}
}

func (g *Gateway) recordError(err error) {
	g.mu.Lock()
	g.status.LastError = err.Error()
	g.mu.Unlock()
	g.logger.Error("gateway error", slog.Any("error", err))
	g.events.Publish(channel.Event{Kind: channel.EventError, Err: err})
}

func (g *Gateway) markOutbound() {
	g.mu.Lock()
	g.status.LastOutboundAt = time.Now()
	g.mu.Unlock()
}

func receivedAt(createAt int64) time.Time {
	if createAt > 0 {
		return time.UnixMilli(createAt)
	}
	return time.Now()
}

// restMediaResolver binds the media client to the gateway's token cache
// and configured directory.
type restMediaResolver struct {
	media     *mediaClient
	tokens    *tokenCache
	robotCode string
	dir       func() string
}

func (r *restMediaResolver) Download(ctx context.Context, downloadCode, fileName string) (string, error) {
	token, err := r.tokens.Token(ctx)
	if err != nil {
		return "", err
	}
	return r.media.Download(ctx, token, r.robotCode, downloadCode, fileName, r.dir())
}
