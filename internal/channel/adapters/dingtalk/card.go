package dingtalk

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/lobsterai/im-gateway/internal/channel"
)

const (
	defaultCardTemplateID  = "382e4302-551d-4880-bf29-a30acfab2e71.schema"
	defaultCardTemplateKey = "msgContent"

	// flowStatus value that switches the card into its typing state.
	cardFlowStatusInputing = "2"
)

// cardAPI drives the AI-card REST operations for one card instance,
// identified by its client-minted outTrackId.
type cardAPI interface {
	Create(ctx context.Context, outTrackID string) error
	Deliver(ctx context.Context, outTrackID string, addr replyAddress) error
	StartInputing(ctx context.Context, outTrackID string) error
	StreamUpdate(ctx context.Context, outTrackID, content string, finalize bool) error
}

// restCardAPI is the platform-backed cardAPI.
type restCardAPI struct {
	rest   *restClient
	tokens *tokenCache
	creds  Credentials
}

// newOutTrackID mints a client-side card instance id.
func newOutTrackID() string {
	return fmt.Sprintf("card_%d_%s", time.Now().UnixMilli(), uuid.NewString()[:8])
}

func (c *restCardAPI) Create(ctx context.Context, outTrackID string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"cardTemplateId": c.creds.templateID(),
		"outTrackId":     outTrackID,
		"cardData": map[string]any{
			"cardParamMap": map[string]any{},
		},
		"callbackType": "STREAM",
		"imGroupOpenSpaceModel": map[string]any{
			"supportForward": true,
		},
		"imRobotOpenSpaceModel": map[string]any{
			"supportForward": true,
		},
	}
	return c.rest.call(ctx, http.MethodPost, "/v1.0/card/instances", token, body, nil)
}

func (c *restCardAPI) Deliver(ctx context.Context, outTrackID string, addr replyAddress) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	var body map[string]any
	if addr.Kind == channel.ChatGroup {
		body = map[string]any{
			"outTrackId":  outTrackID,
			"openSpaceId": "dtv1.card//IM_GROUP." + addr.OpenConversationID,
			"userIdType":  1,
			"imGroupOpenDeliverModel": map[string]any{
				"robotCode": c.creds.robotCode(),
			},
		}
	} else {
		body = map[string]any{
			"outTrackId":  outTrackID,
			"openSpaceId": "dtv1.card//IM_ROBOT." + addr.UserID,
			"userIdType":  1,
			"imRobotOpenDeliverModel": map[string]any{
				"spaceType": "IM_ROBOT",
			},
		}
	}
	return c.rest.call(ctx, http.MethodPost, "/v1.0/card/instances/deliver", token, body, nil)
}

// StartInputing switches the card into its typing state. The platform
// shows a typing indicator until the first streaming update lands.
func (c *restCardAPI) StartInputing(ctx context.Context, outTrackID string) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	key := c.creds.templateKey()
	body := map[string]any{
		"outTrackId": outTrackID,
		"cardData": map[string]any{
			"cardParamMap": map[string]any{
				"flowStatus":        cardFlowStatusInputing,
				key:                 "",
				"staticMsgContent":  "",
				"sys_full_json_obj": fmt.Sprintf(`{"order":[%q]}`, key),
			},
		},
	}
	return c.rest.call(ctx, http.MethodPut, "/v1.0/card/instances", token, body, nil)
}

// StreamUpdate replaces the card's streamed content with a full snapshot.
// finalize marks the terminal update.
func (c *restCardAPI) StreamUpdate(ctx context.Context, outTrackID, content string, finalize bool) error {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return err
	}
	body := map[string]any{
		"outTrackId": outTrackID,
		"guid":       uuid.NewString(),
		"key":        c.creds.templateKey(),
		"content":    content,
		"isFull":     true,
		"isFinalize": finalize,
		"isError":    false,
	}
	return c.rest.call(ctx, http.MethodPut, "/v1.0/card/streaming", token, body, nil)
}
