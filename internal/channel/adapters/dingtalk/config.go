// Package dingtalk implements the DingTalk gateway: a persistent
// Stream-mode connection for inbound robot messages and outbound delivery
// as plain text, markdown, media messages, or an incrementally updated
// AI card.
package dingtalk

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

const (
	// Type is the platform identifier used in canonical messages.
	Type = "dingtalk"

	MessageTypePlain = "plain"
	MessageTypeCard  = "card"
)

var (
	ErrMissingCredentials = errors.New("dingtalk credentials are incomplete")
	ErrNotRunning         = errors.New("dingtalk gateway is not running")
)

var validate = validator.New()

// Credentials holds the app credentials and delivery options for one
// gateway instance.
type Credentials struct {
	Enabled         bool
	ClientID        string `validate:"required"`
	ClientSecret    string `validate:"required"`
	RobotCode       string
	MessageType     string
	CardTemplateID  string
	CardTemplateKey string
	Debug           bool
}

// Validate checks required fields and normalizable enums.
func (c Credentials) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrMissingCredentials, err)
	}
	switch strings.ToLower(strings.TrimSpace(c.MessageType)) {
	case "", MessageTypePlain, MessageTypeCard:
		return nil
	default:
		return fmt.Errorf("dingtalk message_type must be %s or %s", MessageTypePlain, MessageTypeCard)
	}
}

// cardMode reports whether replies should be rendered as AI cards.
func (c Credentials) cardMode() bool {
	return strings.ToLower(strings.TrimSpace(c.MessageType)) == MessageTypeCard
}

// robotCode returns the robot code, defaulting to the app client id.
func (c Credentials) robotCode() string {
	if code := strings.TrimSpace(c.RobotCode); code != "" {
		return code
	}
	return strings.TrimSpace(c.ClientID)
}

func (c Credentials) templateID() string {
	if id := strings.TrimSpace(c.CardTemplateID); id != "" {
		return id
	}
	return defaultCardTemplateID
}

func (c Credentials) templateKey() string {
	if key := strings.TrimSpace(c.CardTemplateKey); key != "" {
		return key
	}
	return defaultCardTemplateKey
}
