package channel

import (
	"context"
	"errors"
	"time"

	"ridechat/pkg/models"
)

// ErrClosed is returned when sending on a channel that has been torn down.
var ErrClosed = errors.New("channel closed")

// Outbound is the frame emitted for an optimistic submission. The local id
// is the correlation token the server is expected to echo back.
type Outbound struct {
	Conversation string `json:"conversationId"`
	Body         string `json:"message"`
	LocalID      string `json:"localId"`
	ReplyTo      string `json:"replyTo,omitempty"`
	Peer         string `json:"otherUserId,omitempty"`
}

// Channel is a persistent bidirectional connection delivering message events
// asynchronously. Implementations close Events() on transport failure or
// Close; reconnect policy is the caller's concern.
type Channel interface {
	// Join subscribes to a conversation's events.
	Join(ctx context.Context, conversationID string) error
	// Send emits an outbound frame. It does not wait for server
	// acknowledgment.
	Send(ctx context.Context, out Outbound) error
	// Events returns the inbound event stream. Malformed payloads are
	// dropped by the implementation before they reach this channel.
	Events() <-chan models.Event
	Close() error
}

// Keepalive and buffering tunables shared by transports.
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	eventBuf   = 256
)
