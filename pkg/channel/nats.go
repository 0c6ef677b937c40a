package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"ridechat/pkg/logger"
	"ridechat/pkg/metrics"
	"ridechat/pkg/models"
)

// NATS is the alternative Channel transport for deployments where the chat
// backend fans out over JetStream instead of a socket server. Each
// conversation maps to one subject under the configured prefix.
type NATS struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	stream string
	prefix string

	events  chan models.Event
	done    chan struct{}
	consume jetstream.ConsumeContext

	// sendMu serializes dispatch against Close: a consume callback can still
	// be running after ConsumeContext.Stop returns, so the events channel is
	// only closed once no callback holds the lock and later callbacks see
	// the closed flag.
	sendMu    sync.Mutex
	closed    bool
	closeOnce sync.Once
}

// DialNATS connects to the NATS server and ensures the chat stream exists.
func DialNATS(url, stream, prefix string) (*NATS, error) {
	nc, err := nats.Connect(url, nats.Name("ridechat-"+uuid.NewString()))
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := js.Stream(ctx, stream); err != nil {
		logger.Info("nats_stream_create", "stream", stream)
		_, err = js.CreateStream(ctx, jetstream.StreamConfig{
			Name:     stream,
			Subjects: []string{fmt.Sprintf("%s.*", prefix)},
			MaxAge:   24 * time.Hour,
			Storage:  jetstream.FileStorage,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create stream %q: %w", stream, err)
		}
	}

	return &NATS{
		nc:     nc,
		js:     js,
		stream: stream,
		prefix: prefix,
		events: make(chan models.Event, eventBuf),
		done:   make(chan struct{}),
	}, nil
}

func (n *NATS) subject(conversationID string) string {
	return fmt.Sprintf("%s.%s", n.prefix, conversationID)
}

// Join subscribes to the conversation's subject with an ephemeral consumer
// delivering the full history first, then live events.
func (n *NATS) Join(ctx context.Context, conversationID string) error {
	cons, err := n.js.CreateOrUpdateConsumer(ctx, n.stream, jetstream.ConsumerConfig{
		FilterSubject: n.subject(conversationID),
		DeliverPolicy: jetstream.DeliverAllPolicy,
		AckPolicy:     jetstream.AckNonePolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer for %q: %w", conversationID, err)
	}
	cc, err := cons.Consume(func(msg jetstream.Msg) {
		ev, err := models.DecodeEvent(msg.Data())
		if err != nil {
			logger.Warn("nats_event_dropped", "subject", msg.Subject(), "error", err)
			metrics.EventsDropped.Inc()
			return
		}
		n.dispatch(ev)
	})
	if err != nil {
		return fmt.Errorf("consume %q: %w", conversationID, err)
	}
	n.consume = cc
	logger.Info("nats_joined", "subject", n.subject(conversationID))
	return nil
}

// Send publishes the outbound frame on the conversation subject. The server
// side consumes it, persists, and republishes the confirmed event.
func (n *NATS) Send(ctx context.Context, out Outbound) error {
	select {
	case <-n.done:
		return ErrClosed
	default:
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outbound: %w", err)
	}
	if _, err := n.js.Publish(ctx, n.subject(out.Conversation), data); err != nil {
		return fmt.Errorf("publish to %q: %w", out.Conversation, err)
	}
	return nil
}

// dispatch hands one decoded event to the consumer. Sends and teardown take
// the same lock; once Close has marked the transport closed no send on the
// events channel can happen again.
func (n *NATS) dispatch(ev models.Event) {
	n.sendMu.Lock()
	defer n.sendMu.Unlock()
	if n.closed {
		return
	}
	select {
	case n.events <- ev:
	case <-n.done:
	}
}

func (n *NATS) Events() <-chan models.Event {
	return n.events
}

func (n *NATS) Close() error {
	n.closeOnce.Do(func() {
		// done first, so a callback blocked in dispatch can bail out and
		// release sendMu.
		close(n.done)
		if n.consume != nil {
			n.consume.Stop()
		}
		n.sendMu.Lock()
		n.closed = true
		n.sendMu.Unlock()
		if n.nc != nil {
			n.nc.Close()
		}
		close(n.events)
	})
	return nil
}
