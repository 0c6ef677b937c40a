package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"ridechat/pkg/archive"
	"ridechat/pkg/backend"
	"ridechat/pkg/channel"
	"ridechat/pkg/feed"
	"ridechat/pkg/logger"
	"ridechat/pkg/metrics"
	"ridechat/pkg/models"
	"ridechat/pkg/utils"
)

var (
	// ErrNotAuthenticated is returned when the session starts without a
	// resolved identity.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrEmptyBody rejects blank submissions.
	ErrEmptyBody = errors.New("empty message body")
	// ErrRateLimited is returned when outbound sends exceed the configured
	// token bucket.
	ErrRateLimited = errors.New("rate limited")
	// ErrNotOwner rejects deleting another member's message.
	ErrNotOwner = errors.New("not the message owner")
)

// Options configures a session.
type Options struct {
	// Conversation pins a known conversation id; when empty the session
	// opens one via the backend using RideID and Peer.
	Conversation string
	RideID       string
	Peer         string
	// SendRPS and SendBurst bound outbound submissions; zero values fall
	// back to 5 rps / burst 10.
	SendRPS   float64
	SendBurst int
	// Archive, when non-nil, receives every confirmed message and serves
	// warm-start history when the backend fetch fails.
	Archive *archive.Archive
}

// Session owns one conversation's live feed: it loads history, applies
// optimistic writes, consumes channel events through the reconciler, and
// tears everything down on Close. The feed is owned exclusively by its
// session and shared with no other.
type Session struct {
	state   *State
	feed    *feed.Feed
	ch      channel.Channel
	api     *backend.Client
	arc     *archive.Archive
	limiter *rate.Limiter

	rideID string
	peer   string
	conv   string

	done chan struct{}
}

// New wires a session from its collaborators. Identity must already be
// resolved into st before Start is called.
func New(api *backend.Client, ch channel.Channel, st *State, opts Options) *Session {
	rps := opts.SendRPS
	if rps <= 0 {
		rps = 5
	}
	burst := opts.SendBurst
	if burst <= 0 {
		burst = 10
	}
	return &Session{
		state:   st,
		feed:    feed.New(),
		ch:      ch,
		api:     api,
		arc:     opts.Archive,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		rideID:  opts.RideID,
		peer:    opts.Peer,
		conv:    opts.Conversation,
		done:    make(chan struct{}),
	}
}

// Start resolves the conversation, loads history, joins the room and begins
// consuming events. The store is rebuilt from the server fetch on entry and
// kept live by merges; when the fetch fails the session continues from the
// archive warm start (if enabled) or an empty feed.
func (s *Session) Start(ctx context.Context) error {
	if s.state.UserID() == "" {
		return ErrNotAuthenticated
	}

	if s.conv == "" {
		conv, err := s.api.OpenConversation(ctx, s.rideID, s.peer)
		if err != nil {
			return fmt.Errorf("setup conversation: %w", err)
		}
		s.conv = conv
	}
	s.state.SetConversation(s.conv)

	if history, err := s.api.History(ctx, s.conv); err != nil {
		logger.Warn("history_fetch_failed", "conversation", s.conv, "error", err)
		s.warmStart()
	} else {
		for _, ev := range history {
			if _, err := s.feed.Merge(ev); err != nil {
				logger.Warn("history_event_dropped", "error", err)
			}
		}
		logger.Info("history_loaded", "conversation", s.conv, "count", s.feed.Len())
	}
	metrics.FeedSize.Set(float64(s.feed.Len()))

	if err := s.ch.Join(ctx, s.conv); err != nil {
		return fmt.Errorf("join conversation: %w", err)
	}
	go s.loop(ctx)
	logger.Info("session_started", "conversation", s.conv, "user", s.state.UserID())
	return nil
}

// warmStart seeds the feed from the archive when the backend is unreachable.
func (s *Session) warmStart() {
	if s.arc == nil {
		return
	}
	msgs, err := s.arc.List(s.conv, 0)
	if err != nil {
		logger.Warn("warm_start_failed", "conversation", s.conv, "error", err)
		return
	}
	for _, m := range msgs {
		m.Pending = false
		s.feed.InsertOrUpdate(m)
	}
	if len(msgs) > 0 {
		logger.Info("warm_start_loaded", "conversation", s.conv, "count", len(msgs))
	}
}

// loop consumes inbound events until the channel closes or ctx is canceled.
// Each merge runs to completion before the next event is taken.
func (s *Session) loop(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-s.ch.Events():
			if !ok {
				logger.Info("channel_closed", "conversation", s.conv)
				return
			}
			s.handle(ev)
		}
	}
}

func (s *Session) handle(ev models.Event) {
	out, err := s.feed.Merge(ev)
	if err != nil {
		logger.Warn("event_dropped", "conversation", s.conv, "error", err)
		metrics.EventsDropped.Inc()
		return
	}
	metrics.Merges.WithLabelValues(out.String()).Inc()
	metrics.FeedSize.Set(float64(s.feed.Len()))

	if out == feed.OutcomeNew && ev.Sender != s.state.UserID() {
		s.state.IncrUnread()
	}
	// a redelivered event changed nothing, so it earns no archive row
	if s.arc != nil && ev.ServerID != "" && out != feed.OutcomeDuplicate {
		if m, ok := s.feed.Lookup(ev.ServerID); ok {
			if err := s.arc.Append(s.conv, m); err == nil {
				metrics.ArchiveAppends.Inc()
			}
		}
	}
}

// Submit appends a tentative record immediately and emits the outbound frame
// on the channel. The record is visible in Snapshot before any network work
// completes; the call never blocks on server acknowledgment. A send failure
// is logged but the optimistic record stays pending; the returned error
// reports it so callers can surface a transient notification.
func (s *Session) Submit(ctx context.Context, body, replyTo string) (models.Message, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return models.Message{}, ErrEmptyBody
	}
	if !s.limiter.Allow() {
		return models.Message{}, ErrRateLimited
	}

	m := models.Message{
		LocalID:      utils.GenLocalID(),
		Conversation: s.conv,
		Sender:       s.state.UserID(),
		Body:         body,
		TS:           time.Now().UTC().UnixNano(),
		ReplyTo:      replyTo,
		Pending:      true,
	}
	if replyTo != "" {
		if parent, ok := s.feed.Lookup(replyTo); ok {
			m.ReplyPreview = parent.Body
		}
	}
	s.feed.InsertOrUpdate(m)
	metrics.Sends.Inc()
	metrics.FeedSize.Set(float64(s.feed.Len()))

	err := s.ch.Send(ctx, channel.Outbound{
		Conversation: s.conv,
		Body:         body,
		LocalID:      m.LocalID,
		ReplyTo:      replyTo,
		Peer:         s.peer,
	})
	if err != nil {
		logger.Warn("send_failed", "conversation", s.conv, "local_id", m.LocalID, "error", err)
		return m, fmt.Errorf("send: %w", err)
	}
	return m, nil
}

// Delete tombstones the referenced message locally and immediately. If the
// record has a server id a delete request is fired asynchronously; a failure
// is logged and counted but the tombstone is never rolled back.
func (s *Session) Delete(ctx context.Context, ref string) error {
	m, ok := s.feed.Lookup(ref)
	if !ok {
		return feed.ErrNotFound
	}
	if m.Sender != s.state.UserID() {
		return ErrNotOwner
	}
	if err := s.feed.MarkDeleted(ref); err != nil {
		return err
	}
	metrics.Deletes.Inc()

	if m.ServerID != "" {
		go func(serverID string) {
			dctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := s.api.DeleteMessage(dctx, serverID); err != nil {
				logger.Warn("server_delete_failed", "server_id", serverID, "error", err)
				metrics.DeleteFailures.Inc()
			}
		}(m.ServerID)
	}
	return nil
}

// Snapshot returns the rendered view: all records sorted by timestamp.
func (s *Session) Snapshot() []models.Message {
	return s.feed.Snapshot()
}

// Lookup finds a record by server id or local id.
func (s *Session) Lookup(ref string) (models.Message, bool) {
	return s.feed.Lookup(ref)
}

// Conversation returns the active conversation id.
func (s *Session) Conversation() string { return s.conv }

// ConversationInfo returns the active conversation's metadata.
func (s *Session) ConversationInfo() models.Conversation {
	return models.Conversation{ID: s.conv, RideID: s.rideID, Peer: s.peer}
}

// State exposes the injected session state.
func (s *Session) State() *State { return s.state }

// RefreshUnread syncs the unread counter from the backend's unseen-count
// endpoint.
func (s *Session) RefreshUnread(ctx context.Context) error {
	if s.rideID == "" {
		return nil
	}
	n, err := s.api.UnseenCount(ctx, s.rideID)
	if err != nil {
		return err
	}
	s.state.SetUnread(n)
	return nil
}

// Close tears down the channel subscription. Optimistic records already in
// the feed are not rolled back.
func (s *Session) Close() error {
	err := s.ch.Close()
	select {
	case <-s.done:
	case <-time.After(2 * time.Second):
	}
	return err
}
