package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrMalformedEvent is returned when an inbound payload lacks a sender or a
// body. Callers drop such events and keep processing the stream.
var ErrMalformedEvent = errors.New("malformed event")

// Event is the canonical shape of one inbound real-time payload after
// normalization. Everything past DecodeEvent operates on this shape only;
// field-name variance between event sources is absorbed here and nowhere
// else.
type Event struct {
	ServerID     string
	LocalID      string
	Sender       string
	Body         string
	TS           int64
	ReplyTo      string
	ReplyPreview string
	Deleted      bool
}

// rawEvent mirrors the union of field spellings observed across the backend
// event sources.
type rawEvent struct {
	ID             string          `json:"id"`
	MongoID        string          `json:"_id"`
	ServerID       string          `json:"server_id"`
	LocalID        string          `json:"localId"`
	LocalID2       string          `json:"local_id"`
	Sender         json.RawMessage `json:"sender"`
	SenderID       json.RawMessage `json:"sender_id"`
	SenderID2      json.RawMessage `json:"senderId"`
	Message        string          `json:"message"`
	Body           string          `json:"body"`
	Text           string          `json:"text"`
	ReplyTo        json.RawMessage `json:"reply_to"`
	ReplyTo2       json.RawMessage `json:"replyTo"`
	ReplyToContent string          `json:"replyToContent"`
	ReplyPreview   string          `json:"reply_preview"`
	CreatedAt      json.RawMessage `json:"createdAt"`
	CreatedAt2     json.RawMessage `json:"created_at"`
	TS             json.RawMessage `json:"ts"`
	Deleted        bool            `json:"deleted"`
}

// idCarrier decodes payloads where an identity is either a bare string or an
// object carrying an "_id" field.
type idCarrier struct {
	ID      string `json:"_id"`
	Message string `json:"message"`
}

func decodeIDField(raw json.RawMessage) (id, body string) {
	if len(raw) == 0 {
		return "", ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, ""
	}
	var c idCarrier
	if err := json.Unmarshal(raw, &c); err == nil {
		return c.ID, c.Message
	}
	return "", ""
}

// DecodeEvent normalizes one inbound payload into an Event. It returns
// ErrMalformedEvent when the payload has no resolvable sender or body.
func DecodeEvent(data []byte) (Event, error) {
	var r rawEvent
	if err := json.Unmarshal(data, &r); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	var ev Event

	ev.ServerID = first(r.ServerID, r.MongoID, r.ID)
	ev.LocalID = first(r.LocalID, r.LocalID2)

	for _, raw := range []json.RawMessage{r.SenderID, r.Sender, r.SenderID2} {
		if id, _ := decodeIDField(raw); id != "" {
			ev.Sender = id
			break
		}
	}

	ev.Body = first(r.Message, r.Body, r.Text)
	ev.Deleted = r.Deleted

	for _, raw := range []json.RawMessage{r.ReplyTo, r.ReplyTo2} {
		if id, body := decodeIDField(raw); id != "" {
			ev.ReplyTo = id
			if ev.ReplyPreview == "" {
				ev.ReplyPreview = body
			}
			break
		}
	}
	if p := first(r.ReplyToContent, r.ReplyPreview); p != "" {
		ev.ReplyPreview = p
	}

	for _, raw := range []json.RawMessage{r.TS, r.CreatedAt, r.CreatedAt2} {
		if ts, ok := parseTS(raw); ok {
			ev.TS = ts
			break
		}
	}
	if ev.TS == 0 {
		ev.TS = time.Now().UTC().UnixNano()
	}

	if ev.Sender == "" || ev.Body == "" {
		return Event{}, fmt.Errorf("%w: missing sender or body", ErrMalformedEvent)
	}
	return ev, nil
}

func first(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// parseTS accepts RFC3339 strings and numeric timestamps in seconds,
// milliseconds or nanoseconds, and returns nanoseconds.
func parseTS(raw json.RawMessage) (int64, bool) {
	if len(raw) == 0 {
		return 0, false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if s == "" {
			return 0, false
		}
		if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return t.UnixNano(), true
		}
		if n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			return scaleTS(n), true
		}
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return scaleTS(int64(f)), true
	}
	return 0, false
}

func scaleTS(n int64) int64 {
	switch {
	case n <= 0:
		return 0
	case n < 1e12: // seconds
		return n * int64(time.Second)
	case n < 1e15: // milliseconds
		return n * int64(time.Millisecond)
	default: // already nanoseconds
		return n
	}
}
