package feed

import (
	"errors"
	"sort"
	"sync"

	"ridechat/pkg/models"
)

// ErrNotFound is returned when a reference resolves to no known record.
var ErrNotFound = errors.New("message not found")

// Outcome classifies what a merge did to the feed.
type Outcome int

const (
	// OutcomeNew means the event created a record the feed had not seen.
	OutcomeNew Outcome = iota
	// OutcomeConfirmed means the event confirmed a pending local record.
	OutcomeConfirmed
	// OutcomeHeuristic means a pending record was confirmed via the
	// (sender, body, replyTo) fallback rather than an id match.
	OutcomeHeuristic
	// OutcomeDuplicate means the event re-delivered an already-confirmed
	// record; the merge was an in-place no-op update.
	OutcomeDuplicate
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeConfirmed:
		return "confirmed"
	case OutcomeHeuristic:
		return "heuristic"
	case OutcomeDuplicate:
		return "duplicate"
	}
	return "unknown"
}

// Feed is the ordered, de-duplicated collection of message records for one
// conversation session: locally created pending entries plus server-confirmed
// ones. A single mutex serializes all mutations, so every merge runs to
// completion before the next one starts; records transition in place and are
// never removed and re-inserted.
type Feed struct {
	mu       sync.Mutex
	msgs     []*models.Message
	byServer map[string]*models.Message
	byLocal  map[string]*models.Message
}

func New() *Feed {
	return &Feed{
		byServer: make(map[string]*models.Message),
		byLocal:  make(map[string]*models.Message),
	}
}

// Len reports the number of records currently held.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.msgs)
}

// Snapshot returns a copy of the records sorted ascending by timestamp,
// suitable for rendering.
func (f *Feed) Snapshot() []models.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Message, len(f.msgs))
	for i, m := range f.msgs {
		out[i] = *m
	}
	return out
}

// Lookup resolves a server or local id to a copy of the record.
func (f *Feed) Lookup(ref string) (models.Message, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if m := f.lookupLocked(ref); m != nil {
		return *m, true
	}
	return models.Message{}, false
}

// InsertOrUpdate adds a record, or updates the existing record sharing its
// server or local id. Used by the optimistic writer and the history loader;
// tombstoned records never get their body restored.
func (f *Feed) InsertOrUpdate(rec models.Message) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var m *models.Message
	if rec.ServerID != "" {
		m = f.byServer[rec.ServerID]
	}
	if m == nil && rec.LocalID != "" {
		m = f.byLocal[rec.LocalID]
	}
	if m == nil {
		cp := rec
		f.appendLocked(&cp)
		f.sortLocked()
		return
	}

	if rec.ServerID != "" && m.ServerID == "" {
		m.ServerID = rec.ServerID
		f.byServer[rec.ServerID] = m
	}
	if !m.Deleted {
		m.Body = rec.Body
		m.Deleted = rec.Deleted
		if m.Deleted {
			m.Body = models.TombstoneBody
		}
	}
	if rec.TS != 0 {
		m.TS = rec.TS
	}
	if rec.ReplyTo != "" {
		m.ReplyTo = rec.ReplyTo
	}
	if m.ReplyPreview == "" {
		m.ReplyPreview = rec.ReplyPreview
	}
	m.Pending = rec.Pending
	f.sortLocked()
}

// Merge reconciles one inbound channel event into the feed and reports what
// happened. Matching precedence: exact id match first, then the heuristic
// pending match, then insertion as a new confirmed record.
//
// The heuristic can misfire only when the same sender submits the exact same
// body to the same reply target twice before the first confirmation returns;
// without a stronger correlation token in the outbound protocol this is an
// accepted tradeoff.
func (f *Feed) Merge(ev models.Event) (Outcome, error) {
	if ev.Sender == "" || ev.Body == "" {
		return 0, models.ErrMalformedEvent
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	// 1. Exact identity match on server or local id.
	var m *models.Message
	if ev.ServerID != "" {
		m = f.byServer[ev.ServerID]
	}
	if m == nil && ev.LocalID != "" {
		m = f.byLocal[ev.LocalID]
	}
	if m != nil {
		out := OutcomeDuplicate
		if m.Pending {
			out = OutcomeConfirmed
		}
		f.applyLocked(m, ev)
		f.sortLocked()
		return out, nil
	}

	// 2. Heuristic pending match: the server confirmed one of our optimistic
	// sends but the correlation token was lost in transit.
	if ev.ServerID != "" {
		for _, c := range f.msgs {
			if c.ServerID == "" && c.Pending &&
				c.Sender == ev.Sender && c.Body == ev.Body && c.ReplyTo == ev.ReplyTo {
				f.applyLocked(c, ev)
				f.sortLocked()
				return OutcomeHeuristic, nil
			}
		}
	}

	// 3. New confirmed record.
	nm := &models.Message{
		ServerID:     ev.ServerID,
		LocalID:      ev.LocalID,
		Sender:       ev.Sender,
		Body:         ev.Body,
		TS:           ev.TS,
		ReplyTo:      ev.ReplyTo,
		ReplyPreview: ev.ReplyPreview,
		Deleted:      ev.Deleted,
	}
	if nm.Deleted {
		nm.Body = models.TombstoneBody
	}
	if nm.ReplyTo != "" && nm.ReplyPreview == "" {
		if p := f.lookupLocked(nm.ReplyTo); p != nil {
			nm.ReplyPreview = p.Body
		}
	}
	f.appendLocked(nm)
	f.sortLocked()
	return OutcomeNew, nil
}

// MarkDeleted tombstones the record the reference resolves to. The record
// stays in the feed; only its body is replaced.
func (f *Feed) MarkDeleted(ref string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := f.lookupLocked(ref)
	if m == nil {
		return ErrNotFound
	}
	m.Deleted = true
	m.Body = models.TombstoneBody
	return nil
}

// applyLocked merges an event into an existing record in place. The server's
// timestamp is authoritative; a locally resolved reply preview wins over an
// absent incoming one; a tombstone never has its body restored.
func (f *Feed) applyLocked(m *models.Message, ev models.Event) {
	if ev.ServerID != "" && m.ServerID == "" {
		m.ServerID = ev.ServerID
		f.byServer[ev.ServerID] = m
	}
	if ev.LocalID != "" && m.LocalID == "" {
		m.LocalID = ev.LocalID
		f.byLocal[ev.LocalID] = m
	}
	m.Sender = ev.Sender
	if ev.TS != 0 {
		m.TS = ev.TS
	}
	if ev.ReplyTo != "" {
		m.ReplyTo = ev.ReplyTo
	}
	if m.ReplyPreview == "" {
		m.ReplyPreview = ev.ReplyPreview
	}
	if ev.Deleted {
		m.Deleted = true
	}
	if m.Deleted {
		m.Body = models.TombstoneBody
	} else {
		m.Body = ev.Body
	}
	m.Pending = false
}

func (f *Feed) appendLocked(m *models.Message) {
	f.msgs = append(f.msgs, m)
	if m.ServerID != "" {
		f.byServer[m.ServerID] = m
	}
	if m.LocalID != "" {
		f.byLocal[m.LocalID] = m
	}
}

func (f *Feed) lookupLocked(ref string) *models.Message {
	if ref == "" {
		return nil
	}
	if m, ok := f.byServer[ref]; ok {
		return m
	}
	if m, ok := f.byLocal[ref]; ok {
		return m
	}
	return nil
}

// sortLocked keeps the rendered order ascending by timestamp. The stable
// sort preserves arrival order for equal timestamps.
func (f *Feed) sortLocked() {
	sort.SliceStable(f.msgs, func(i, j int) bool {
		return f.msgs[i].TS < f.msgs[j].TS
	})
}
