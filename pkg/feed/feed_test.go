package feed

import (
	"fmt"
	"testing"

	"ridechat/pkg/models"
)

func TestMergeNoDuplicationByServerID(t *testing.T) {
	f := New()
	for i := 0; i < 5; i++ {
		ev := models.Event{ServerID: fmt.Sprintf("s%d", i), Sender: "u1", Body: "msg", TS: int64(i)}
		if _, err := f.Merge(ev); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
	}
	// redeliver each once
	for i := 0; i < 5; i++ {
		ev := models.Event{ServerID: fmt.Sprintf("s%d", i), Sender: "u1", Body: "msg", TS: int64(i)}
		out, err := f.Merge(ev)
		if err != nil {
			t.Fatalf("redeliver %d: %v", i, err)
		}
		if out != OutcomeDuplicate {
			t.Fatalf("redeliver %d: expected duplicate, got %s", i, out)
		}
	}
	if f.Len() != 5 {
		t.Fatalf("expected 5 records, got %d", f.Len())
	}
	seen := map[string]bool{}
	for _, m := range f.Snapshot() {
		if m.ServerID == "" {
			t.Fatalf("unexpected pending record %+v", m)
		}
		if seen[m.ServerID] {
			t.Fatalf("duplicate server id %s", m.ServerID)
		}
		seen[m.ServerID] = true
	}
}

func TestPendingToConfirmedIdempotence(t *testing.T) {
	f := New()
	f.InsertOrUpdate(models.Message{LocalID: "L1", Sender: "u1", Body: "hello", TS: 100, Pending: true})

	conf := models.Event{ServerID: "S1", LocalID: "L1", Sender: "u1", Body: "hello", TS: 100}
	out, err := f.Merge(conf)
	if err != nil {
		t.Fatalf("merge confirmation: %v", err)
	}
	if out != OutcomeConfirmed {
		t.Fatalf("expected confirmed, got %s", out)
	}
	// identical confirmation again
	out, err = f.Merge(conf)
	if err != nil {
		t.Fatalf("merge duplicate confirmation: %v", err)
	}
	if out != OutcomeDuplicate {
		t.Fatalf("expected duplicate, got %s", out)
	}

	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}
	if snap[0].ServerID != "S1" || snap[0].LocalID != "L1" || snap[0].Pending {
		t.Fatalf("unexpected record %+v", snap[0])
	}
}

func TestHeuristicMatch(t *testing.T) {
	f := New()
	f.InsertOrUpdate(models.Message{LocalID: "L1", Sender: "u1", Body: "hi", TS: 50, Pending: true})

	// server echo with no localId: correlated by (sender, body, replyTo)
	out, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1", Body: "hi", TS: 55})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out != OutcomeHeuristic {
		t.Fatalf("expected heuristic, got %s", out)
	}
	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}
	if snap[0].ServerID != "s1" || snap[0].Pending {
		t.Fatalf("unexpected record %+v", snap[0])
	}
	if snap[0].TS != 55 {
		t.Fatalf("server timestamp should win, got %d", snap[0].TS)
	}
}

func TestHeuristicSkipsConfirmedAndDifferentReplyTo(t *testing.T) {
	f := New()
	// confirmed record with same sender/body must not absorb a new event
	if _, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1", Body: "hi", TS: 1}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	// pending record with a different reply target must not match either
	f.InsertOrUpdate(models.Message{LocalID: "L1", Sender: "u1", Body: "hi", ReplyTo: "s1", TS: 2, Pending: true})

	out, err := f.Merge(models.Event{ServerID: "s2", Sender: "u1", Body: "hi", TS: 3})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out != OutcomeNew {
		t.Fatalf("expected new, got %s", out)
	}
	if f.Len() != 3 {
		t.Fatalf("expected 3 records, got %d", f.Len())
	}
}

func TestOrderingInvariant(t *testing.T) {
	f := New()
	ts := []int64{500, 100, 300, 200, 400}
	for i, v := range ts {
		ev := models.Event{ServerID: fmt.Sprintf("s%d", i), Sender: "u2", Body: "b", TS: v}
		if _, err := f.Merge(ev); err != nil {
			t.Fatalf("merge %d: %v", i, err)
		}
		snap := f.Snapshot()
		for j := 1; j < len(snap); j++ {
			if snap[j-1].TS > snap[j].TS {
				t.Fatalf("snapshot out of order after merge %d: %d > %d", i, snap[j-1].TS, snap[j].TS)
			}
		}
	}
}

func TestTombstoneImmutability(t *testing.T) {
	f := New()
	if _, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1", Body: "secret", TS: 1}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	if err := f.MarkDeleted("s1"); err != nil {
		t.Fatalf("mark deleted: %v", err)
	}

	// neither direct updates nor redelivered events restore the body
	f.InsertOrUpdate(models.Message{ServerID: "s1", Sender: "u1", Body: "secret", TS: 1})
	if _, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1", Body: "secret", TS: 1}); err != nil {
		t.Fatalf("merge redelivery: %v", err)
	}

	m, ok := f.Lookup("s1")
	if !ok {
		t.Fatalf("record missing after delete")
	}
	if !m.Deleted || m.Body != models.TombstoneBody {
		t.Fatalf("tombstone not preserved: %+v", m)
	}
}

func TestMarkDeletedUnknownRef(t *testing.T) {
	f := New()
	if err := f.MarkDeleted("nope"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMergeMalformedEvent(t *testing.T) {
	f := New()
	if _, err := f.Merge(models.Event{ServerID: "s1", Body: "no sender"}); err == nil {
		t.Fatalf("expected error for missing sender")
	}
	if _, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1"}); err == nil {
		t.Fatalf("expected error for missing body")
	}
	if f.Len() != 0 {
		t.Fatalf("malformed events must not insert, got %d records", f.Len())
	}
}

func TestReplyPreviewBackfillFromPending(t *testing.T) {
	f := New()
	f.InsertOrUpdate(models.Message{LocalID: "L1", Sender: "u1", Body: "original", TS: 1, Pending: true})

	out, err := f.Merge(models.Event{ServerID: "s9", Sender: "u2", Body: "reply", TS: 2, ReplyTo: "L1"})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if out != OutcomeNew {
		t.Fatalf("expected new, got %s", out)
	}
	m, ok := f.Lookup("s9")
	if !ok {
		t.Fatalf("reply missing")
	}
	if m.ReplyPreview != "original" {
		t.Fatalf("expected backfilled preview, got %q", m.ReplyPreview)
	}
}

func TestLocalReplyPreviewWins(t *testing.T) {
	f := New()
	f.InsertOrUpdate(models.Message{
		LocalID: "L1", Sender: "u1", Body: "hi", TS: 1,
		ReplyTo: "s0", ReplyPreview: "local preview", Pending: true,
	})
	if _, err := f.Merge(models.Event{ServerID: "s1", LocalID: "L1", Sender: "u1", Body: "hi", TS: 2, ReplyTo: "s0"}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	m, _ := f.Lookup("s1")
	if m.ReplyPreview != "local preview" {
		t.Fatalf("locally resolved preview lost: %q", m.ReplyPreview)
	}
}

func TestScenarioPendingConfirmation(t *testing.T) {
	f := New()
	f.InsertOrUpdate(models.Message{LocalID: "L1", Sender: "u1", Body: "hello", TS: 1000, Pending: true})
	if _, err := f.Merge(models.Event{ServerID: "S1", LocalID: "L1", Sender: "u1", Body: "hello", TS: 1000}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}
	if snap[0].ServerID != "S1" || snap[0].Pending {
		t.Fatalf("unexpected record %+v", snap[0])
	}
}

func TestScenarioDuplicateDelivery(t *testing.T) {
	f := New()
	ev := models.Event{ServerID: "S2", Sender: "u2", Body: "hey", TS: 2000}
	if _, err := f.Merge(ev); err != nil {
		t.Fatalf("first merge: %v", err)
	}
	if _, err := f.Merge(ev); err != nil {
		t.Fatalf("second merge: %v", err)
	}
	snap := f.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 record, got %d", len(snap))
	}
	if snap[0].ServerID != "S2" {
		t.Fatalf("unexpected record %+v", snap[0])
	}
}

func TestDeletedEventInsertsTombstone(t *testing.T) {
	f := New()
	if _, err := f.Merge(models.Event{ServerID: "s1", Sender: "u1", Body: "bye", TS: 1, Deleted: true}); err != nil {
		t.Fatalf("merge: %v", err)
	}
	m, _ := f.Lookup("s1")
	if !m.Deleted || m.Body != models.TombstoneBody {
		t.Fatalf("expected tombstone, got %+v", m)
	}
}
