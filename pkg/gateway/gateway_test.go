package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"ridechat/pkg/backend"
	"ridechat/pkg/channel"
	"ridechat/pkg/models"
	"ridechat/pkg/session"
)

type stubChannel struct {
	events chan models.Event
}

func (s *stubChannel) Join(ctx context.Context, conversationID string) error { return nil }
func (s *stubChannel) Send(ctx context.Context, out channel.Outbound) error  { return nil }
func (s *stubChannel) Events() <-chan models.Event                           { return s.events }
func (s *stubChannel) Close() error {
	close(s.events)
	return nil
}

func newTestServer(t *testing.T) (*httptest.Server, *stubChannel, *session.Session) {
	t.Helper()
	be := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/chats/conversation/"):
			_, _ = w.Write([]byte(`[]`))
		case strings.HasPrefix(r.URL.Path, "/chats/message/"):
			w.WriteHeader(http.StatusOK)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(be.Close)

	ch := &stubChannel{events: make(chan models.Event, 8)}
	api := backend.New(be.URL, "tok", time.Second)
	st := session.NewState()
	st.SetIdentity("u1")
	sess := session.New(api, ch, st, session.Options{Conversation: "conv-1"})
	if err := sess.Start(context.Background()); err != nil {
		t.Fatalf("start session: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })

	r := mux.NewRouter()
	New(sess).Register(r.PathPrefix("/v1").Subrouter())
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, ch, sess
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestPostAndListMessages(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, err := http.Post(srv.URL+"/v1/messages", "application/json",
		strings.NewReader(`{"body":"hello there"}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", res.StatusCode)
	}
	var m models.Message
	if err := json.NewDecoder(res.Body).Decode(&m); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if m.LocalID == "" || !m.Pending || m.Body != "hello there" {
		t.Fatalf("unexpected record: %+v", m)
	}

	res2, err := http.Get(srv.URL + "/v1/messages")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res2.Body.Close()
	var list struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
	}
	if err := json.NewDecoder(res2.Body).Decode(&list); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if list.Conversation != "conv-1" || len(list.Messages) != 1 {
		t.Fatalf("unexpected list: %+v", list)
	}
}

func TestListMessagesLimit(t *testing.T) {
	srv, ch, sess := newTestServer(t)

	ch.events <- models.Event{ServerID: "s1", Sender: "u2", Body: "first", TS: 1}
	ch.events <- models.Event{ServerID: "s2", Sender: "u2", Body: "second", TS: 2}
	waitFor(t, func() bool { return len(sess.Snapshot()) == 2 })

	fetch := func(query string) []models.Message {
		t.Helper()
		res, err := http.Get(srv.URL + "/v1/messages" + query)
		if err != nil {
			t.Fatalf("get %s: %v", query, err)
		}
		defer res.Body.Close()
		var list struct {
			Messages []models.Message `json:"messages"`
		}
		if err := json.NewDecoder(res.Body).Decode(&list); err != nil {
			t.Fatalf("decode: %v", err)
		}
		return list.Messages
	}

	got := fetch("?limit=1")
	if len(got) != 1 || got[0].ServerID != "s2" {
		t.Fatalf("limit=1 should keep the newest message, got %+v", got)
	}
	// zero and negative mean unlimited, same as the inspect command
	if got := fetch("?limit=0"); len(got) != 2 {
		t.Fatalf("limit=0 should return everything, got %+v", got)
	}
	if got := fetch("?limit=-3"); len(got) != 2 {
		t.Fatalf("negative limit should return everything, got %+v", got)
	}
}

func TestPostMessageValidation(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(`{"body":""}`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty body, got %d", res.StatusCode)
	}

	res2, err := http.Post(srv.URL+"/v1/messages", "application/json", strings.NewReader(`{broken`))
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid json, got %d", res2.StatusCode)
	}
}

func TestGetMessageByRef(t *testing.T) {
	srv, ch, sess := newTestServer(t)

	ch.events <- models.Event{ServerID: "s1", Sender: "u2", Body: "incoming", TS: 1}
	waitFor(t, func() bool {
		_, ok := sess.Lookup("s1")
		return ok
	})

	res, err := http.Get(srv.URL + "/v1/messages/s1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}

	res2, err := http.Get(srv.URL + "/v1/messages/unknown")
	if err != nil {
		t.Fatalf("get unknown: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res2.StatusCode)
	}
}

func TestDeleteMessageEndpoint(t *testing.T) {
	srv, ch, sess := newTestServer(t)

	ch.events <- models.Event{ServerID: "s1", Sender: "u1", Body: "mine", TS: 1}
	ch.events <- models.Event{ServerID: "s2", Sender: "u2", Body: "theirs", TS: 2}
	waitFor(t, func() bool {
		_, ok := sess.Lookup("s2")
		return ok
	})

	req, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/messages/s1", nil)
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", res.StatusCode)
	}
	m, _ := sess.Lookup("s1")
	if !m.Deleted || m.Body != models.TombstoneBody {
		t.Fatalf("tombstone missing: %+v", m)
	}

	// deleting someone else's message is forbidden
	req2, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/messages/s2", nil)
	res2, err := http.DefaultClient.Do(req2)
	if err != nil {
		t.Fatalf("delete foreign: %v", err)
	}
	res2.Body.Close()
	if res2.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", res2.StatusCode)
	}

	req3, _ := http.NewRequest(http.MethodDelete, srv.URL+"/v1/messages/nope", nil)
	res3, err := http.DefaultClient.Do(req3)
	if err != nil {
		t.Fatalf("delete unknown: %v", err)
	}
	res3.Body.Close()
	if res3.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", res3.StatusCode)
	}
}

func TestUnreadEndpoints(t *testing.T) {
	srv, ch, sess := newTestServer(t)

	ch.events <- models.Event{ServerID: "s1", Sender: "u2", Body: "ping", TS: 1}
	waitFor(t, func() bool { return sess.State().Unread() == 1 })

	res, err := http.Get(srv.URL + "/v1/unread")
	if err != nil {
		t.Fatalf("get unread: %v", err)
	}
	defer res.Body.Close()
	var out map[string]int
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out["unread"] != 1 {
		t.Fatalf("expected 1, got %d", out["unread"])
	}

	res2, err := http.Post(srv.URL+"/v1/unread/reset", "application/json", nil)
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	res2.Body.Close()
	if sess.State().Unread() != 0 {
		t.Fatalf("unread not reset: %d", sess.State().Unread())
	}
}

func TestConversationEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	res, err := http.Get(srv.URL + "/v1/conversation")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer res.Body.Close()
	var out struct {
		Conversation models.Conversation `json:"conversation"`
		User         string              `json:"user"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Conversation.ID != "conv-1" || out.User != "u1" {
		t.Fatalf("unexpected info: %+v", out)
	}
}
