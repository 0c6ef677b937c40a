package gateway

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"ridechat/pkg/feed"
	"ridechat/pkg/logger"
	"ridechat/pkg/models"
	"ridechat/pkg/session"
	"ridechat/pkg/utils"
)

// Gateway exposes the local chat session over HTTP for embedding UIs and
// operational tooling. Every route delegates to the session; nothing here
// holds state of its own.
type Gateway struct {
	sess *session.Session
}

func New(sess *session.Session) *Gateway {
	return &Gateway{sess: sess}
}

// Register mounts the chat routes on r under the caller's prefix.
func (g *Gateway) Register(r *mux.Router) {
	r.HandleFunc("/messages", g.listMessages).Methods(http.MethodGet)
	r.HandleFunc("/messages", g.postMessage).Methods(http.MethodPost)
	r.HandleFunc("/messages/{ref}", g.getMessage).Methods(http.MethodGet)
	r.HandleFunc("/messages/{ref}", g.deleteMessage).Methods(http.MethodDelete)
	r.HandleFunc("/unread", g.getUnread).Methods(http.MethodGet)
	r.HandleFunc("/unread/reset", g.resetUnread).Methods(http.MethodPost)
	r.HandleFunc("/conversation", g.getConversation).Methods(http.MethodGet)
}

// listMessages returns the reconciled feed snapshot.
// @Summary List messages
// @Produce json
// @Param limit query int false "return only the newest N messages"
// @Success 200 {object} map[string]interface{}
// @Router /v1/messages [get]
func (g *Gateway) listMessages(w http.ResponseWriter, r *http.Request) {
	msgs := g.sess.Snapshot()
	// limit <= 0 means no cap, matching the inspect command
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		if lim, err := strconv.Atoi(limStr); err == nil && lim > 0 && lim < len(msgs) {
			msgs = msgs[len(msgs)-lim:]
		}
	}
	utils.JSONWrite(w, http.StatusOK, struct {
		Conversation string           `json:"conversation"`
		Messages     []models.Message `json:"messages"`
	}{Conversation: g.sess.Conversation(), Messages: msgs})
}

// postMessage submits a message optimistically and returns the tentative
// record. A 202 means the record is in the feed but delivery failed and will
// rely on the next reconnect.
// @Summary Send a message
// @Accept json
// @Produce json
// @Success 201 {object} models.Message
// @Router /v1/messages [post]
func (g *Gateway) postMessage(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Body    string `json:"body"`
		ReplyTo string `json:"reply_to"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.JSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	m, err := g.sess.Submit(r.Context(), req.Body, req.ReplyTo)
	switch {
	case errors.Is(err, session.ErrEmptyBody):
		utils.JSONError(w, http.StatusBadRequest, "empty message body")
		return
	case errors.Is(err, session.ErrRateLimited):
		utils.JSONError(w, http.StatusTooManyRequests, "rate limited")
		return
	case err != nil:
		logger.Warn("gateway_send_degraded", "local_id", m.LocalID, "error", err)
		utils.JSONWrite(w, http.StatusAccepted, m)
		return
	}
	utils.JSONWrite(w, http.StatusCreated, m)
}

// getMessage looks up a single record by server id or local id.
// @Summary Get a message
// @Produce json
// @Success 200 {object} models.Message
// @Router /v1/messages/{ref} [get]
func (g *Gateway) getMessage(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	m, ok := g.sess.Lookup(ref)
	if !ok {
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	}
	utils.JSONWrite(w, http.StatusOK, m)
}

// deleteMessage tombstones a message locally and fires the server delete.
// @Summary Delete a message
// @Produce json
// @Success 200 {object} map[string]string
// @Router /v1/messages/{ref} [delete]
func (g *Gateway) deleteMessage(w http.ResponseWriter, r *http.Request) {
	ref := mux.Vars(r)["ref"]
	err := g.sess.Delete(r.Context(), ref)
	switch {
	case errors.Is(err, feed.ErrNotFound):
		utils.JSONError(w, http.StatusNotFound, "message not found")
		return
	case errors.Is(err, session.ErrNotOwner):
		utils.JSONError(w, http.StatusForbidden, "not the message owner")
		return
	case err != nil:
		utils.JSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	logger.Info("message_deleted", "ref", ref)
	utils.JSONWrite(w, http.StatusOK, map[string]string{"status": "deleted", "ref": ref})
}

// getUnread returns the session unread counter.
// @Summary Unread count
// @Produce json
// @Success 200 {object} map[string]int
// @Router /v1/unread [get]
func (g *Gateway) getUnread(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") == "true" {
		if err := g.sess.RefreshUnread(r.Context()); err != nil {
			logger.Warn("unread_refresh_failed", "error", err)
		}
	}
	utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": g.sess.State().Unread()})
}

// resetUnread clears the unread counter, as entering the chat screen does.
// @Summary Reset unread count
// @Produce json
// @Success 200 {object} map[string]int
// @Router /v1/unread/reset [post]
func (g *Gateway) resetUnread(w http.ResponseWriter, r *http.Request) {
	g.sess.State().ResetUnread()
	utils.JSONWrite(w, http.StatusOK, map[string]int{"unread": 0})
}

// getConversation reports the active conversation and identity.
// @Summary Conversation info
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Router /v1/conversation [get]
func (g *Gateway) getConversation(w http.ResponseWriter, r *http.Request) {
	utils.JSONWrite(w, http.StatusOK, struct {
		Conversation models.Conversation `json:"conversation"`
		User         string              `json:"user"`
	}{
		Conversation: g.sess.ConversationInfo(),
		User:         g.sess.State().UserID(),
	})
}
