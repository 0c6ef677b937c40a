package models

// TombstoneBody replaces the body of a deleted message. The record itself
// stays in place so ordering and reply previews keep working.
const TombstoneBody = "This message was deleted"

type Message struct {
	// ServerID is assigned by the backend once the message is persisted;
	// empty while the message is only known locally.
	ServerID string `json:"server_id,omitempty"`
	// LocalID is the client-generated correlation token; set for messages
	// authored on this device, may be empty for messages from other members.
	LocalID      string `json:"local_id,omitempty"`
	Conversation string `json:"conversation,omitempty"`
	Sender       string `json:"sender"`
	Body         string `json:"body"`
	// TS is nanoseconds since epoch; client-assigned while pending,
	// server-assigned once confirmed.
	TS      int64  `json:"ts"`
	ReplyTo string `json:"reply_to,omitempty"`
	// ReplyPreview is a denormalized copy of the referenced message's body,
	// resolved at merge time when the server omits it.
	ReplyPreview string `json:"reply_preview,omitempty"`
	Pending      bool   `json:"pending,omitempty"`
	Deleted      bool   `json:"deleted,omitempty"`
}

// Ref reports the preferred stable reference for the message: the server id
// once assigned, otherwise the local token.
func (m Message) Ref() string {
	if m.ServerID != "" {
		return m.ServerID
	}
	return m.LocalID
}

type Conversation struct {
	ID     string `json:"id"`
	RideID string `json:"ride_id,omitempty"`
	// Peer is the other member's identity id.
	Peer      string `json:"peer,omitempty"`
	CreatedTS int64  `json:"created_ts,omitempty"`
	UpdatedTS int64  `json:"updated_ts,omitempty"`
}
