// Package domain holds the wire- and storage-level shapes shared across
// every pipeline stage: conversations, messages, events, and jobs.
package domain

import (
	"encoding/json"
	"time"
)

type ConversationKind string

const (
	ConversationPrivate ConversationKind = "private"
	ConversationGroup   ConversationKind = "group"
)

type MessageType string

const (
	MessageText     MessageType = "text"
	MessageFile     MessageType = "file"
	MessageLocation MessageType = "location"
)

type MessageStatus string

const (
	StatusSent      MessageStatus = "SENT"
	StatusDelivered MessageStatus = "DELIVERED"
	StatusRead      MessageStatus = "READ"
)

// statusRank gives the total order SENT < DELIVERED < READ used to enforce
// monotonicity.
var statusRank = map[MessageStatus]int{
	StatusSent:      0,
	StatusDelivered: 1,
	StatusRead:      2,
}

// StatusAtLeast reports whether `have` is at or past `want` in the
// SENT <= DELIVERED <= READ partial order.
func StatusAtLeast(have, want MessageStatus) bool {
	return statusRank[have] >= statusRank[want]
}

// MaxStatus returns the later of two statuses under the same ordering,
// used to implement update-status as an unconditional MAX.
func MaxStatus(a, b MessageStatus) MessageStatus {
	if statusRank[b] > statusRank[a] {
		return b
	}
	return a
}

// AllChannelsSentinel is the requested-channels value meaning "every
// identity this recipient has".
const AllChannelsSentinel = "all"

// DeliveryChannel is the always-present internal socket channel every
// user is implicitly bound to.
const DeliveryChannel = "delivery"

// Conversation is owned by the metadata store (component A).
type Conversation struct {
	ID           string
	Kind         ConversationKind
	Metadata     json.RawMessage
	LastSequence int64
}

// ConversationSummary is the shape returned by GetUserConversations.
type ConversationSummary struct {
	ID           string
	Kind         ConversationKind
	Metadata     json.RawMessage
	LastSequence int64
}

// UserProfile is directory data mirrored by the out-of-scope
// directory-projection consumer; ListUsers reads it.
type UserProfile struct {
	UserID    string
	Name      string
	Username  string
	AvatarURL string
}

// Attachment is one opaque attachment entry inside a message's
// attachment blob.
type Attachment struct {
	Kind string          `json:"kind"`
	URL  string          `json:"url,omitempty"`
	Meta json.RawMessage `json:"meta,omitempty"`
}

// SubmittedEvent is produced to the `submit` topic.
type SubmittedEvent struct {
	MessageID         string          `json:"message_id"`
	ConversationID    string          `json:"conversation_id"`
	SenderID          string          `json:"sender_id"`
	Timestamp         time.Time       `json:"timestamp"`
	Type              MessageType     `json:"type"`
	Content           string          `json:"content"`
	Attachments       json.RawMessage `json:"attachments,omitempty"`
	Status            MessageStatus   `json:"status"`
	RequestedChannels []string        `json:"requested_channels,omitempty"`
}

// PersistedEvent is a SubmittedEvent enriched with its assigned
// sequence, produced to the `persisted` topic by the ingestion worker.
type PersistedEvent struct {
	SubmittedEvent
	Sequence int64 `json:"sequence"`
}

// DeliveryJob targets one (recipient, channel) pair.
type DeliveryJob struct {
	JobID          string         `json:"job_id"`
	MessageID      string         `json:"message_id"`
	ConversationID string         `json:"conversation_id"`
	RecipientID    string         `json:"recipient_id"`
	Channel        string         `json:"channel"`
	Payload        PersistedEvent `json:"payload"`
}

// StatusEvent is produced to the `status` topic.
type StatusEvent struct {
	EventID        string        `json:"event_id"`
	MessageID      string        `json:"message_id"`
	ConversationID string        `json:"conversation_id"`
	Sequence       int64         `json:"sequence"`
	UserID         string        `json:"user_id"`
	SenderID       string        `json:"sender_id"`
	NewStatus      MessageStatus `json:"new_status"`
	Timestamp      time.Time     `json:"timestamp"`
}

// PushNotificationEvent is produced to the `push` topic when a recipient
// has no live socket subscription.
type PushNotificationEvent struct {
	NotificationID string          `json:"notification_id"`
	RecipientID    string          `json:"recipient_id"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Data           json.RawMessage `json:"data,omitempty"`
	Timestamp      time.Time       `json:"timestamp"`
}

// StatusUpdateNotification is the JSON payload the status processor
// publishes on the sender's pub/sub channel.
type StatusUpdateNotification struct {
	Type           string        `json:"type"`
	ConversationID string        `json:"conversation_id"`
	MessageID      string        `json:"message_id"`
	Status         MessageStatus `json:"status"`
	ReadBy         string        `json:"read_by"`
	Timestamp      time.Time     `json:"timestamp"`
}

// MessageRow is owned by the message log.
type MessageRow struct {
	ConversationID string
	Sequence       int64
	MessageID      string
	SenderID       string
	Content        string
	Type           MessageType
	Status         MessageStatus
	Timestamp      time.Time
	Attachments    json.RawMessage
}

// InboxRow is the per-recipient copy written by the delivery worker.
type InboxRow struct {
	UserID         string
	ArrivalTime    time.Time
	ConversationID string
	MessageID      string
	Sequence       int64
	Content        string
	SenderID       string
	Status         MessageStatus
}
