package models

import "time"

// AssistantID is the reserved identity that addresses assistant-side
// messages in a conversation. IsAI remains the source of truth for
// authorship; the sentinel only exists for conversation lookups.
const AssistantID = "ai"

// Message is one stored chat message. Content is encrypted at rest;
// reads through the message service return the decrypted form.
// Messages are immutable once created.
type Message struct {
	ID         int64     `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Content    string    `json:"content"`
	IsAI       bool      `json:"isAI"`
	CreatedAt  time.Time `json:"createdAt"`
}
