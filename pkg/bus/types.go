package bus

import "strings"

// InboundMessage is one chat message as delivered by a channel adapter.
type InboundMessage struct {
	Channel    string `json:"channel"`
	RequestID  string `json:"request_id"`
	MessageID  string `json:"message_id"`
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderName string `json:"sender_name,omitempty"`
	IsBot      bool   `json:"is_bot"`
	Content    string `json:"content"`
}

// Mention renders the sender the way replies address them. Adapters store the
// platform's own handle in SenderName.
func (m InboundMessage) Mention() string {
	if name := strings.TrimSpace(m.SenderName); name != "" {
		return name
	}
	if id := strings.TrimSpace(m.SenderID); id != "" {
		return "@" + id
	}
	return "there"
}
