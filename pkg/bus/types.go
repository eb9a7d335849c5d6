package bus

// InboundMessage is an operator message arriving from a channel (Telegram,
// CLI) on its way to the gateway.
type InboundMessage struct {
	Channel   string            `json:"channel"`
	SenderID  string            `json:"sender_id"`
	ChatID    string            `json:"chat_id"`
	Content   string            `json:"content"`
	MessageID string            `json:"message_id,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// OutboundMessage is gateway output headed back to a channel: command
// replies, mesh traffic notifications, status lines. An empty Channel
// broadcasts to every running channel.
type OutboundMessage struct {
	Channel string `json:"channel"`
	ChatID  string `json:"chat_id"`
	Content string `json:"content"`
}
