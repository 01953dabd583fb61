// Package transport defines the chat-platform abstraction the bot talks
// through. The concrete Telegram adapter lives in transport/telegram.
package transport

import "context"

// Update is one incoming chat event.
type Update struct {
	Message *Message
}

// Message is a normalized incoming chat message.
type Message struct {
	ID           int
	ChatID       int64
	ThreadID     int // forum topic thread id (0 if none)
	FromID       int64
	FromUsername string
	Text         string
}

// ChatTarget addresses an outgoing message.
type ChatTarget struct {
	ChatID   int64
	ThreadID int
}

// MessageRef identifies a sent message.
type MessageRef struct {
	ChatID    int64
	ThreadID  int
	MessageID int
}

// SendOptions tweaks outgoing messages.
type SendOptions struct {
	ParseMode      string
	DisablePreview bool
	ReplyTo        int // message id to reply to (0 for none)
}

// Adapter is a chat platform connection. Start pumps incoming updates into
// out until the context is cancelled or Stop is called.
type Adapter interface {
	Start(ctx context.Context, out chan<- Update) error
	Stop(ctx context.Context) error

	SendText(ctx context.Context, to ChatTarget, text string, opt *SendOptions) (MessageRef, error)
}
