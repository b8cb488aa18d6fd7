// Package channels defines the transport contract for ZipClaw. Each chat
// transport implements Channel to deliver inbound events and send replies
// in a unified way; the bot core never sees platform-specific types.
package channels

import (
	"context"
	"fmt"
	"time"
)

// MessageType identifies the kind of inbound event.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageDocument MessageType = "document"
)

// Channel is the interface every transport must implement.
type Channel interface {
	// Name returns the channel identifier (e.g. "telegram").
	Name() string

	// Connect establishes the connection to the messaging platform.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// Send sends a message to the specified recipient.
	Send(ctx context.Context, to string, message *OutgoingMessage) error

	// Receive returns a Go channel that emits incoming messages.
	// The stream must be closed when the Connect context is cancelled.
	Receive() <-chan *IncomingMessage

	// IsConnected returns true if the channel is connected.
	IsConnected() bool

	// Health returns the channel health status.
	Health() HealthStatus
}

// MediaChannel extends Channel with document upload/download support.
type MediaChannel interface {
	Channel

	// SendDocument sends a file to the recipient.
	SendDocument(ctx context.Context, to string, doc *Document) error

	// DownloadDocument fetches the bytes of an inbound document.
	DownloadDocument(ctx context.Context, msg *IncomingMessage) ([]byte, error)
}

// IncomingMessage is a transport-neutral inbound event.
type IncomingMessage struct {
	// ID is the message identifier in the source channel.
	ID string

	// Channel identifies the source transport.
	Channel string

	// From is the sender identity on the platform; this is the
	// session key on the bot side.
	From string

	// FromName is the sender display name, if available.
	FromName string

	// ChatID is the conversation identifier replies go to.
	ChatID string

	// Type is the event kind.
	Type MessageType

	// Content is the text content (or caption for documents).
	Content string

	// Document describes an attached file (Type == MessageDocument).
	Document *DocumentInfo

	// Timestamp is when the message was sent.
	Timestamp time.Time
}

// DocumentInfo describes an inbound file attachment. FileRef is the
// platform handle the transport uses to download the bytes.
type DocumentInfo struct {
	FileRef  string
	Filename string
	MimeType string
	Size     int64
}

// OutgoingMessage is a transport-neutral reply.
type OutgoingMessage struct {
	// Content is the text content of the message.
	Content string

	// Keyboard holds reply-keyboard rows of button labels. Transports
	// without native keyboards ignore it.
	Keyboard [][]string

	// RemoveKeyboard hides a previously shown keyboard.
	RemoveKeyboard bool
}

// Document is an outbound file.
type Document struct {
	Filename string
	Data     []byte
	Caption  string
}

// HealthStatus reports the health of a channel.
type HealthStatus struct {
	Connected     bool
	LastMessageAt time.Time
	ErrorCount    int
}

// Errors.
var (
	ErrChannelDisconnected = fmt.Errorf("channel is not connected")
	ErrDownloadFailed      = fmt.Errorf("failed to download document")
)
