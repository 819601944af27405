package domain

import (
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

type MessageType string

const (
	MessageText  MessageType = "text"
	MessageImage MessageType = "image"
	MessageVideo MessageType = "video"
	MessageAudio MessageType = "audio"
	MessageFile  MessageType = "file"
)

type Message struct {
	ID             uuid.UUID   `json:"id"`
	ConversationID uuid.UUID   `json:"conversation_id"`
	SenderID       uuid.UUID   `json:"sender_id"`
	Content        *string     `json:"content"`
	Type           MessageType `json:"message_type"`
	MediaURL       *string     `json:"media_url"`
	ReplyTo        *uuid.UUID  `json:"reply_to"`
	IsEdited       bool        `json:"is_edited"`
	IsDeleted      bool        `json:"is_deleted"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

type MessageWithSender struct {
	Message
	Sender *Profile      `json:"sender,omitempty"`
	Reads  []MessageRead `json:"reads,omitempty"`
}

type MessageRead struct {
	MessageID uuid.UUID `json:"message_id"`
	UserID    uuid.UUID `json:"user_id"`
	ReadAt    time.Time `json:"read_at"`
}

var mediaExtensions = map[string]MessageType{
	".jpg": MessageImage, ".jpeg": MessageImage, ".png": MessageImage, ".gif": MessageImage, ".webp": MessageImage,
	".mp4": MessageVideo, ".webm": MessageVideo, ".mov": MessageVideo,
	".mp3": MessageAudio, ".ogg": MessageAudio, ".wav": MessageAudio, ".m4a": MessageAudio,
}

// MessageTypeForMedia guesses the message type from a media reference's
// extension. Unknown extensions are treated as files.
func MessageTypeForMedia(ref string) MessageType {
	if i := strings.IndexAny(ref, "?#"); i >= 0 {
		ref = ref[:i]
	}
	if t, ok := mediaExtensions[strings.ToLower(path.Ext(ref))]; ok {
		return t
	}
	return MessageFile
}
