package domain

import (
	"time"

	"github.com/google/uuid"
)

type CallType string

const (
	CallIncoming CallType = "incoming"
	CallOutgoing CallType = "outgoing"
	CallMissed   CallType = "missed"
)

func (t CallType) Valid() bool {
	switch t {
	case CallIncoming, CallOutgoing, CallMissed:
		return true
	}
	return false
}

type CallLog struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	ReceiverID      *uuid.UUID `json:"receiver_id"`
	CallerName      string     `json:"caller_name"`
	CallerAvatarURL *string    `json:"caller_avatar_url"`
	Type            CallType   `json:"type"`
	CreatedAt       time.Time  `json:"created_at"`
}
