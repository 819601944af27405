package domain

import (
	"time"

	"github.com/google/uuid"
)

type ParticipantRole string

const (
	RoleAdmin  ParticipantRole = "admin"
	RoleMember ParticipantRole = "member"
)

type Conversation struct {
	ID        uuid.UUID  `json:"id"`
	Name      *string    `json:"name"`
	IsGroup   bool       `json:"is_group"`
	AvatarURL *string    `json:"avatar_url"`
	CreatedBy *uuid.UUID `json:"created_by"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

type Participant struct {
	ConversationID uuid.UUID       `json:"conversation_id"`
	UserID         uuid.UUID       `json:"user_id"`
	Role           ParticipantRole `json:"role"`
	JoinedAt       time.Time       `json:"joined_at"`
	LastReadAt     time.Time       `json:"last_read_at"`
}

// ParticipantProfile is a participant row joined with its profile.
type ParticipantProfile struct {
	Participant
	Profile Profile `json:"profile"`
}

type ConversationWithDetails struct {
	Conversation
	Participants []Profile `json:"participants"`
	LastMessage  *Message  `json:"last_message,omitempty"`
	UnreadCount  int       `json:"unread_count"`
}

// Title returns the conversation name, or for a one-on-one conversation the
// display name of the participant that is not viewer.
func (c *ConversationWithDetails) Title(viewer uuid.UUID) string {
	if c.Name != nil && *c.Name != "" {
		return *c.Name
	}
	for i := range c.Participants {
		if c.Participants[i].ID != viewer {
			return c.Participants[i].DisplayName()
		}
	}
	return "Unknown"
}
