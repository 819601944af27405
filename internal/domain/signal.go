package domain

import (
	"time"

	"github.com/google/uuid"
)

type SignalCategory string

const (
	SignalExploration SignalCategory = "exploration"
	SignalCombat      SignalCategory = "combat"
	SignalIntel       SignalCategory = "intel"
	SignalTrade       SignalCategory = "trade"
	SignalDiplomacy   SignalCategory = "diplomacy"
)

func (c SignalCategory) Valid() bool {
	switch c {
	case SignalExploration, SignalCombat, SignalIntel, SignalTrade, SignalDiplomacy:
		return true
	}
	return false
}

// Signal is a post on the public feed.
type Signal struct {
	ID        uuid.UUID      `json:"id"`
	UserID    uuid.UUID      `json:"user_id"`
	Content   string         `json:"content"`
	Type      SignalCategory `json:"type"`
	MediaURL  *string        `json:"media_url"`
	CreatedAt time.Time      `json:"created_at"`
	// Joined fields
	Author *SignalAuthor `json:"user,omitempty"`
}

type SignalAuthor struct {
	Username  string  `json:"username"`
	FullName  *string `json:"full_name"`
	AvatarURL *string `json:"avatar_url"`
}
