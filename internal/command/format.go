package command

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/service"
)

var (
	errNoMatch   = errors.New("no match")
	errAmbiguous = errors.New("ambiguous reference")
)

// formatWhen renders t relative to now, switching to a date after a week.
func formatWhen(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	if time.Since(t) > 7*24*time.Hour {
		return t.Format("Jan 2 2006")
	}
	return humanize.Time(t)
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}

func truncate(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

// findUser resolves a username, with or without a leading @. Matching is
// exact and case-insensitive.
func findUser(ctx context.Context, users *service.UserService, name string) (*domain.Profile, error) {
	name = strings.TrimPrefix(strings.TrimSpace(name), "@")
	profiles, err := users.Search(ctx, name)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		if strings.EqualFold(profiles[i].Username, name) {
			return &profiles[i], nil
		}
	}
	return nil, fmt.Errorf("@%s: %w", name, service.ErrUserNotFound)
}

// findConversation resolves ref against the signed-in user's conversations.
// ref is an id, an id prefix, a conversation title or an @username.
func findConversation(cmd *cobra.Command, cc *CommandContext, ref string) (*domain.ConversationWithDetails, error) {
	convs, err := cc.App.Conversations.GetConversations(cmd.Context())
	if err != nil {
		return nil, err
	}
	me, _ := cc.App.Auth.UserID()
	ref = strings.TrimSpace(ref)

	if id, err := uuid.Parse(ref); err == nil {
		for i := range convs {
			if convs[i].ID == id {
				return &convs[i], nil
			}
		}
		return nil, fmt.Errorf("conversation %s: %w", ref, service.ErrConversationNotFound)
	}

	var matches []int
	for i := range convs {
		if conversationMatches(&convs[i], me, ref) {
			matches = append(matches, i)
		}
	}
	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("conversation %q: %w", ref, errNoMatch)
	case 1:
		return &convs[matches[0]], nil
	default:
		return nil, fmt.Errorf("conversation %q matches %d conversations: %w", ref, len(matches), errAmbiguous)
	}
}

func conversationMatches(c *domain.ConversationWithDetails, me uuid.UUID, ref string) bool {
	if strings.HasPrefix(c.ID.String(), strings.ToLower(ref)) {
		return true
	}
	if strings.EqualFold(c.Title(me), ref) {
		return true
	}
	if name, ok := strings.CutPrefix(ref, "@"); ok && !c.IsGroup {
		for _, p := range c.Participants {
			if p.ID != me && strings.EqualFold(p.Username, name) {
				return true
			}
		}
	}
	return false
}

func messageLine(m *domain.MessageWithSender, me uuid.UUID) string {
	name := "unknown"
	if m.Sender != nil {
		name = m.Sender.DisplayName()
	}
	if m.SenderID == me {
		name = "you"
	}

	var body string
	switch {
	case m.IsDeleted:
		body = "(message deleted)"
	case m.Content != nil && *m.Content != "":
		body = *m.Content
	}
	if m.MediaURL != nil && !m.IsDeleted {
		media := fmt.Sprintf("[%s] %s", m.Type, *m.MediaURL)
		if body == "" {
			body = media
		} else {
			body += " " + media
		}
	}
	if m.IsEdited && !m.IsDeleted {
		body += " (edited)"
	}
	return fmt.Sprintf("%s %s %s: %s", shortID(m.ID), m.CreatedAt.Local().Format("15:04"), name, body)
}
