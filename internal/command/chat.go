package command

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/live"
	"github.com/vedran77/nebula/internal/media"
)

// typingInterval limits how often typing signals are sent while input keeps
// arriving.
const typingInterval = 2 * time.Second

// NewChatCmd creates the chat command.
func NewChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat <conversation>",
		Short: "Open a conversation and follow it live",
		Long: `Open a conversation and follow it live.

The conversation is an id, an id prefix, a title or an @username.
Each input line is sent as a message. Other commands:
  /edit <id> <text>   edit one of your messages
  /delete <id>        delete one of your messages
  /attach <file>      upload a file and send it
  /quit               leave`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := ctx.requireSession(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}

			conv, err := findConversation(cmd, ctx, args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}

			sync, err := ctx.App.Synchronizer(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer sync.Clear()

			if err := sync.Select(cmd.Context(), conv.ID); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "Warning: history unavailable: %s\n", err)
			}

			message, _ := cmd.Flags().GetString("message")
			attach, _ := cmd.Flags().GetString("attach")
			if message != "" || attach != "" {
				return sendOnce(cmd, ctx, sync, message, attach)
			}

			if err := ctx.App.Session.Init(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := ctx.App.Session.Close(closeCtx); err != nil {
					ctx.App.Log.Warn("going offline", "error", err)
				}
			}()

			me, _ := ctx.App.Auth.UserID()
			fmt.Fprintf(cmd.OutOrStdout(), "== %s ==\n", conv.Title(me))
			s := &chatSession{cmd: cmd, app: ctx, sync: sync, me: me, seen: make(map[uuid.UUID]string)}
			return s.run(cmd.Context(), cmd.InOrStdin())
		},
	}

	cmd.Flags().StringP("message", "m", "", "send one message and exit")
	cmd.Flags().String("attach", "", "file to upload and send, with --message as caption")
	return cmd
}

func sendOnce(cmd *cobra.Command, ctx *CommandContext, sync *live.Synchronizer, content, attach string) error {
	var mediaURL string
	if attach != "" {
		url, err := uploadPath(cmd, ctx, attach, media.BucketChatMedia)
		if err != nil {
			return writeCommandError(cmd, err)
		}
		mediaURL = url
	}

	msg, err := sync.SendMessage(cmd.Context(), content, mediaURL)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	if ctx.JSONMode {
		return writeJSON(cmd, msg)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Sent %s\n", shortID(msg.ID))
	return nil
}

type chatSession struct {
	cmd  *cobra.Command
	app  *CommandContext
	sync *live.Synchronizer
	me   uuid.UUID

	// seen maps printed messages to the line they were printed as.
	seen       map[uuid.UUID]string
	typing     string
	lastTyping time.Time
}

func (s *chatSession) run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	s.render(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-s.sync.Updates():
			s.render(ctx)
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if quit := s.handle(ctx, line); quit {
				return nil
			}
		}
	}
}

// render prints messages that are new or changed since they were last
// printed, and the typing indicator when it changes.
func (s *chatSession) render(ctx context.Context) {
	out := s.cmd.OutOrStdout()
	msgs := s.sync.Messages()
	for i := range msgs {
		m := &msgs[i]
		line := messageLine(m, s.me)
		prev, printed := s.seen[m.ID]
		if printed && prev == line {
			continue
		}
		s.seen[m.ID] = line
		if printed {
			fmt.Fprintf(out, "~ %s\n", line)
			continue
		}
		fmt.Fprintln(out, line)
		if m.SenderID != s.me && !m.IsDeleted {
			if err := s.sync.MarkRead(ctx, m.ID); err != nil {
				s.app.App.Log.Debug("marking message read", "message_id", m.ID, "error", err)
			}
		}
	}

	typing := s.typingLine()
	if typing != s.typing {
		s.typing = typing
		if typing != "" {
			fmt.Fprintln(out, typing)
		}
	}
}

func (s *chatSession) typingLine() string {
	ids := s.sync.TypingUsers()
	if len(ids) == 0 {
		return ""
	}
	names := make([]string, 0, len(ids))
	for _, id := range ids {
		names = append(names, s.nameOf(id))
	}
	if len(names) == 1 {
		return "… " + names[0] + " is typing"
	}
	return "… " + strings.Join(names, ", ") + " are typing"
}

func (s *chatSession) nameOf(id uuid.UUID) string {
	for _, m := range s.sync.Messages() {
		if m.SenderID == id && m.Sender != nil {
			return m.Sender.DisplayName()
		}
	}
	if p, err := s.app.App.Users.GetProfile(s.cmd.Context(), id); err == nil {
		return p.DisplayName()
	}
	return "someone"
}

// handle processes one input line and reports whether the user quit.
func (s *chatSession) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	verb, rest, _ := strings.Cut(line, " ")
	var err error
	switch verb {
	case "/quit", "/exit":
		return true
	case "/edit":
		idRef, content, _ := strings.Cut(strings.TrimSpace(rest), " ")
		var id uuid.UUID
		if id, err = s.resolve(idRef); err == nil {
			err = s.sync.EditMessage(ctx, id, content)
		}
	case "/delete":
		var id uuid.UUID
		if id, err = s.resolve(strings.TrimSpace(rest)); err == nil {
			err = s.sync.DeleteMessage(ctx, id)
		}
	case "/attach":
		var url string
		if url, err = uploadPath(s.cmd, s.app, strings.TrimSpace(rest), media.BucketChatMedia); err == nil {
			_, err = s.sync.SendMessage(ctx, "", url)
		}
	default:
		s.signalTyping(ctx)
		_, err = s.sync.SendMessage(ctx, line, "")
	}
	if err != nil {
		fmt.Fprintf(s.cmd.ErrOrStderr(), "Error: %s\n", err)
	}
	return false
}

func (s *chatSession) signalTyping(ctx context.Context) {
	if time.Since(s.lastTyping) < typingInterval {
		return
	}
	s.lastTyping = time.Now()
	if err := s.sync.SendTyping(ctx); err != nil {
		s.app.App.Log.Debug("sending typing signal", "error", err)
	}
}

// resolve finds one of the own messages whose id starts with ref.
func (s *chatSession) resolve(ref string) (uuid.UUID, error) {
	ref = strings.ToLower(ref)
	if ref == "" {
		return uuid.Nil, fmt.Errorf("message id is required")
	}
	var found []domain.MessageWithSender
	for _, m := range s.sync.Messages() {
		if strings.HasPrefix(m.ID.String(), ref) {
			found = append(found, m)
		}
	}
	switch len(found) {
	case 0:
		return uuid.Nil, fmt.Errorf("message %s: %w", ref, live.ErrUnknownMessage)
	case 1:
		return found[0].ID, nil
	default:
		return uuid.Nil, fmt.Errorf("message %s: %w", ref, errAmbiguous)
	}
}
