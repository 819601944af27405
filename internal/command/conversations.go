package command

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
)

// NewConversationsCmd creates the conversations command.
func NewConversationsCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "conversations",
		Aliases: []string{"convs", "ls"},
		Short:   "List your conversations, most recent first",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			convs, err := ctx.App.Conversations.GetConversations(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, convs)
			}
			if len(convs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No conversations yet. Start one with 'nebula dm <username>'")
				return nil
			}

			me, _ := ctx.App.Auth.UserID()
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for i := range convs {
				c := &convs[i]
				unread := ""
				if c.UnreadCount > 0 {
					unread = fmt.Sprintf("(%d)", c.UnreadCount)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", shortID(c.ID), c.Title(me), unread, lastMessage(c), formatWhen(c.UpdatedAt))
			}
			return w.Flush()
		},
	}
}

func lastMessage(c *domain.ConversationWithDetails) string {
	m := c.LastMessage
	switch {
	case m == nil:
		return ""
	case m.IsDeleted:
		return "(message deleted)"
	case m.Content != nil && *m.Content != "":
		return truncate(*m.Content, 40)
	case m.MediaURL != nil:
		return "[" + string(m.Type) + "]"
	}
	return ""
}

// NewDMCmd creates the dm command.
func NewDMCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dm <username>",
		Short: "Open a one-on-one conversation",
		Long:  "Open a one-on-one conversation. An existing conversation with the user is reused.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := ctx.requireSession(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}

			ids, err := userIDs(cmd, ctx, args)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			conv, err := ctx.App.Conversations.CreateConversation(cmd.Context(), ids, false, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printCreated(cmd, ctx, conv)
		},
	}
}

// NewGroupCmd creates the group command.
func NewGroupCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "group <username>...",
		Short: "Create a group conversation",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := ctx.requireSession(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}

			name, _ := cmd.Flags().GetString("name")
			ids, err := userIDs(cmd, ctx, args)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			conv, err := ctx.App.Conversations.CreateConversation(cmd.Context(), ids, true, name)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printCreated(cmd, ctx, conv)
		},
	}

	cmd.Flags().String("name", "", "group name")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func printCreated(cmd *cobra.Command, ctx *CommandContext, conv *domain.Conversation) error {
	details, err := ctx.App.Conversations.GetConversation(cmd.Context(), conv.ID)
	if err != nil {
		return writeCommandError(cmd, err)
	}
	if ctx.JSONMode {
		return writeJSON(cmd, details)
	}

	me, _ := ctx.App.Auth.UserID()
	names := make([]string, 0, len(details.Participants))
	for _, p := range details.Participants {
		names = append(names, "@"+p.Username)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", shortID(details.ID), details.Title(me))
	fmt.Fprintf(cmd.OutOrStdout(), "participants: %s\n", strings.Join(names, ", "))
	return nil
}
