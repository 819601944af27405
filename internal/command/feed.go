package command

import (
	"context"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/media"
)

// NewFeedCmd creates the feed command.
func NewFeedCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feed",
		Short: "Show the newest signals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			follow, _ := cmd.Flags().GetBool("follow")
			if !follow {
				signals, err := ctx.App.Signals.GetSignals(cmd.Context())
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if ctx.JSONMode {
					return writeJSON(cmd, signals)
				}
				if len(signals) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No signals yet")
				}
				for i := len(signals) - 1; i >= 0; i-- {
					fmt.Fprintln(cmd.OutOrStdout(), signalLine(&signals[i]))
				}
				return nil
			}

			return followFeed(cmd, ctx)
		},
	}

	cmd.Flags().BoolP("follow", "f", false, "keep printing new signals as they arrive")
	return cmd
}

func followFeed(cmd *cobra.Command, ctx *CommandContext) error {
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

	feed, err := ctx.App.Feed(cmd.Context())
	if err != nil {
		return writeCommandError(cmd, err)
	}
	if err := feed.Start(cmd.Context()); err != nil {
		fmt.Fprintf(cmd.ErrOrStderr(), "Warning: feed unavailable: %s\n", err)
	}
	defer feed.Stop()

	seen := make(map[uuid.UUID]bool)
	flush := func() {
		signals := feed.Signals()
		for i := len(signals) - 1; i >= 0; i-- {
			if seen[signals[i].ID] {
				continue
			}
			seen[signals[i].ID] = true
			if ctx.JSONMode {
				_ = writeJSON(cmd, signals[i])
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), signalLine(&signals[i]))
		}
	}

	flush()
	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case <-feed.Updates():
			flush()
		}
	}
}

func signalLine(s *domain.Signal) string {
	author := "unknown"
	if s.Author != nil {
		author = "@" + s.Author.Username
	}
	line := fmt.Sprintf("%s [%s] %s: %s", formatWhen(s.CreatedAt), s.Type, author, s.Content)
	if s.MediaURL != nil {
		line += " " + *s.MediaURL
	}
	return line
}

// NewSignalCmd creates the signal command.
func NewSignalCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signal <content>",
		Short: "Broadcast a signal to the feed",
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

			category, _ := cmd.Flags().GetString("category")
			var mediaURL string
			if attach, _ := cmd.Flags().GetString("attach"); attach != "" {
				if mediaURL, err = uploadPath(cmd, ctx, attach, media.BucketSignals); err != nil {
					return writeCommandError(cmd, err)
				}
			}

			sig, err := ctx.App.Signals.BroadcastSignal(cmd.Context(), strings.Join(args, " "), domain.SignalCategory(category), mediaURL)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, sig)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Broadcast %s signal %s\n", sig.Type, shortID(sig.ID))
			return nil
		},
	}

	cmd.Flags().StringP("category", "c", string(domain.SignalExploration), "exploration, combat, intel, trade or diplomacy")
	cmd.Flags().String("attach", "", "image to upload with the signal")
	return cmd
}

// NewCallsCmd creates the calls command.
func NewCallsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calls",
		Short: "Show your call history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			calls, err := ctx.App.Calls.GetCalls(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, calls)
			}
			if len(calls) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No calls yet")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			for _, c := range calls {
				fmt.Fprintf(w, "%s\t%s\t%s\n", c.Type, c.CallerName, formatWhen(c.CreatedAt))
			}
			return w.Flush()
		},
	}

	cmd.AddCommand(newCallsAddCmd())
	return cmd
}

func newCallsAddCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "add <caller-name>",
		Short: "Log a call",
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

			callType, _ := cmd.Flags().GetString("type")
			var receiverID *uuid.UUID
			if receiver, _ := cmd.Flags().GetString("receiver"); receiver != "" {
				p, err := findUser(cmd.Context(), ctx.App.Users, receiver)
				if err != nil {
					return writeCommandError(cmd, err)
				}
				receiverID = &p.ID
			}

			call, err := ctx.App.Calls.AddCall(cmd.Context(), args[0], domain.CallType(callType), receiverID, "")
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if ctx.JSONMode {
				return writeJSON(cmd, call)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged %s call with %s\n", call.Type, call.CallerName)
			return nil
		},
	}

	cmd.Flags().StringP("type", "t", string(domain.CallOutgoing), "incoming, outgoing or missed")
	cmd.Flags().String("receiver", "", "username of the other party")
	return cmd
}
