package command

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
)

// NewUsersCmd creates the users command group.
func NewUsersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "Find people",
	}
	cmd.AddCommand(newUsersSearchCmd(), newUsersOnlineCmd())
	return cmd
}

func newUsersSearchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <query>",
		Short: "Search users by username or name",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			profiles, err := ctx.App.Users.Search(cmd.Context(), args[0])
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printProfiles(cmd, ctx, profiles)
		},
	}
}

func newUsersOnlineCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "online",
		Short: "List users that are online",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			profiles, err := ctx.App.Users.ListOnline(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			return printProfiles(cmd, ctx, profiles)
		},
	}
}

func printProfiles(cmd *cobra.Command, ctx *CommandContext, profiles []domain.Profile) error {
	if ctx.JSONMode {
		return writeJSON(cmd, profiles)
	}
	if len(profiles) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No users found")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for i := range profiles {
		p := &profiles[i]
		fmt.Fprintf(w, "@%s\t%s\t%s\n", p.Username, p.DisplayName(), presence(p))
	}
	return w.Flush()
}
