package command

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/app"
	"github.com/vedran77/nebula/internal/config"
	"github.com/vedran77/nebula/internal/logging"
)

const AppName = "nebula"

// Version is overwritten at build time using -ldflags.
var Version = "dev"

// OpenFunc builds the app a command runs against and the function that
// releases it.
type OpenFunc func(ctx context.Context, cmd *cobra.Command) (*app.App, func() error, error)

type openerKey struct{}

func NewRootCmd(version string, open OpenFunc) *cobra.Command {
	if open == nil {
		open = openFromEnv
	}

	cmd := &cobra.Command{
		Use:           AppName,
		Short:         "Nebula - real-time chat from the terminal",
		Long:          "Nebula is a terminal client for the nebula chat backend: conversations, live chat, signals and calls.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cmd.SetContext(context.WithValue(cmd.Context(), openerKey{}, open))
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	cmd.Version = version
	cmd.SetVersionTemplate(AppName + " version {{.Version}}\n")
	cmd.SetOut(os.Stdout)
	cmd.SetErr(os.Stderr)

	cmd.PersistentFlags().Bool("json", false, "output in JSON format")
	cmd.PersistentFlags().Bool("memory", false, "run against an in-process backend (nothing is persisted)")

	cmd.AddCommand(
		NewSignUpCmd(),
		NewSignInCmd(),
		NewSignOutCmd(),
		NewWhoamiCmd(),
		NewProfileCmd(),
		NewUsersCmd(),
		NewConversationsCmd(),
		NewDMCmd(),
		NewGroupCmd(),
		NewChatCmd(),
		NewFeedCmd(),
		NewSignalCmd(),
		NewCallsCmd(),
		NewUploadCmd(),
	)

	return cmd
}

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd(Version, nil).ExecuteContext(ctx)
}

func openFromEnv(ctx context.Context, cmd *cobra.Command) (*app.App, func() error, error) {
	cfg := config.Load()
	memory, _ := cmd.Flags().GetBool("memory")
	logger := logging.New(cmd.ErrOrStderr(), cfg.LogLevel, cfg.LogFormat)

	a, err := app.Open(ctx, cfg, logger, app.Options{Memory: memory})
	if err != nil {
		return nil, nil, err
	}
	return a, a.Close, nil
}
