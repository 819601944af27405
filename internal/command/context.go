package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/app"
	"github.com/vedran77/nebula/internal/service"
)

// CommandContext provides shared command resources.
type CommandContext struct {
	App      *app.App
	JSONMode bool
	close    func() error
}

// GetContext opens the app for a command.
func GetContext(cmd *cobra.Command) (*CommandContext, error) {
	jsonMode, _ := cmd.Flags().GetBool("json")

	open, _ := cmd.Context().Value(openerKey{}).(OpenFunc)
	if open == nil {
		open = openFromEnv
	}
	a, closeFn, err := open(cmd.Context(), cmd)
	if err != nil {
		return nil, err
	}
	return &CommandContext{App: a, JSONMode: jsonMode, close: closeFn}, nil
}

func (c *CommandContext) Close() error {
	if c.close == nil {
		return nil
	}
	return c.close()
}

// requireSession fails unless someone is signed in.
func (c *CommandContext) requireSession(ctx context.Context) error {
	session, err := c.App.Auth.CurrentSession(ctx)
	if err != nil {
		return err
	}
	if session == nil {
		return errNotSignedIn
	}
	return nil
}

var errNotSignedIn = errors.New("not signed in. Use 'nebula signin' first")

func writeCommandError(cmd *cobra.Command, err error) error {
	fmt.Fprintf(cmd.ErrOrStderr(), "Error: %s\n", err.Error())

	if errors.Is(err, service.ErrNotAuthenticated) {
		fmt.Fprintln(cmd.ErrOrStderr(), "Hint: sign in with 'nebula signin'")
	}

	return err
}

func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
