package command

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/media"
	"github.com/vedran77/nebula/internal/service"
)

// NewSignUpCmd creates the signup command.
func NewSignUpCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signup",
		Short: "Create an account and sign in",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			username, _ := cmd.Flags().GetString("username")
			fullName, _ := cmd.Flags().GetString("full-name")

			session, err := ctx.App.Auth.SignUp(cmd.Context(), email, password, service.SignUpInput{
				Username: username,
				FullName: fullName,
			})
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, map[string]any{"user_id": session.UserID, "email": session.Email})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed up as @%s (%s)\n", username, session.Email)
			return nil
		},
	}

	cmd.Flags().String("email", "", "email address")
	cmd.Flags().String("password", "", "password (at least 8 characters)")
	cmd.Flags().String("username", "", "public username")
	cmd.Flags().String("full-name", "", "display name")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	_ = cmd.MarkFlagRequired("username")
	return cmd
}

// NewSignInCmd creates the signin command.
func NewSignInCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "signin",
		Short: "Sign in with email and password",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			session, err := ctx.App.Auth.SignIn(cmd.Context(), email, password)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, map[string]any{"user_id": session.UserID, "email": session.Email, "expires_at": session.ExpiresAt})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", session.Email)
			return nil
		},
	}

	cmd.Flags().String("email", "", "email address")
	cmd.Flags().String("password", "", "password")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

// NewSignOutCmd creates the signout command.
func NewSignOutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "signout",
		Short: "Go offline and end the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			if err := ctx.App.Session.SignOut(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

// NewWhoamiCmd creates the whoami command.
func NewWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()

			session, err := ctx.App.Auth.CurrentSession(cmd.Context())
			if err != nil {
				return writeCommandError(cmd, err)
			}
			if session == nil {
				return writeCommandError(cmd, errNotSignedIn)
			}
			profile, err := ctx.App.Users.GetProfile(cmd.Context(), session.UserID)
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, profile)
			}
			printProfile(cmd, profile)
			fmt.Fprintf(cmd.OutOrStdout(), "email:     %s\n", session.Email)
			fmt.Fprintf(cmd.OutOrStdout(), "expires:   %s\n", formatWhen(session.ExpiresAt))
			return nil
		},
	}
}

// NewProfileCmd creates the profile command.
func NewProfileCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile [username]",
		Short: "Show a profile, or update your own",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := GetContext(cmd)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			defer ctx.Close()
			if err := ctx.requireSession(cmd.Context()); err != nil {
				return writeCommandError(cmd, err)
			}

			if len(args) == 1 {
				profile, err := findUser(cmd.Context(), ctx.App.Users, args[0])
				if err != nil {
					return writeCommandError(cmd, err)
				}
				if ctx.JSONMode {
					return writeJSON(cmd, profile)
				}
				printProfile(cmd, profile)
				return nil
			}

			update, err := profileUpdate(cmd, ctx)
			if err != nil {
				return writeCommandError(cmd, err)
			}
			me, _ := ctx.App.Auth.UserID()

			var profile *domain.Profile
			if update.IsEmpty() {
				profile, err = ctx.App.Users.GetProfile(cmd.Context(), me)
			} else {
				profile, err = ctx.App.Users.UpdateProfile(cmd.Context(), me, update)
			}
			if err != nil {
				return writeCommandError(cmd, err)
			}

			if ctx.JSONMode {
				return writeJSON(cmd, profile)
			}
			printProfile(cmd, profile)
			return nil
		},
	}

	cmd.Flags().String("username", "", "new username")
	cmd.Flags().String("full-name", "", "new display name")
	cmd.Flags().String("bio", "", "new bio")
	cmd.Flags().String("avatar", "", "image file to upload as avatar")
	return cmd
}

func profileUpdate(cmd *cobra.Command, ctx *CommandContext) (domain.ProfileUpdate, error) {
	var update domain.ProfileUpdate
	if cmd.Flags().Changed("username") {
		v, _ := cmd.Flags().GetString("username")
		update.Username = &v
	}
	if cmd.Flags().Changed("full-name") {
		v, _ := cmd.Flags().GetString("full-name")
		update.FullName = &v
	}
	if cmd.Flags().Changed("bio") {
		v, _ := cmd.Flags().GetString("bio")
		update.Bio = &v
	}
	if path, _ := cmd.Flags().GetString("avatar"); path != "" {
		url, err := uploadPath(cmd, ctx, path, media.BucketAvatars)
		if err != nil {
			return update, err
		}
		update.AvatarURL = &url
	}
	return update, nil
}

// uploadPath uploads a local file and returns its public URL.
func uploadPath(cmd *cobra.Command, ctx *CommandContext, path string, bucket media.Bucket) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	return ctx.App.Uploader.UploadFile(cmd.Context(), media.File{
		Name: filepath.Base(path),
		Size: info.Size(),
		Body: f,
	}, bucket)
}

func printProfile(cmd *cobra.Command, p *domain.Profile) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "@%s\n", p.Username)
	fmt.Fprintf(out, "id:        %s\n", p.ID)
	fmt.Fprintf(out, "name:      %s\n", p.DisplayName())
	if p.Bio != nil && *p.Bio != "" {
		fmt.Fprintf(out, "bio:       %s\n", *p.Bio)
	}
	if p.AvatarURL != nil {
		fmt.Fprintf(out, "avatar:    %s\n", *p.AvatarURL)
	}
	fmt.Fprintf(out, "presence:  %s\n", presence(p))
}

func presence(p *domain.Profile) string {
	if p.IsOnline {
		return "online"
	}
	if p.LastSeen.IsZero() {
		return "offline"
	}
	return "last seen " + formatWhen(p.LastSeen)
}

// userIDs resolves usernames to profile ids.
func userIDs(cmd *cobra.Command, ctx *CommandContext, usernames []string) ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(usernames))
	for _, name := range usernames {
		p, err := findUser(cmd.Context(), ctx.App.Users, name)
		if err != nil {
			return nil, err
		}
		ids = append(ids, p.ID)
	}
	return ids, nil
}
