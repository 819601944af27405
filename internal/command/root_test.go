package command

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/app"
	"github.com/vedran77/nebula/internal/config"
	"github.com/vedran77/nebula/internal/domain"
	"github.com/vedran77/nebula/internal/logging"
	"github.com/vedran77/nebula/internal/service"
)

const testPassword = "Secret123"

// memoryApp opens one in-memory backend shared by every command a test runs.
func memoryApp(t *testing.T) (*app.App, OpenFunc) {
	t.Helper()
	cfg := &config.Config{JWTSecret: "command-secret", SessionTTL: time.Hour}
	a, err := app.Open(context.Background(), cfg, logging.Discard(), app.Options{Memory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	open := func(ctx context.Context, cmd *cobra.Command) (*app.App, func() error, error) {
		return a, func() error { return nil }, nil
	}
	return a, open
}

func executeCommand(open OpenFunc, input string, args ...string) (string, error) {
	cmd := NewRootCmd("test", open)
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(strings.NewReader(input))
	cmd.SetArgs(args)

	err := cmd.Execute()
	return buf.String(), err
}

func run(t *testing.T, open OpenFunc, args ...string) string {
	t.Helper()
	out, err := executeCommand(open, "", args...)
	require.NoError(t, err, out)
	return out
}

func signUp(t *testing.T, open OpenFunc, username string) {
	t.Helper()
	run(t, open, "signup", "--email", username+"@example.com", "--password", testPassword, "--username", username)
}

func TestRootCommandVersion(t *testing.T) {
	out, err := executeCommand(nil, "", "--version")
	require.NoError(t, err)
	require.Contains(t, out, "nebula version test")
}

func TestRootCommandHelp(t *testing.T) {
	out, err := executeCommand(nil, "")
	require.NoError(t, err)
	require.Contains(t, out, "terminal client")
}

func TestWhoamiRequiresSignIn(t *testing.T) {
	_, open := memoryApp(t)

	out, err := executeCommand(open, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)
	require.Contains(t, out, "not signed in")
}

func TestSignUpValidation(t *testing.T) {
	_, open := memoryApp(t)

	out, err := executeCommand(open, "", "signup", "--email", "nope", "--password", "short", "--username", "al")
	require.Error(t, err)
	require.Contains(t, out, "email: Invalid email address")
	require.Contains(t, out, "password: Password must be at least 8 characters")
}

func TestAccountLifecycle(t *testing.T) {
	_, open := memoryApp(t)

	out := run(t, open, "signup", "--email", "alice@example.com", "--password", testPassword, "--username", "alice", "--full-name", "Alice Liddell")
	require.Contains(t, out, "Signed up as @alice")

	out = run(t, open, "whoami")
	require.Contains(t, out, "@alice")
	require.Contains(t, out, "Alice Liddell")

	out = run(t, open, "--json", "whoami")
	var p domain.Profile
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	require.Equal(t, "alice", p.Username)

	out = run(t, open, "profile", "--bio", "down the rabbit hole")
	require.Contains(t, out, "bio:       down the rabbit hole")

	out = run(t, open, "signout")
	require.Contains(t, out, "Signed out")

	_, err := executeCommand(open, "", "whoami")
	require.ErrorIs(t, err, errNotSignedIn)

	out, err = executeCommand(open, "", "signin", "--email", "alice@example.com", "--password", "Wrong1234")
	require.ErrorIs(t, err, service.ErrInvalidCreds)
	require.Contains(t, out, "invalid email or password")

	out = run(t, open, "signin", "--email", "alice@example.com", "--password", testPassword)
	require.Contains(t, out, "Signed in as alice@example.com")
}

func TestUsersSearch(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "bob")
	signUp(t, open, "alice")

	out := run(t, open, "users", "search", "bo")
	require.Contains(t, out, "@bob")
	require.NotContains(t, out, "@alice")

	out = run(t, open, "users", "search", "zed")
	require.Contains(t, out, "No users found")
}

func TestDirectConversationAndMessages(t *testing.T) {
	a, open := memoryApp(t)
	signUp(t, open, "bob")
	signUp(t, open, "alice")

	out := run(t, open, "dm", "@bob")
	require.Contains(t, out, "participants:")
	require.Contains(t, out, "@bob")

	// A second dm reuses the conversation.
	run(t, open, "dm", "bob")
	convs, err := a.Conversations.GetConversations(context.Background())
	require.NoError(t, err)
	require.Len(t, convs, 1)

	out = run(t, open, "chat", "@bob", "-m", "hello bob")
	require.Contains(t, out, "Sent ")

	out = run(t, open, "conversations")
	require.Contains(t, out, "bob")
	require.Contains(t, out, "hello bob")
}

func TestDMUnknownUser(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "alice")

	_, err := executeCommand(open, "", "dm", "nobody")
	require.ErrorIs(t, err, service.ErrUserNotFound)
}

func TestGroupConversation(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "bob")
	signUp(t, open, "carol")
	signUp(t, open, "alice")

	out := run(t, open, "group", "bob", "carol", "--name", "Tea Party")
	require.Contains(t, out, "Tea Party")
	require.Contains(t, out, "@carol")

	out = run(t, open, "chat", "tea party", "-m", "welcome")
	require.Contains(t, out, "Sent ")
}

func TestChatSession(t *testing.T) {
	a, open := memoryApp(t)
	signUp(t, open, "bob")
	signUp(t, open, "alice")
	run(t, open, "dm", "bob")
	run(t, open, "chat", "@bob", "-m", "first")

	convs, err := a.Conversations.GetConversations(context.Background())
	require.NoError(t, err)
	msgs, err := a.Messages.GetMessages(context.Background(), convs[0].ID, service.HistoryPageSize, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	id := msgs[0].ID

	out, err := executeCommand(open, "/edit "+shortID(id)+" first, edited\n/quit\n", "chat", "@bob")
	require.NoError(t, err, out)
	require.Contains(t, out, "you: first")

	msg, err := a.Messages.GetMessage(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, "first, edited", *msg.Content)
	require.True(t, msg.IsEdited)

	out, err = executeCommand(open, "/delete "+shortID(id)+"\n/quit\n", "chat", "@bob")
	require.NoError(t, err, out)
	msg, err = a.Messages.GetMessage(context.Background(), id)
	require.NoError(t, err)
	require.True(t, msg.IsDeleted)
}

func TestChatUnknownConversation(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "alice")

	_, err := executeCommand(open, "", "chat", "nowhere", "-m", "hi")
	require.ErrorIs(t, err, errNoMatch)
}

func TestSignalsAndFeed(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "alice")

	out := run(t, open, "signal", "first", "contact", "-c", "intel")
	require.Contains(t, out, "Broadcast intel signal")

	out = run(t, open, "feed")
	require.Contains(t, out, "[intel] @alice: first contact")

	_, err := executeCommand(open, "", "signal", "hello", "-c", "gossip")
	require.Error(t, err)
}

func TestCalls(t *testing.T) {
	_, open := memoryApp(t)
	signUp(t, open, "bob")
	signUp(t, open, "alice")

	out := run(t, open, "calls")
	require.Contains(t, out, "No calls yet")

	out = run(t, open, "calls", "add", "Bob", "--type", "missed", "--receiver", "bob")
	require.Contains(t, out, "Logged missed call with Bob")

	out = run(t, open, "calls")
	require.Contains(t, out, "missed")
	require.Contains(t, out, "Bob")

	_, err := executeCommand(open, "", "calls", "add", "Bob", "--type", "sideways")
	require.ErrorIs(t, err, service.ErrInvalidCallType)
}

func TestUpload(t *testing.T) {
	_, open := memoryApp(t)
	path := filepath.Join(t.TempDir(), "Photo.PNG")
	require.NoError(t, os.WriteFile(path, []byte("not really a png"), 0o644))

	out := run(t, open, "upload", path, "--bucket", "avatar")
	require.Regexp(t, `^memory://storage/avatars/\d+_[0-9a-f]{12}\.png\n$`, out)

	_, err := executeCommand(open, "", "upload", path, "--bucket", "elsewhere")
	require.Error(t, err)
}
