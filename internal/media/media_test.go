package media

import (
	"bytes"
	"context"
	"errors"
	"io"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/vedran77/nebula/internal/logging"
)

func newTestUploader() (*Uploader, *MemoryStore) {
	store := NewMemoryStore()
	u := NewUploader(store, "https://cdn.example/storage/", logging.Discard())
	u.now = func() time.Time { return time.UnixMilli(1700000000123) }
	return u, store
}

func TestUploadFile(t *testing.T) {
	u, store := newTestUploader()

	url, err := u.UploadFile(context.Background(), File{
		Name: "Holiday.JPG",
		Size: 5,
		Body: strings.NewReader("image"),
	}, BucketChatMedia)
	require.NoError(t, err)
	require.Regexp(t, regexp.MustCompile(`^https://cdn\.example/storage/chat-media/1700000000123_[0-9a-f]{12}\.jpg$`), url)

	key, ok := u.KeyFromURL(url, BucketChatMedia)
	require.True(t, ok)
	data, ok := store.Get("chat-media", key)
	require.True(t, ok)
	require.Equal(t, "image", string(data))

	require.NoError(t, u.DeleteFile(context.Background(), key, BucketChatMedia))
	_, ok = store.Get("chat-media", key)
	require.False(t, ok)
}

func TestUploadNamesAreUnique(t *testing.T) {
	u, _ := newTestUploader()
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		url, err := u.UploadFile(context.Background(), File{Name: "a.png", Body: strings.NewReader("x")}, BucketAvatars)
		require.NoError(t, err)
		require.False(t, seen[url])
		seen[url] = true
	}
}

// countingReader counts the bytes read through it.
type countingReader struct {
	r    io.Reader
	read int
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.read += n
	return n, err
}

func TestUploadRejectsLargeFilesBeforeSending(t *testing.T) {
	u, store := newTestUploader()
	ctx := context.Background()

	body := &countingReader{r: bytes.NewReader(make([]byte, 11<<20))}
	_, err := u.UploadFile(ctx, File{Name: "big.mp4", Size: 11 << 20, Body: body}, BucketChatMedia)
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Zero(t, body.read, "declared size is checked before reading")

	// The declared size can lie; the body is capped as well.
	body = &countingReader{r: bytes.NewReader(make([]byte, 11<<20))}
	_, err = u.UploadFile(ctx, File{Name: "big.mp4", Size: 10, Body: body}, BucketChatMedia)
	require.ErrorIs(t, err, ErrFileTooLarge)
	require.Equal(t, MaxFileSize+1, body.read)
	require.Contains(t, err.Error(), "10 MiB")

	require.Zero(t, store.Puts())

	_, err = u.UploadFile(ctx, File{Name: "exact.bin", Body: bytes.NewReader(make([]byte, MaxFileSize))}, BucketSignals)
	require.NoError(t, err)
	require.Equal(t, 1, store.Puts())
}

func TestUploadValidation(t *testing.T) {
	u, store := newTestUploader()
	ctx := context.Background()

	_, err := u.UploadFile(ctx, File{Name: "a.png", Body: strings.NewReader("x")}, Bucket("private"))
	require.ErrorIs(t, err, ErrInvalidBucket)
	_, err = u.UploadFile(ctx, File{Name: "a.png", Body: strings.NewReader("")}, BucketAvatars)
	require.ErrorIs(t, err, ErrEmptyFile)
	require.Zero(t, store.Puts())
}

type failingStore struct{ MemoryStore }

var errUnavailable = errors.New("storage unavailable")

func (*failingStore) Put(context.Context, string, string, []byte, string) error {
	return errUnavailable
}

func TestUploadPropagatesStoreError(t *testing.T) {
	u := NewUploader(&failingStore{}, "https://cdn.example", logging.Discard())
	_, err := u.UploadFile(context.Background(), File{Name: "a.png", Body: strings.NewReader("x")}, BucketAvatars)
	require.ErrorIs(t, err, errUnavailable)
}

func TestParseBucket(t *testing.T) {
	for in, want := range map[string]Bucket{
		"avatar":     BucketAvatars,
		"chat-media": BucketChatMedia,
		"Signals":    BucketSignals,
	} {
		got, err := ParseBucket(in)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseBucket("backups")
	require.ErrorIs(t, err, ErrInvalidBucket)
}
