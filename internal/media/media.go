// Package media uploads user files to object storage and hands back the
// public URL they are served from.
package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// MaxFileSize is the largest file UploadFile accepts.
const MaxFileSize = 10 << 20

var (
	ErrFileTooLarge  = errors.New("file too large")
	ErrInvalidBucket = errors.New("invalid bucket")
	ErrEmptyFile     = errors.New("file is empty")
)

type Bucket string

const (
	BucketAvatars   Bucket = "avatars"
	BucketChatMedia Bucket = "chat-media"
	BucketSignals   Bucket = "signals"
)

func (b Bucket) Valid() bool {
	switch b {
	case BucketAvatars, BucketChatMedia, BucketSignals:
		return true
	}
	return false
}

// ParseBucket accepts a bucket name or one of the short aliases used on the
// command line.
func ParseBucket(s string) (Bucket, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "avatar", "avatars":
		return BucketAvatars, nil
	case "chat", "chat-media", "media":
		return BucketChatMedia, nil
	case "signal", "signals", "feed":
		return BucketSignals, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidBucket, s)
}

// ObjectStore is the blob storage behind the uploader.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Delete(ctx context.Context, bucket, key string) error
}

// File is an upload. Size is the size the caller claims; it is checked
// before the body is read.
type File struct {
	Name        string
	Size        int64
	ContentType string
	Body        io.Reader
}

type Uploader struct {
	store   ObjectStore
	baseURL string
	log     *slog.Logger
	now     func() time.Time
}

// NewUploader returns an uploader whose public URLs are
// <baseURL>/<bucket>/<key>.
func NewUploader(store ObjectStore, baseURL string, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     logger,
		now:     time.Now,
	}
}

func tooLarge(size int64) error {
	return fmt.Errorf("%w: %s exceeds the %s limit", ErrFileTooLarge, humanize.IBytes(uint64(size)), humanize.IBytes(MaxFileSize))
}

// UploadFile stores file under a fresh name in bucket and returns its
// public URL. Oversized files are rejected before anything is sent.
func (u *Uploader) UploadFile(ctx context.Context, file File, bucket Bucket) (string, error) {
	if !bucket.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if file.Size > MaxFileSize {
		return "", tooLarge(file.Size)
	}

	data, err := io.ReadAll(io.LimitReader(file.Body, MaxFileSize+1))
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", file.Name, err)
	}
	if len(data) > MaxFileSize {
		return "", tooLarge(int64(len(data)))
	}
	if len(data) == 0 {
		return "", ErrEmptyFile
	}

	key := u.objectName(file.Name)
	contentType := file.ContentType
	if contentType == "" {
		contentType = mime.TypeByExtension(path.Ext(key))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	if err := u.store.Put(ctx, string(bucket), key, data, contentType); err != nil {
		return "", fmt.Errorf("uploading %s: %w", file.Name, err)
	}

	u.log.Info("file uploaded", "bucket", bucket, "key", key, "size", humanize.IBytes(uint64(len(data))))
	return u.PublicURL(key, bucket), nil
}

// objectName is <unix-millis>_<random><ext> with the original extension
// lower-cased.
func (u *Uploader) objectName(original string) string {
	random := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	return fmt.Sprintf("%d_%s%s", u.now().UnixMilli(), random, strings.ToLower(path.Ext(original)))
}

func (u *Uploader) PublicURL(key string, bucket Bucket) string {
	return u.baseURL + "/" + string(bucket) + "/" + strings.TrimLeft(key, "/")
}

func (u *Uploader) DeleteFile(ctx context.Context, key string, bucket Bucket) error {
	if !bucket.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidBucket, bucket)
	}
	if err := u.store.Delete(ctx, string(bucket), key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

// KeyFromURL recovers the object key from a URL produced by PublicURL.
func (u *Uploader) KeyFromURL(url string, bucket Bucket) (string, bool) {
	prefix := u.baseURL + "/" + string(bucket) + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", false
	}
	return strings.TrimPrefix(url, prefix), true
}

// MemoryStore keeps objects in memory.
type MemoryStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string][]byte)}
}

func (m *MemoryStore) Put(ctx context.Context, bucket, key string, data []byte, contentType string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts++
	m.objects[bucket+"/"+key] = bytes.Clone(data)
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, bucket+"/"+key)
	return nil
}

// Get returns a stored object.
func (m *MemoryStore) Get(bucket, key string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[bucket+"/"+key]
	return data, ok
}

// Puts counts Put calls.
func (m *MemoryStore) Puts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts
}
