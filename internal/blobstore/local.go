package blobstore

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores blob bytes in a sharded local directory tree. Writes go
// through a temp file and become visible only on rename, so a crashed
// upload never leaves a partial object behind.
type Local struct {
	root string
}

// NewLocal creates a filesystem backend rooted at root.
func NewLocal(root string) (*Local, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("filesystem root is required")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Join(abs, "tmp"), 0o755); err != nil {
		return nil, err
	}
	return &Local{root: abs}, nil
}

// Kind returns the backend discriminator stored in blob rows.
func (l *Local) Kind() string {
	return KindFilesystem
}

// Create opens a temp-file sink for one object.
func (l *Local) Create(ctx context.Context, opts CreateOptions) (Sink, error) {
	if l == nil {
		return nil, fmt.Errorf("filesystem backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanObjectKey(opts.Key)
	if err != nil {
		return nil, err
	}

	tmp, err := os.CreateTemp(filepath.Join(l.root, "tmp"), "put-*")
	if err != nil {
		return nil, err
	}
	return &localSink{backend: l, key: key, file: tmp}, nil
}

// Open returns a reader for a stored object. A locator pointing at bytes
// that are gone reports ErrObjectMissing.
func (l *Local) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	if l == nil {
		return nil, fmt.Errorf("filesystem backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.pathFromLocator(loc)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrObjectMissing, loc.Path)
		}
		return nil, err
	}
	return f, nil
}

// Delete removes a stored object. Missing files are ignored.
func (l *Local) Delete(ctx context.Context, loc Locator) error {
	if l == nil {
		return fmt.Errorf("filesystem backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	path, err := l.pathFromLocator(loc)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

type localSink struct {
	backend *Local
	key     string
	file    *os.File
	done    bool
}

func (s *localSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, fmt.Errorf("sink already finished")
	}
	return s.file.Write(p)
}

func (s *localSink) Finalize(ctx context.Context) (Locator, error) {
	var zero Locator
	if s.done {
		return zero, fmt.Errorf("sink already finished")
	}
	s.done = true

	tmpPath := s.file.Name()
	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if err := s.file.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if err := ctx.Err(); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}

	relPath := shardedPath(s.key)
	dst := filepath.Join(s.backend.root, filepath.FromSlash(relPath))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	if err := os.Rename(tmpPath, dst); err != nil {
		_ = os.Remove(tmpPath)
		return zero, err
	}
	return Locator{Kind: KindFilesystem, Path: relPath}, nil
}

func (s *localSink) Abort(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true
	tmpPath := s.file.Name()
	_ = s.file.Close()
	if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// shardedPath spreads objects over 256 fan-out directories so a busy
// instance never piles every file into one directory.
func shardedPath(key string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return fmt.Sprintf("objects/%02x/%s", h.Sum32()%256, key)
}

func (l *Local) pathFromLocator(loc Locator) (string, error) {
	if loc.Kind != KindFilesystem {
		return "", fmt.Errorf("locator kind %q is not filesystem", loc.Kind)
	}
	path := strings.TrimSpace(loc.Path)
	if path == "" {
		return "", fmt.Errorf("locator path is required")
	}
	if strings.HasPrefix(path, "/") {
		return "", fmt.Errorf("locator path must be relative")
	}
	clean := filepath.Clean(filepath.FromSlash(path))
	if clean == "." || strings.HasPrefix(clean, "..") || strings.Contains(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid locator path")
	}
	return filepath.Join(l.root, clean), nil
}

func cleanObjectKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", fmt.Errorf("object key is required")
	}
	if strings.ContainsAny(key, "/\\") || strings.Contains(key, "..") {
		return "", fmt.Errorf("invalid object key")
	}
	return key, nil
}
