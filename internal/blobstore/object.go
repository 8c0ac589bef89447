package blobstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectConfig holds the connection settings for an S3-compatible store.
type ObjectConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Object stores blob bytes in an S3-compatible bucket (MinIO, garage, S3).
// Uploads stream through a pipe into PutObject; nothing is buffered on disk.
type Object struct {
	client *minio.Client
	bucket string
}

// NewObject connects to the object store and ensures the bucket exists.
func NewObject(ctx context.Context, cfg ObjectConfig) (*Object, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, fmt.Errorf("object store endpoint is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, fmt.Errorf("object store bucket is required")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("connect object store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Object{client: client, bucket: cfg.Bucket}, nil
}

// Kind returns the backend discriminator stored in blob rows.
func (o *Object) Kind() string {
	return KindObjectStore
}

// Create starts a streaming upload into the bucket. Bytes written to the
// sink flow straight into PutObject through a pipe.
func (o *Object) Create(ctx context.Context, opts CreateOptions) (Sink, error) {
	if o == nil {
		return nil, fmt.Errorf("object backend is not configured")
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key, err := cleanObjectKey(opts.Key)
	if err != nil {
		return nil, err
	}

	pr, pw := io.Pipe()
	sink := &objectSink{
		backend: o,
		key:     key,
		pw:      pw,
		result:  make(chan error, 1),
	}

	putOpts := minio.PutObjectOptions{}
	if opts.ContentType != "" {
		putOpts.ContentType = opts.ContentType
	}
	go func() {
		// Size -1 streams without a length header; minio chunks the upload.
		_, err := o.client.PutObject(ctx, o.bucket, key, pr, -1, putOpts)
		if err != nil {
			_ = pr.CloseWithError(err)
		}
		sink.result <- err
	}()

	return sink, nil
}

// Open returns a reader for a stored object. Missing keys report
// ErrObjectMissing.
func (o *Object) Open(ctx context.Context, loc Locator) (io.ReadCloser, error) {
	if o == nil {
		return nil, fmt.Errorf("object backend is not configured")
	}
	if loc.Kind != KindObjectStore {
		return nil, fmt.Errorf("locator kind %q is not object_store", loc.Kind)
	}
	if loc.Bucket == "" || loc.Key == "" {
		return nil, fmt.Errorf("locator bucket and key are required")
	}

	obj, err := o.client.GetObject(ctx, loc.Bucket, loc.Key, minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	// GetObject is lazy; stat now so a dangling locator fails loudly here
	// instead of midway through the response body.
	if _, err := obj.Stat(); err != nil {
		_ = obj.Close()
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectMissing, loc.Bucket, loc.Key)
		}
		return nil, err
	}
	return obj, nil
}

// Delete removes a stored object. Missing keys are ignored.
func (o *Object) Delete(ctx context.Context, loc Locator) error {
	if o == nil {
		return fmt.Errorf("object backend is not configured")
	}
	if loc.Kind != KindObjectStore {
		return fmt.Errorf("locator kind %q is not object_store", loc.Kind)
	}
	if loc.Bucket == "" || loc.Key == "" {
		return fmt.Errorf("locator bucket and key are required")
	}
	err := o.client.RemoveObject(ctx, loc.Bucket, loc.Key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return err
	}
	return nil
}

type objectSink struct {
	backend *Object
	key     string
	pw      *io.PipeWriter
	result  chan error
	done    bool
}

func (s *objectSink) Write(p []byte) (int, error) {
	if s.done {
		return 0, fmt.Errorf("sink already finished")
	}
	return s.pw.Write(p)
}

func (s *objectSink) Finalize(ctx context.Context) (Locator, error) {
	var zero Locator
	if s.done {
		return zero, fmt.Errorf("sink already finished")
	}
	s.done = true

	if err := s.pw.Close(); err != nil {
		return zero, err
	}
	select {
	case err := <-s.result:
		if err != nil {
			return zero, err
		}
	case <-ctx.Done():
		return zero, ctx.Err()
	}
	return Locator{Kind: KindObjectStore, Bucket: s.backend.bucket, Key: s.key}, nil
}

func (s *objectSink) Abort(ctx context.Context) error {
	if s.done {
		return nil
	}
	s.done = true

	_ = s.pw.CloseWithError(fmt.Errorf("upload aborted"))
	<-s.result
	// PutObject may have partially landed before the abort; remove what
	// made it so a later attempt never collides with leftovers.
	err := s.backend.client.RemoveObject(ctx, s.backend.bucket, s.key, minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return err
	}
	return nil
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}
