package state

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"time"

	"cloud.google.com/go/storage"

	"github.com/alloyform-io/alloyform/internal/eval"
	"github.com/alloyform-io/alloyform/internal/ir"
)

// gcsBackend implements Backend for Google Cloud Storage. Locking uses a
// lock object created with a DoesNotExist precondition, so acquisition is
// atomic on the bucket.
type gcsBackend struct {
	bucket string
	prefix string

	evaluator *eval.Evaluator
	client    *storage.Client
}

func newGCSBackend(config map[string]string, evaluator *eval.Evaluator) (Backend, error) {
	bucket := config["bucket"]
	if bucket == "" {
		return nil, fmt.Errorf("gcs backend requires 'bucket' configuration")
	}

	prefix := config["prefix"]
	if prefix == "" {
		prefix = "alloyform"
	}

	client, err := storage.NewClient(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCS backend: %w", err)
	}

	return &gcsBackend{
		bucket:    bucket,
		prefix:    prefix,
		evaluator: evaluator,
		client:    client,
	}, nil
}

func (b *gcsBackend) statePath() string {
	return path.Join(b.prefix, "state.pkl")
}

func (b *gcsBackend) lockPath() string {
	return path.Join(b.prefix, "state.pkl.lock")
}

func (b *gcsBackend) Read(ctx context.Context) (*ir.State, error) {
	reader, err := b.client.Bucket(b.bucket).Object(b.statePath()).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return &ir.State{Version: 1, Serial: 0}, nil
		}
		return nil, fmt.Errorf("failed to read state from gs://%s/%s: %w", b.bucket, b.statePath(), err)
	}
	defer reader.Close()

	content, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read GCS object body: %w", err)
	}

	return parseRemoteState(ctx, b.evaluator, content)
}

func (b *gcsBackend) Write(ctx context.Context, state *ir.State) error {
	content := []byte(SerializeState(state))

	encrypted, err := EncryptState(content)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	writer := b.client.Bucket(b.bucket).Object(b.statePath()).NewWriter(ctx)
	writer.ContentType = "text/plain"
	if _, err := writer.Write(encrypted); err != nil {
		writer.Close()
		return fmt.Errorf("failed to write state to gs://%s/%s: %w", b.bucket, b.statePath(), err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("failed to write state to gs://%s/%s: %w", b.bucket, b.statePath(), err)
	}

	return nil
}

func (b *gcsBackend) Lock() error {
	ctx := context.Background()

	obj := b.client.Bucket(b.bucket).Object(b.lockPath()).If(storage.Conditions{DoesNotExist: true})
	writer := obj.NewWriter(ctx)
	info := fmt.Sprintf("pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
	if _, err := writer.Write([]byte(info)); err != nil {
		writer.Close()
		return fmt.Errorf("failed to acquire lock: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("state is locked by another process. If this is an error, "+
			"manually delete gs://%s/%s: %w", b.bucket, b.lockPath(), err)
	}

	return nil
}

func (b *gcsBackend) Unlock() error {
	ctx := context.Background()
	if err := b.client.Bucket(b.bucket).Object(b.lockPath()).Delete(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil
		}
		return fmt.Errorf("failed to release lock: %w", err)
	}
	return nil
}
