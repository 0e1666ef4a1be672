package adapter

import (
	"context"
	"errors"
	"io"
	"net/http"

	"cloud.google.com/go/storage"
	"github.com/m-mizutani/goerr/v2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

var (
	ErrObjectNotFound     = goerr.New("object not found")
	ErrPreconditionFailed = goerr.New("object generation precondition failed")
)

// Storage is the interface for generation-guarded object storage
type Storage interface {
	// Get loads an object and its generation. A missing object returns ErrObjectNotFound.
	Get(ctx context.Context, key string) ([]byte, int64, error)
	// Put writes an object only if its current generation equals generation;
	// 0 means the object must not exist yet. Returns ErrPreconditionFailed otherwise.
	Put(ctx context.Context, key string, data []byte, generation int64) (int64, error)
	// Delete removes an object. Deleting a missing object is not an error.
	Delete(ctx context.Context, key string) error
}

// storageClient implements Storage interface using Cloud Storage
type storageClient struct {
	bucketName string
	client     *storage.Client
}

// NewStorage creates a new Cloud Storage client
func NewStorage(ctx context.Context, bucketName string, opts ...option.ClientOption) (Storage, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to create storage client")
	}

	return &storageClient{
		bucketName: bucketName,
		client:     client,
	}, nil
}

func (s *storageClient) Get(ctx context.Context, key string) ([]byte, int64, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	reader, err := obj.NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, goerr.Wrap(ErrObjectNotFound, "object does not exist", goerr.V("key", key))
		}
		return nil, 0, goerr.Wrap(err, "failed to read from storage", goerr.V("key", key))
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, 0, goerr.Wrap(err, "failed to read object body", goerr.V("key", key))
	}

	return data, reader.Attrs.Generation, nil
}

func (s *storageClient) Put(ctx context.Context, key string, data []byte, generation int64) (int64, error) {
	obj := s.client.Bucket(s.bucketName).Object(key)
	if generation == 0 {
		obj = obj.If(storage.Conditions{DoesNotExist: true})
	} else {
		obj = obj.If(storage.Conditions{GenerationMatch: generation})
	}

	writer := obj.NewWriter(ctx)
	writer.ContentType = "application/json"
	if _, err := writer.Write(data); err != nil {
		_ = writer.Close()
		return 0, s.writeError(err, key, generation)
	}
	if err := writer.Close(); err != nil {
		return 0, s.writeError(err, key, generation)
	}

	return writer.Attrs().Generation, nil
}

func (s *storageClient) writeError(err error, key string, generation int64) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed {
		return goerr.Wrap(ErrPreconditionFailed, "object was modified concurrently",
			goerr.V("key", key), goerr.V("generation", generation))
	}
	return goerr.Wrap(err, "failed to write to storage", goerr.V("key", key))
}

func (s *storageClient) Delete(ctx context.Context, key string) error {
	err := s.client.Bucket(s.bucketName).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return goerr.Wrap(err, "failed to delete object", goerr.V("key", key))
	}
	return nil
}
