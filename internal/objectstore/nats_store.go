// Package objectstore stores generated lecture artifacts in a NATS JetStream object store.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/book-expert/lecture-service/internal/core"
	"github.com/book-expert/lecture-service/internal/fileutil"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	contentTypeHeader = "Content-Type"
	kindMetadataKey   = "kind"
	durationMetaKey   = "duration"
	urlScheme         = "nats://"
)

// ErrObjectNotFound is returned by Download for an unknown public id.
var ErrObjectNotFound = errors.New("object not found")

// NatsObjectStore implements core.BlobStore on a JetStream object store bucket.
// Public ids are "<folder>/<filename>".
type NatsObjectStore struct {
	jetstreamContext nats.JetStreamContext
	bucket           string
	store            nats.ObjectStore
	publicURL        string
	now              func() time.Time
}

// New creates the bucket or binds to it when it already exists. Artifact URLs
// are publicURL joined with the public id, or nats://<bucket>/<id> when publicURL is empty.
func New(jetstreamContext nats.JetStreamContext, bucketName, publicURL string) (*NatsObjectStore, error) {
	store, err := jetstreamContext.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:      bucketName,
		Description: fmt.Sprintf("Lecture artifacts for the %s bucket.", bucketName),
		Storage:     nats.FileStorage,
		Replicas:    1,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("failed to create object store bucket '%s': %w", bucketName, err)
		}

		store, err = jetstreamContext.ObjectStore(bucketName)
		if err != nil {
			return nil, fmt.Errorf("failed to bind to existing object store bucket '%s': %w", bucketName, err)
		}
	}

	return &NatsObjectStore{
		jetstreamContext: jetstreamContext,
		bucket:           bucketName,
		store:            store,
		publicURL:        strings.TrimRight(publicURL, "/"),
		now:              time.Now,
	}, nil
}

// Upload saves an artifact under its folder. An empty filename gets a random one.
func (n *NatsObjectStore) Upload(ctx context.Context, req core.UploadRequest) (*core.UploadResult, error) {
	filename := fileutil.SanitizeFilename(req.Filename)
	if filename == "" {
		filename = uuid.NewString()
	}

	publicID := filename
	if req.Folder != "" {
		publicID = req.Folder + "/" + filename
	}

	headers := nats.Header{}
	headers.Set(contentTypeHeader, fileutil.ContentType(filename))

	metadata := map[string]string{kindMetadataKey: string(req.Kind)}
	if req.Duration > 0 {
		metadata[durationMetaKey] = strconv.FormatFloat(req.Duration, 'f', 3, 64)
	}

	info, err := n.store.Put(&nats.ObjectMeta{
		Name:     publicID,
		Headers:  headers,
		Metadata: metadata,
	}, bytes.NewReader(req.Data), nats.Context(ctx))
	if err != nil {
		return nil, &core.UploadError{
			Filename: req.Filename,
			Err:      fmt.Errorf("failed to put object '%s' to bucket '%s': %w", publicID, n.bucket, err),
		}
	}

	return &core.UploadResult{
		URL:      n.URL(publicID),
		PublicID: publicID,
		Size:     int64(info.Size),
		Duration: req.Duration,
	}, nil
}

// Delete removes an artifact. Deleting a missing artifact is not an error.
// The object store delete takes no context, so ctx is only checked before it starts.
func (n *NatsObjectStore) Delete(ctx context.Context, publicID string) error {
	err := ctx.Err()
	if err != nil {
		return fmt.Errorf("failed to delete object '%s': %w", publicID, err)
	}

	err = n.store.Delete(publicID)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", publicID, n.bucket, err)
	}

	return nil
}

// ListOlderThan returns the public ids in folder last modified more than age ago.
func (n *NatsObjectStore) ListOlderThan(ctx context.Context, folder string, age time.Duration) ([]string, error) {
	infos, err := n.store.List(nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrNoObjectsFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("failed to list bucket '%s': %w", n.bucket, err)
	}

	prefix := folder + "/"
	cutoff := n.now().Add(-age)

	var ids []string

	for _, info := range infos {
		if info.Deleted || !strings.HasPrefix(info.Name, prefix) {
			continue
		}

		if !info.ModTime.After(cutoff) {
			ids = append(ids, info.Name)
		}
	}

	return ids, nil
}

// Object is a downloaded artifact with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Download retrieves an artifact by public id.
func (n *NatsObjectStore) Download(ctx context.Context, publicID string) (*Object, error) {
	obj, err := n.store.Get(publicID, nats.Context(ctx))
	if err != nil {
		if errors.Is(err, nats.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrObjectNotFound, publicID)
		}

		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", publicID, n.bucket, err)
	}

	data, readErr := io.ReadAll(obj)
	closeErr := obj.Close()

	if readErr != nil {
		return nil, fmt.Errorf("failed to read object '%s': %w", publicID, readErr)
	}

	if closeErr != nil {
		return nil, fmt.Errorf("failed to close object '%s': %w", publicID, closeErr)
	}

	contentType := fileutil.ContentType(publicID)

	info, err := obj.Info()
	if err == nil && info.Headers != nil && info.Headers.Get(contentTypeHeader) != "" {
		contentType = info.Headers.Get(contentTypeHeader)
	}

	return &Object{Data: data, ContentType: contentType}, nil
}

// URL returns the address artifacts with publicID are served from.
func (n *NatsObjectStore) URL(publicID string) string {
	if n.publicURL == "" {
		return urlScheme + n.bucket + "/" + publicID
	}

	return n.publicURL + "/" + publicID
}
