// Package documents resolves submission attachments from a blob bucket.
package documents

import (
	"context"
	"path"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// buckets
	_ "gocloud.dev/blob/gcsblob"  // gs:// buckets
	_ "gocloud.dev/blob/memblob"  // mem:// buckets
	_ "gocloud.dev/blob/s3blob"   // s3:// buckets
	"gocloud.dev/gcerrors"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/mca-router/internal/model"
	"github.com/sells-group/mca-router/internal/resilience"
)

// Fetcher resolves document ids to attachment bytes.
type Fetcher interface {
	// FetchAll returns the documents found, in first-seen id order, plus the
	// ids that do not exist. Duplicate ids are fetched once.
	FetchAll(ctx context.Context, ids []string) ([]model.Document, []string, error)
}

// BlobStore reads documents from a gocloud bucket. The document id is the
// object key.
type BlobStore struct {
	bucket      *blob.Bucket
	concurrency int
	retry       resilience.RetryConfig
}

// Open opens the bucket at url (file://, gs://, s3:// or mem://).
func Open(ctx context.Context, url string) (*BlobStore, error) {
	if url == "" {
		return nil, eris.New("documents: bucket url is required")
	}
	bucket, err := blob.OpenBucket(ctx, url)
	if err != nil {
		return nil, eris.Wrapf(err, "documents: open bucket %s", url)
	}
	return NewBlobStore(bucket), nil
}

// NewBlobStore wraps an open bucket.
func NewBlobStore(bucket *blob.Bucket) *BlobStore {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("blob", "read")
	return &BlobStore{bucket: bucket, concurrency: 4, retry: retry}
}

// Fetch reads a single document. A missing object wraps store-agnostic
// gcerrors.NotFound.
func (b *BlobStore) Fetch(ctx context.Context, id string) (model.Document, error) {
	return resilience.DoVal(ctx, b.retry, func(ctx context.Context) (model.Document, error) {
		attrs, err := b.bucket.Attributes(ctx, id)
		if err != nil {
			return model.Document{}, eris.Wrapf(err, "documents: stat %s", id)
		}
		data, err := b.bucket.ReadAll(ctx, id)
		if err != nil {
			return model.Document{}, eris.Wrapf(err, "documents: read %s", id)
		}
		return model.Document{
			ID:          id,
			Filename:    path.Base(id),
			ContentType: attrs.ContentType,
			Data:        data,
		}, nil
	})
}

// FetchAll implements Fetcher. Only non-NotFound read failures are returned
// as errors.
func (b *BlobStore) FetchAll(ctx context.Context, ids []string) ([]model.Document, []string, error) {
	unique := dedupe(ids)
	docs := make([]*model.Document, len(unique))

	var (
		mu      sync.Mutex
		missing = make(map[string]bool)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, id := range unique {
		g.Go(func() error {
			doc, err := b.Fetch(gctx, id)
			if gcerrors.Code(err) == gcerrors.NotFound {
				zap.L().Warn("documents: document not found", zap.String("document_id", id))
				mu.Lock()
				missing[id] = true
				mu.Unlock()
				return nil
			}
			if err != nil {
				return err
			}
			docs[i] = &doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}

	found := make([]model.Document, 0, len(unique))
	var notFound []string
	for i, id := range unique {
		if missing[id] {
			notFound = append(notFound, id)
			continue
		}
		found = append(found, *docs[i])
	}
	return found, notFound, nil
}

// Close releases the bucket.
func (b *BlobStore) Close() error {
	return eris.Wrap(b.bucket.Close(), "documents: close bucket")
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}
