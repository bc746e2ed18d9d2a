package s3blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/alanyoungcy/outcome-amm/internal/domain"
)

var _ domain.BlobReader = (*Reader)(nil)

// Reader serves archived market objects. Paths are relative to the client's
// key prefix, so "markets/<id>/snapshot.json" reads the same object that
// the archiver wrote under that path.
type Reader struct {
	c *Client
}

// NewReader returns a Reader over c's bucket.
func NewReader(c *Client) *Reader {
	return &Reader{c: c}
}

// Get opens the object at path. The caller closes the body. A missing
// object is domain.ErrNotFound.
func (r *Reader) Get(ctx context.Context, path string) (io.ReadCloser, error) {
	out, err := r.c.S3().GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.c.Bucket()),
		Key:    aws.String(r.c.Key(path)),
	})
	if err != nil {
		return nil, fmt.Errorf("s3blob: get %s: %w", path, notFound(err))
	}
	return out.Body, nil
}

// List walks every page of objects under prefix.
func (r *Reader) List(ctx context.Context, prefix string) ([]domain.BlobInfo, error) {
	pages := s3.NewListObjectsV2Paginator(r.c.S3(), &s3.ListObjectsV2Input{
		Bucket: aws.String(r.c.Bucket()),
		Prefix: aws.String(r.c.Key(prefix)),
	})

	var infos []domain.BlobInfo
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("s3blob: list %s: %w", prefix, err)
		}
		for _, obj := range page.Contents {
			infos = append(infos, domain.BlobInfo{
				Path:         r.c.Rel(aws.ToString(obj.Key)),
				Size:         aws.ToInt64(obj.Size),
				LastModified: aws.ToTime(obj.LastModified),
			})
		}
	}
	return infos, nil
}

// Exists reports whether path is stored. The archiver checks its manifest
// with this before writing anything.
func (r *Reader) Exists(ctx context.Context, path string) (bool, error) {
	_, err := r.c.S3().HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.c.Bucket()),
		Key:    aws.String(r.c.Key(path)),
	})
	switch err = notFound(err); {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrNotFound):
		return false, nil
	default:
		return false, fmt.Errorf("s3blob: head %s: %w", path, err)
	}
}

// notFound rewrites the SDK's missing-object errors to domain.ErrNotFound.
// GetObject reports NoSuchKey, HeadObject a bare NotFound, and some
// S3-compatible stores only a 404 status.
func notFound(err error) error {
	if err == nil {
		return nil
	}
	var (
		noKey  *types.NoSuchKey
		nf     *types.NotFound
		status interface{ HTTPStatusCode() int }
	)
	if errors.As(err, &noKey) || errors.As(err, &nf) ||
		(errors.As(err, &status) && status.HTTPStatusCode() == http.StatusNotFound) {
		return domain.ErrNotFound
	}
	return err
}
