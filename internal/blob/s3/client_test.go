package s3blob_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	s3blob "github.com/alanyoungcy/outcome-amm/internal/blob/s3"
)

func TestNew_RequiresBucketAndRegion(t *testing.T) {
	_, err := s3blob.New(context.Background(), s3blob.ClientConfig{Region: "us-east-1"})
	assert.ErrorContains(t, err, "bucket")

	_, err = s3blob.New(context.Background(), s3blob.ClientConfig{Bucket: "archive"})
	assert.ErrorContains(t, err, "region")
}

func TestClient_KeyPrefix(t *testing.T) {
	c, err := s3blob.New(context.Background(), s3blob.ClientConfig{
		Region:    "us-east-1",
		Bucket:    "archive",
		AccessKey: "test",
		SecretKey: "test",
		Prefix:    "/outcome/prod/",
	})
	require.NoError(t, err)

	key := c.Key("/markets/m1/snapshot.json")
	assert.Equal(t, "outcome/prod/markets/m1/snapshot.json", key)
	assert.Equal(t, "markets/m1/snapshot.json", c.Rel(key))
	assert.Equal(t, "archive", c.Bucket())
}
