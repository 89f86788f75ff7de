package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"
)

// ErrObjectNotFound is returned when a key does not exist in the bucket.
var ErrObjectNotFound = errors.New("object not found")

type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified *time.Time
}

// Service stores file bodies in remote object storage.
type Service interface {
	PutObject(ctx context.Context, bucket, key string, body io.Reader, size int64) error
	GetObject(ctx context.Context, bucket, key string) ([]byte, error)
	DeleteObject(ctx context.Context, bucket, key string) error
	ListObjects(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error)
	GetObjectURL(ctx context.Context, bucket, key string, expires time.Duration) (string, error)
}

// OwnerPrefix is the key prefix holding every object of ownerID.
func OwnerPrefix(ownerID string) string {
	return strings.Trim(ownerID, "/") + "/"
}

// OwnerKey builds the owner-scoped key of a single object.
func OwnerKey(ownerID, objectID string) string {
	return OwnerPrefix(ownerID) + strings.Trim(objectID, "/")
}
