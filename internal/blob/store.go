package blob

import "context"

// Store 媒体文件存储；返回可公开访问的 URL
type Store interface {
	Upload(ctx context.Context, bucket, path string, data []byte, contentType string) (string, error)
	PublicURL(bucket, path string) string
}
