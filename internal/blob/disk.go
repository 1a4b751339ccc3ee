package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DiskStore 写本地目录，由 HTTP 静态路由对外提供
type DiskStore struct {
	Root    string
	BaseURL string
}

func NewDiskStore(root, baseURL string) (*DiskStore, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("blob: create root: %w", err)
	}
	return &DiskStore{Root: root, BaseURL: strings.TrimRight(baseURL, "/")}, nil
}

func (s *DiskStore) Upload(ctx context.Context, bucket, path string, data []byte, _ string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full, err := s.resolve(bucket, path)
	if err != nil {
		return "", err
	}
	if err = os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("blob: mkdir: %w", err)
	}
	// 先写临时文件再 rename，避免读到半个文件
	tmp := full + ".part"
	if err = os.WriteFile(tmp, data, 0o644); err != nil {
		return "", fmt.Errorf("blob: write: %w", err)
	}
	if err = os.Rename(tmp, full); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("blob: rename: %w", err)
	}
	return s.PublicURL(bucket, path), nil
}

func (s *DiskStore) PublicURL(bucket, path string) string {
	return s.BaseURL + "/" + bucket + "/" + strings.TrimLeft(path, "/")
}

func (s *DiskStore) resolve(bucket, path string) (string, error) {
	if bucket == "" || path == "" {
		return "", fmt.Errorf("blob: bucket and path required")
	}
	full := filepath.Join(s.Root, bucket, filepath.FromSlash(path))
	root := filepath.Clean(s.Root) + string(os.PathSeparator)
	if !strings.HasPrefix(full, root) {
		return "", fmt.Errorf("blob: path escapes root")
	}
	return full, nil
}
