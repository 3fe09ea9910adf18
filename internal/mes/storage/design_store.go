// Package storage 施工单设计文件存储（MinIO）
package storage

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// DesignStore 通过预签名 URL 上传下载，文件不经过服务端
type DesignStore struct {
	client *minio.Client
	bucket string
	expiry time.Duration
}

func NewDesignStore(endpoint, accessKey, secretKey, bucket string, useSSL bool, expiry time.Duration) (*DesignStore, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	if expiry <= 0 {
		expiry = 15 * time.Minute
	}
	return &DesignStore{client: client, bucket: bucket, expiry: expiry}, nil
}

// EnsureBucket 启动时创建桶
func (s *DesignStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	return s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{})
}

// ObjectKey designs/{施工单号}/{文件名}，文件名去掉路径部分
func ObjectKey(orderNumber, filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "design"
	}
	return path.Join("designs", orderNumber, name)
}

func (s *DesignStore) PresignUpload(ctx context.Context, key string) (string, error) {
	u, err := s.client.PresignedPutObject(ctx, s.bucket, key, s.expiry)
	if err != nil {
		return "", fmt.Errorf("presign upload: %w", err)
	}
	return u.String(), nil
}

func (s *DesignStore) PresignDownload(ctx context.Context, key string) (string, error) {
	params := url.Values{}
	params.Set("response-content-disposition", fmt.Sprintf("attachment; filename=%q", path.Base(key)))
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, s.expiry, params)
	if err != nil {
		return "", fmt.Errorf("presign download: %w", err)
	}
	return u.String(), nil
}
