package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// 报告对象统一放在该前缀下
const objectPrefix = "reports/"

// MinioStorage MinIO存储实现
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	// 检查存储桶是否存在，不存在则创建
	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Save 保存文件到MinIO存储
func (s *MinioStorage) Save(reader io.Reader, filename string) (FileInfo, error) {
	ext, err := checkFilename(filename)
	if err != nil {
		return FileInfo{}, err
	}

	id := uuid.New().String()
	now := time.Now()
	objectName := fmt.Sprintf("%s%04d/%02d/%02d/%s%s", objectPrefix, now.Year(), now.Month(), now.Day(), id, ext)

	// 报告文件不大，读入内存以获得准确大小
	content, err := io.ReadAll(reader)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read file content: %w", err)
	}

	size := int64(len(content))
	contentType := getMimeType(filename)
	_, err = s.client.PutObject(
		context.Background(),
		s.bucketName,
		objectName,
		bytes.NewReader(content),
		size,
		minio.PutObjectOptions{
			ContentType:  contentType,
			UserMetadata: map[string]string{"filename": filepath.Base(filename)},
		},
	)
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     filename,
		Size:     size,
		MimeType: contentType,
		Path:     objectName,
	}, nil
}

// Get 获取MinIO中的文件
func (s *MinioStorage) Get(id string) (io.ReadCloser, error) {
	objectName, err := s.findObject(id)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.GetObject(context.Background(), s.bucketName, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, nil
}

// Materialize 把对象下载到临时文件，保留原扩展名以便解析器分派
func (s *MinioStorage) Materialize(id string) (string, func(), error) {
	objectName, err := s.findObject(id)
	if err != nil {
		return "", nil, err
	}

	tmp, err := os.CreateTemp("", "report-*"+filepath.Ext(objectName))
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	err = s.client.FGetObject(context.Background(), s.bucketName, objectName, tmp.Name(), minio.GetObjectOptions{})
	tmp.Close()
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("failed to download object: %w", err)
	}

	return tmp.Name(), cleanup, nil
}

// Delete 从MinIO中删除文件
func (s *MinioStorage) Delete(id string) error {
	objectName, err := s.findObject(id)
	if err != nil {
		return err
	}

	if err := s.client.RemoveObject(context.Background(), s.bucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出MinIO中的所有报告
func (s *MinioStorage) List() ([]FileInfo, error) {
	var files []FileInfo

	objectCh := s.client.ListObjects(context.Background(), s.bucketName, minio.ListObjectsOptions{
		Prefix:    objectPrefix,
		Recursive: true,
	})
	for object := range objectCh {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}

		files = append(files, FileInfo{
			ID:       idFromName(object.Key),
			Name:     filepath.Base(object.Key),
			Size:     object.Size,
			MimeType: getMimeType(object.Key),
			Path:     object.Key,
		})
	}

	return files, nil
}

// Exists 检查MinIO中是否存在指定ID的文件
func (s *MinioStorage) Exists(id string) (bool, error) {
	if !validID(id) {
		return false, nil
	}
	files, err := s.List()
	if err != nil {
		return false, err
	}
	for _, file := range files {
		if file.ID == id {
			return true, nil
		}
	}
	return false, nil
}

func (s *MinioStorage) findObject(id string) (string, error) {
	if !validID(id) {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
	}

	files, err := s.List()
	if err != nil {
		return "", err
	}
	for _, file := range files {
		if file.ID == id {
			return file.Path, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrFileNotFound, id)
}
