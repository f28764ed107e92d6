package storage

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 读取文件内容辅助函数
func readAll(t *testing.T, r io.ReadCloser) string {
	t.Helper()
	defer r.Close()
	b, err := io.ReadAll(r)
	require.NoError(t, err)
	return string(b)
}

// TestLocalStorage 测试本地存储实现
func TestLocalStorage(t *testing.T) {
	tempDir := t.TempDir()
	localStorage, err := NewLocalStorage(LocalConfig{Path: tempDir})
	require.NoError(t, err)

	content := "fake docx content"
	info, err := localStorage.Save(bytes.NewBufferString(content), "检测报告.DOCX")
	require.NoError(t, err)

	_, err = uuid.Parse(info.ID)
	assert.NoError(t, err, "ID should be a uuid")
	assert.Equal(t, "检测报告.DOCX", info.Name)
	assert.Equal(t, int64(len(content)), info.Size)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.wordprocessingml.document", info.MimeType)
	assert.Equal(t, ".docx", filepath.Ext(info.Path))

	t.Run("Get", func(t *testing.T) {
		reader, err := localStorage.Get(info.ID)
		require.NoError(t, err)
		assert.Equal(t, content, readAll(t, reader))
	})

	t.Run("Materialize", func(t *testing.T) {
		path, cleanup, err := localStorage.Materialize(info.ID)
		require.NoError(t, err)
		defer cleanup()

		assert.Equal(t, filepath.Join(tempDir, info.Path), path)
		data, err := os.ReadFile(path)
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	})

	t.Run("List", func(t *testing.T) {
		_, err := localStorage.Save(bytes.NewBufferString("%PDF-1.4"), "second.pdf")
		require.NoError(t, err)

		files, err := localStorage.List()
		require.NoError(t, err)
		assert.Len(t, files, 2)

		ids := make([]string, 0, len(files))
		for _, f := range files {
			ids = append(ids, f.ID)
		}
		assert.Contains(t, ids, info.ID)
	})

	t.Run("Exists", func(t *testing.T) {
		exists, err := localStorage.Exists(info.ID)
		require.NoError(t, err)
		assert.True(t, exists)

		exists, err = localStorage.Exists(uuid.New().String())
		require.NoError(t, err)
		assert.False(t, exists)

		exists, err = localStorage.Exists("../../etc/passwd")
		require.NoError(t, err)
		assert.False(t, exists)
	})

	t.Run("Delete", func(t *testing.T) {
		require.NoError(t, localStorage.Delete(info.ID))

		exists, err := localStorage.Exists(info.ID)
		require.NoError(t, err)
		assert.False(t, exists)

		_, err = localStorage.Get(info.ID)
		assert.ErrorIs(t, err, ErrFileNotFound)

		_, _, err = localStorage.Materialize(info.ID)
		assert.ErrorIs(t, err, ErrFileNotFound)

		assert.ErrorIs(t, localStorage.Delete(info.ID), ErrFileNotFound)
	})
}

func TestLocalStorageRejectsUnsupportedFiles(t *testing.T) {
	localStorage, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)

	for _, name := range []string{"notes.txt", "report.doc", "noext"} {
		_, err := localStorage.Save(bytes.NewBufferString("x"), name)
		assert.ErrorIs(t, err, ErrUnsupportedFile, name)
	}

	files, err := localStorage.List()
	require.NoError(t, err)
	assert.Empty(t, files)
}

// TestMinioStorage 测试MinIO存储实现
// 只有设置MINIO_ENDPOINT时才运行，例如 localhost:9000
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set, skipping MinIO tests")
	}

	minioStorage, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: "minioadmin",
		SecretKey: "minioadmin",
		Bucket:    "report-checker-test",
	})
	require.NoError(t, err)
	defer cleanupTestBucket(t, minioStorage)

	content := "%PDF-1.4 minio test"
	info, err := minioStorage.Save(bytes.NewBufferString(content), "report.pdf")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", info.MimeType)

	reader, err := minioStorage.Get(info.ID)
	require.NoError(t, err)
	assert.Equal(t, content, readAll(t, reader))

	path, cleanup, err := minioStorage.Materialize(info.ID)
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(path))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	cleanup()
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "temp file should be removed")

	exists, err := minioStorage.Exists(info.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	require.NoError(t, minioStorage.Delete(info.ID))
	_, err = minioStorage.Get(info.ID)
	assert.ErrorIs(t, err, ErrFileNotFound)

	_, err = minioStorage.Save(bytes.NewBufferString("x"), "notes.txt")
	assert.ErrorIs(t, err, ErrUnsupportedFile)
}

func cleanupTestBucket(t *testing.T, storage *MinioStorage) {
	files, err := storage.List()
	if err != nil {
		t.Logf("Error listing objects for cleanup: %v", err)
		return
	}
	for _, file := range files {
		if err := storage.Delete(file.ID); err != nil {
			t.Logf("Failed to clean up object %s: %v", file.ID, err)
		}
	}
}

// TestStorageFactory 测试存储工厂函数
func TestStorageFactory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "uploads")
	s, err := NewStorage(Config{Type: "local", Local: LocalConfig{Path: dir}})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	// 验证存储路径已创建
	_, err = os.Stat(dir)
	assert.NoError(t, err)

	_, err = NewStorage(Config{Type: "s3"})
	assert.Error(t, err)
}
