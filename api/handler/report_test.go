package handler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckCacheKey(t *testing.T) {
	dir := t.TempDir()

	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0644))
		return path
	}

	first := write("a.docx", "same bytes")
	second := write("b.DOCX", "same bytes")

	key := checkCacheKey(first, "rules", "tongyi", "qwen-plus")
	require.NotEmpty(t, key)
	assert.Equal(t, key, checkCacheKey(second, "rules", "tongyi", "qwen-plus"))
	assert.NotEqual(t, key, checkCacheKey(first, "other rules", "tongyi", "qwen-plus"))
	assert.NotEqual(t, key, checkCacheKey(first, "rules", "ark", "deepseek-r1-250120"))

	// 不支持的格式不读取内容
	assert.Empty(t, checkCacheKey(write("notes.txt", "客户名称：X"), "rules", "tongyi", "qwen-plus"))

	// 目录和不存在的文件
	sub := filepath.Join(dir, "folder.pdf")
	require.NoError(t, os.Mkdir(sub, 0755))
	assert.Empty(t, checkCacheKey(sub, "rules", "tongyi", "qwen-plus"))
	assert.Empty(t, checkCacheKey(filepath.Join(dir, "missing.pdf"), "rules", "tongyi", "qwen-plus"))
}
