package adapter_test

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/m-mizutani/gt"
	"github.com/m-mizutani/llmchat/pkg/adapter"
)

func putString(t *testing.T, s adapter.Storage, key, body string) {
	t.Helper()
	w, err := s.Put(context.Background(), key)
	gt.NoError(t, err)
	_, err = io.WriteString(w, body)
	gt.NoError(t, err)
	gt.NoError(t, w.Close())
}

func getString(t *testing.T, s adapter.Storage, key string) string {
	t.Helper()
	r, err := s.Get(context.Background(), key)
	gt.NoError(t, err)
	defer r.Close()
	data, err := io.ReadAll(r)
	gt.NoError(t, err)
	return string(data)
}

func TestFileStorage(t *testing.T) {
	dir := t.TempDir()
	s, err := adapter.NewFileStorage(dir)
	gt.NoError(t, err)
	ctx := context.Background()

	t.Run("put and get", func(t *testing.T) {
		putString(t, s, "session-a.json", `{"id":"a"}`)
		gt.Equal(t, getString(t, s, "session-a.json"), `{"id":"a"}`)
	})

	t.Run("not visible before close", func(t *testing.T) {
		w, err := s.Put(ctx, "session-b.json")
		gt.NoError(t, err)
		_, err = io.WriteString(w, "partial")
		gt.NoError(t, err)

		_, err = s.Get(ctx, "session-b.json")
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))

		gt.NoError(t, w.Close())
		gt.Equal(t, getString(t, s, "session-b.json"), "partial")
	})

	t.Run("overwrite replaces whole document", func(t *testing.T) {
		putString(t, s, "session-a.json", `{"id":"a","v":2}`)
		gt.Equal(t, getString(t, s, "session-a.json"), `{"id":"a","v":2}`)
	})

	t.Run("list skips temp files", func(t *testing.T) {
		gt.NoError(t, os.WriteFile(filepath.Join(dir, ".session-c.json.123.tmp"), []byte("x"), 0o600))
		gt.NoError(t, os.WriteFile(filepath.Join(dir, "other.txt"), []byte("x"), 0o600))

		keys, err := s.List(ctx, "session-")
		gt.NoError(t, err)
		gt.Equal(t, keys, []string{"session-a.json", "session-b.json"})
	})

	t.Run("delete", func(t *testing.T) {
		gt.NoError(t, s.Delete(ctx, "session-b.json"))
		err := s.Delete(ctx, "session-b.json")
		gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		_, err := s.Put(ctx, "../escape.json")
		gt.Error(t, err)
		_, err = s.Get(ctx, "sub/dir.json")
		gt.Error(t, err)
	})
}

func TestCloudStorage(t *testing.T) {
	bucket := os.Getenv("TEST_STORAGE_BUCKET")
	if bucket == "" {
		t.Skip("TEST_STORAGE_BUCKET is not set")
	}

	ctx := context.Background()
	s, err := adapter.NewStorage(ctx, bucket, "llmchat-test/"+uuid.NewString())
	gt.NoError(t, err)

	putString(t, s, "session-x.json", `{"id":"x"}`)
	gt.Equal(t, getString(t, s, "session-x.json"), `{"id":"x"}`)

	keys, err := s.List(ctx, "session-")
	gt.NoError(t, err)
	gt.Equal(t, keys, []string{"session-x.json"})

	gt.NoError(t, s.Delete(ctx, "session-x.json"))
	_, err = s.Get(ctx, "session-x.json")
	gt.True(t, errors.Is(err, adapter.ErrObjectNotFound))
}
