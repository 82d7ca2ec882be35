package securestore

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldid/internal/security"
)

func storesUnderTest(t *testing.T) map[string]Store {
	t.Helper()
	dir := t.TempDir()
	fs, err := OpenFile(filepath.Join(dir, "secure.store"), filepath.Join(dir, "master.key"))
	require.NoError(t, err)
	t.Cleanup(func() { fs.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"file":   fs,
	}
}

func TestStoreContract(t *testing.T) {
	ctx := context.Background()

	for name, s := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := s.Get(ctx, KeyAppKey)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, s.Set(ctx, KeyAppKey, "ABCDEFGHIJ"))
			require.NoError(t, s.Set(ctx, KeyDeviceID, "1700000000000-abcdefghijklmno"))

			v, err := s.Get(ctx, KeyAppKey)
			require.NoError(t, err)
			assert.Equal(t, "ABCDEFGHIJ", v)

			require.NoError(t, s.Set(ctx, KeyAppKey, "KLMNOPQRST"))
			v, _ = s.Get(ctx, KeyAppKey)
			assert.Equal(t, "KLMNOPQRST", v)

			require.NoError(t, s.Delete(ctx, KeyAppKey))
			_, err = s.Get(ctx, KeyAppKey)
			assert.ErrorIs(t, err, ErrNotFound)
			require.NoError(t, s.Delete(ctx, KeyAppKey))

			v, err = s.Get(ctx, KeyDeviceID)
			require.NoError(t, err)
			assert.Equal(t, "1700000000000-abcdefghijklmno", v)
		})
	}
}

func TestFileStorePersistsEncrypted(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "secure.store")
	keyPath := filepath.Join(dir, "master.key")

	s, err := OpenFile(path, keyPath)
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyAppKey, "PLAINTEXT-APP-KEY"))
	require.NoError(t, s.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.False(t, bytes.Contains(raw, []byte("PLAINTEXT-APP-KEY")), "value stored in clear")

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())

	reopened, err := OpenFile(path, keyPath)
	require.NoError(t, err)
	defer reopened.Close()
	v, err := reopened.Get(ctx, KeyAppKey)
	require.NoError(t, err)
	assert.Equal(t, "PLAINTEXT-APP-KEY", v)
}

func TestFileStoreWrongMasterKey(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "secure.store")

	s, err := OpenFile(path, filepath.Join(dir, "a.key"))
	require.NoError(t, err)
	require.NoError(t, s.Set(ctx, KeyAppKey, "ABCDEFGHIJ"))

	other, err := OpenFile(path, filepath.Join(dir, "b.key"))
	require.NoError(t, err)
	_, err = other.Get(ctx, KeyAppKey)
	assert.ErrorIs(t, err, ErrCorrupted)
}

func TestFileStoreClosed(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "secure.store")
	keyPath := filepath.Join(dir, "master.key")

	s, err := OpenFile(path, keyPath)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.ErrorIs(t, s.Set(ctx, KeyAppKey, "ABCDEFGHIJ"), ErrClosed)
	_, err = s.Get(ctx, KeyAppKey)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete(ctx, KeyAppKey), ErrClosed)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "closed store wrote a file")

	reopened, err := OpenFile(path, keyPath)
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Set(ctx, KeyAppKey, "ABCDEFGHIJ"))
	v, err := reopened.Get(ctx, KeyAppKey)
	require.NoError(t, err)
	assert.Equal(t, "ABCDEFGHIJ", v)
}

func TestFileStoreConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "secure.store")
	keyPath := filepath.Join(dir, "master.key")

	first, err := OpenFile(path, keyPath)
	require.NoError(t, err)
	second, err := OpenFile(path, keyPath)
	require.NoError(t, err)

	keys := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	var wg sync.WaitGroup
	for i, k := range keys {
		s := first
		if i%2 == 1 {
			s = second
		}
		wg.Add(1)
		go func(s *FileStore, k string) {
			defer wg.Done()
			assert.NoError(t, s.Set(ctx, k, "value-"+k))
		}(s, k)
	}
	wg.Wait()

	for _, k := range keys {
		v, err := first.Get(ctx, k)
		require.NoError(t, err, k)
		assert.Equal(t, "value-"+k, v)
	}
}

func TestCanceledContext(t *testing.T) {
	dir := t.TempDir()
	s, err := OpenFile(filepath.Join(dir, "secure.store"), filepath.Join(dir, "master.key"))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, s.Set(ctx, KeyAppKey, "x"), context.Canceled)
}

func TestOpenFileRejectsTraversal(t *testing.T) {
	dir := t.TempDir()

	_, err := OpenFile(dir+"/../secure.store", filepath.Join(dir, "master.key"))
	assert.ErrorIs(t, err, security.ErrPathTraversal)

	_, err = OpenFile(filepath.Join(dir, "secure.store"), "")
	assert.ErrorIs(t, err, security.ErrInvalidPath)
}
