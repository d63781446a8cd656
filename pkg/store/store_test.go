package store

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func testKV(t *testing.T, kv KV) {
	t.Helper()

	_, err := kv.Get("missing")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, kv.Set("a", []byte("one")))
	v, err := kv.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("one"), v)

	// overwrite
	require.NoError(t, kv.Set("a", []byte("two")))
	v, err = kv.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v)

	// the returned slice is a copy
	v[0] = 'X'
	v, err = kv.Get("a")
	require.NoError(t, err)
	require.Equal(t, []byte("two"), v)
}

func TestMemory(t *testing.T) {
	kv := NewMemory()
	defer kv.Close()
	testKV(t, kv)
}

func TestBadger(t *testing.T) {
	kv, err := OpenBadger(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()
	testKV(t, kv)
}

func TestBadgerPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()

	kv, err := OpenBadger(dir)
	require.NoError(t, err)
	require.NoError(t, kv.Set("identity.secretKey", []byte("s3cret")))
	require.NoError(t, kv.Close())

	kv, err = OpenBadger(dir)
	require.NoError(t, err)
	defer kv.Close()
	v, err := kv.Get("identity.secretKey")
	require.NoError(t, err)
	require.Equal(t, []byte("s3cret"), v)
}

func TestPersistenceErrorUnwraps(t *testing.T) {
	inner := errors.New("disk on fire")
	err := &PersistenceError{Op: "set", Err: inner}
	require.ErrorIs(t, err, inner)
	require.Contains(t, err.Error(), "set")
}
