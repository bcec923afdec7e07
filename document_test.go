package pathoram

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequiredBlocks(t *testing.T) {
	require.Equal(t, 1, RequiredBlocks(0, 4096))
	require.Equal(t, 1, RequiredBlocks(10, 4096))
	require.Equal(t, 2, RequiredBlocks(5000, 4096))
	require.Equal(t, 1, RequiredBlocks(4096, 4096))
	require.Equal(t, 2, RequiredBlocks(4097, 4096))
}

// TestIngestReadTwoArticles is the two-articles ingest/read-back scenario:
// documents of 10 and 5000 bytes at block_len=4096, Z=4 round-trip exactly.
func TestIngestReadTwoArticles(t *testing.T) {
	const blockSize, bucketSize = 4096, 4
	short := bytes.Repeat([]byte("a"), 10)
	long := bytes.Repeat([]byte("b"), 5000)

	needed := RequiredBlocks(len(short), blockSize) + RequiredBlocks(len(long), blockSize)
	o, err := NewInMemory(Config{NumBlocks: needed + 2, BlockSize: blockSize, BucketSize: bucketSize})
	require.NoError(t, err)

	store := NewDocumentStore(o)
	require.NoError(t, store.Ingest("short article", short))
	require.NoError(t, store.Ingest("long article", long))

	got, err := store.Read("short article")
	require.NoError(t, err)
	require.Equal(t, short, got)

	got, err = store.Read("long article")
	require.NoError(t, err)
	require.Equal(t, long, got)
}

func TestIngestAssignsConsecutiveAddresses(t *testing.T) {
	o, err := NewInMemory(Config{NumBlocks: 16, BlockSize: 8})
	require.NoError(t, err)
	store := NewDocumentStore(o)

	require.NoError(t, store.Ingest("one", []byte("12345678901234567"))) // 3 blocks
	require.NoError(t, store.Ingest("two", []byte("x")))                 // 1 block

	require.Equal(t, []int{0, 1, 2}, store.titles["one"])
	require.Equal(t, []int{3}, store.titles["two"])
}

func TestReadUnknownTitleNotFound(t *testing.T) {
	o, err := NewInMemory(Config{NumBlocks: 4, BlockSize: 8})
	require.NoError(t, err)
	store := NewDocumentStore(o)

	_, err = store.Read("nonexistent")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestIngestRejectsWhenCapacityExhausted(t *testing.T) {
	o, err := NewInMemory(Config{NumBlocks: 2, BlockSize: 8})
	require.NoError(t, err)
	store := NewDocumentStore(o)

	require.NoError(t, store.Ingest("fits", bytes.Repeat([]byte("x"), 16))) // exactly 2 blocks
	err = store.Ingest("overflow", []byte("y"))
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIngestEmptyDocumentGetsOneBlock(t *testing.T) {
	o, err := NewInMemory(Config{NumBlocks: 4, BlockSize: 8})
	require.NoError(t, err)
	store := NewDocumentStore(o)

	require.NoError(t, store.Ingest("empty", nil))
	got, err := store.Read("empty")
	require.NoError(t, err)
	require.Empty(t, got)
}
