package pathoram

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// storageFactories lists every Storage implementation under the same
// conformance suite: any backend must behave identically
// from the engine's point of view.
func storageFactories(t *testing.T) map[string]func(numBuckets, bucketSize, blockSize int) Storage {
	return map[string]func(numBuckets, bucketSize, blockSize int) Storage{
		"InMemoryStorage": func(numBuckets, bucketSize, blockSize int) Storage {
			return NewInMemoryStorage(numBuckets, bucketSize, blockSize)
		},
		"SQLiteStorage": func(numBuckets, bucketSize, blockSize int) Storage {
			s, err := NewSQLiteStorage(":memory:", numBuckets, bucketSize, blockSize)
			require.NoError(t, err)
			t.Cleanup(func() { s.Close() })
			return s
		},
	}
}

func TestStorageConformance(t *testing.T) {
	for name, factory := range storageFactories(t) {
		t.Run(name, func(t *testing.T) {
			const numBuckets, bucketSize, blockSize = 7, 4, 8
			s := factory(numBuckets, bucketSize, blockSize)

			require.Equal(t, numBuckets, s.NumBuckets())
			require.Equal(t, bucketSize, s.BucketSize())
			require.Equal(t, blockSize, s.BlockSize())

			// freshly created storage is all dummies
			bucket, err := s.ReadBucket(0)
			require.NoError(t, err)
			require.Len(t, bucket, bucketSize)
			for _, b := range bucket {
				require.True(t, b.IsDummy())
			}

			write := make([]Block, bucketSize)
			for i := range write {
				write[i] = Block{ID: EmptyBlockID, Leaf: -1, Data: make([]byte, blockSize)}
			}
			write[0] = Block{ID: 42, Leaf: 3, Data: []byte("01234567")}

			require.NoError(t, s.WriteBucket(2, write))
			got, err := s.ReadBucket(2)
			require.NoError(t, err)
			require.Equal(t, 42, got[0].ID)
			require.Equal(t, 3, got[0].Leaf)
			require.Equal(t, []byte("01234567"), got[0].Data)
		})
	}
}

func TestStorageRejectsOutOfRange(t *testing.T) {
	for name, factory := range storageFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(4, 2, 8)
			_, err := s.ReadBucket(-1)
			require.ErrorIs(t, err, ErrInvalidConfig)
			_, err = s.ReadBucket(4)
			require.ErrorIs(t, err, ErrInvalidConfig)

			err = s.WriteBucket(0, []Block{{ID: EmptyBlockID, Leaf: -1, Data: make([]byte, 8)}})
			require.ErrorIs(t, err, ErrInvalidConfig) // wrong bucket size
		})
	}
}

func TestStorageAccessLog(t *testing.T) {
	for name, factory := range storageFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory(4, 2, 8)
			s.ClearAccessLog()

			_, err := s.ReadBucket(1)
			require.NoError(t, err)
			blocks, err := s.ReadBucket(1)
			require.NoError(t, err)
			require.NoError(t, s.WriteBucket(1, blocks))

			log := s.AccessLog()
			require.Len(t, log, 3)
			require.Equal(t, AccessRead, log[0].Kind)
			require.Equal(t, 1, log[0].BucketID)
			require.Equal(t, AccessRead, log[1].Kind)
			require.Equal(t, AccessWrite, log[2].Kind)

			s.ClearAccessLog()
			require.Empty(t, s.AccessLog())
		})
	}
}

func TestSQLiteStorageOpenReattaches(t *testing.T) {
	// NewSQLiteStorage/OpenSQLiteStorage must agree on bucket count for the
	// same file-backed store; :memory: databases aren't shareable across
	// connections, so this uses a file in a temporary directory.
	path := t.TempDir() + "/buckets.db"
	s, err := NewSQLiteStorage(path, 15, 4, 8)
	require.NoError(t, err)
	require.Equal(t, 15, s.NumBuckets())
	require.NoError(t, s.Close())

	reopened, err := OpenSQLiteStorage(path, 4, 8)
	require.NoError(t, err)
	defer reopened.Close()
	require.Equal(t, 15, reopened.NumBuckets())
}
