package pathoram

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"
)

// SQLiteStorage is the persistent reference Storage implementation: a
// single table keyed by bucket id, matching the original Python prototype's
// `db(key INTEGER PRIMARY KEY, value TEXT)` shape. The value column holds a
// length-preserving binary encoding of exactly BucketSize() blocks, so
// dummy and real buckets are indistinguishable in size on disk.
type SQLiteStorage struct {
	accessLog

	db         *sql.DB
	numBuckets int
	bucketSize int
	blockSize  int
}

// NewSQLiteStorage opens (creating if necessary) a SQLite-backed bucket
// store at path, with a fresh table of numBuckets buckets each initialized
// to dummies. path may be ":memory:" for an ephemeral store used only for
// testing the persistent code path without touching disk.
func NewSQLiteStorage(path string, numBuckets, bucketSize, blockSize int) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1) // one access in flight at a time; no concurrent writers to serialize

	if _, err := db.Exec(`DROP TABLE IF EXISTS buckets`); err != nil {
		db.Close()
		return nil, fmt.Errorf("drop table: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE buckets (id INTEGER PRIMARY KEY, value BLOB NOT NULL)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("create table: %w", err)
	}

	s := &SQLiteStorage{db: db, numBuckets: numBuckets, bucketSize: bucketSize, blockSize: blockSize}

	dummy := dummyBucket(bucketSize, blockSize)
	encoded, err := encodeBucket(dummy, blockSize)
	if err != nil {
		db.Close()
		return nil, err
	}
	stmt, err := db.Prepare(`INSERT INTO buckets (id, value) VALUES (?, ?)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()
	for id := 0; id < numBuckets; id++ {
		if _, err := stmt.Exec(id, encoded); err != nil {
			db.Close()
			return nil, fmt.Errorf("seed bucket %d: %w", id, err)
		}
	}
	return s, nil
}

// OpenSQLiteStorage opens an existing SQLite-backed bucket store without
// reinitializing its contents, for reattaching to a previously populated
// database (e.g. after a process restart, paired with PathORAM.Restore for
// the client-side state).
func OpenSQLiteStorage(path string, bucketSize, blockSize int) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite store: %w", err)
	}
	db.SetMaxOpenConns(1)

	var count int
	if err := db.QueryRow(`SELECT COUNT(*) FROM buckets`).Scan(&count); err != nil {
		db.Close()
		return nil, wrapCorrupt(err, "read bucket count")
	}
	return &SQLiteStorage{db: db, numBuckets: count, bucketSize: bucketSize, blockSize: blockSize}, nil
}

// Close releases the underlying database handle.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// ReadBucket returns the blocks stored at bucket id.
func (s *SQLiteStorage) ReadBucket(id int) ([]Block, error) {
	if id < 0 || id >= s.numBuckets {
		return nil, ErrInvalidConfig
	}
	var value []byte
	if err := s.db.QueryRow(`SELECT value FROM buckets WHERE id = ?`, id).Scan(&value); err != nil {
		return nil, wrapCorrupt(err, "read bucket %d", id)
	}
	blocks, err := decodeBucket(value, s.bucketSize, s.blockSize)
	if err != nil {
		return nil, wrapCorrupt(err, "decode bucket %d", id)
	}
	s.append(AccessRead, id)
	return blocks, nil
}

// WriteBucket overwrites the blocks stored at bucket id.
func (s *SQLiteStorage) WriteBucket(id int, blocks []Block) error {
	if id < 0 || id >= s.numBuckets {
		return ErrInvalidConfig
	}
	if len(blocks) != s.bucketSize {
		return ErrInvalidConfig
	}
	encoded, err := encodeBucket(blocks, s.blockSize)
	if err != nil {
		return err
	}
	if _, err := s.db.Exec(`INSERT OR REPLACE INTO buckets (id, value) VALUES (?, ?)`, id, encoded); err != nil {
		return wrapCorrupt(err, "write bucket %d", id)
	}
	s.append(AccessWrite, id)
	return nil
}

// NumBuckets returns the total number of buckets.
func (s *SQLiteStorage) NumBuckets() int { return s.numBuckets }

// BucketSize returns slots per bucket.
func (s *SQLiteStorage) BucketSize() int { return s.bucketSize }

// BlockSize returns bytes per block.
func (s *SQLiteStorage) BlockSize() int { return s.blockSize }

// encodeBucket packs exactly len(blocks) records of a 16-byte (addr, leaf)
// header (see encodeAddrLeaf) followed by blockSize bytes of data. The
// record width never depends on addr, leaf, or data contents, so the
// encoded size of a bucket is fixed regardless of how many real vs. dummy
// blocks it holds.
func encodeBucket(blocks []Block, blockSize int) ([]byte, error) {
	recordSize := 16 + blockSize
	out := make([]byte, len(blocks)*recordSize)
	for i, b := range blocks {
		if len(b.Data) != blockSize {
			return nil, fmt.Errorf("%w: block %d has %d data bytes, want %d", ErrInvalidDataSize, b.ID, len(b.Data), blockSize)
		}
		off := i * recordSize
		copy(out[off:off+16], encodeAddrLeaf(b.ID, b.Leaf))
		copy(out[off+16:off+16+blockSize], b.Data)
	}
	return out, nil
}

// decodeBucket is the inverse of encodeBucket. A value whose length isn't
// an exact multiple of the expected record size, or that doesn't contain
// exactly bucketSize records, is fatal corruption.
func decodeBucket(value []byte, bucketSize, blockSize int) ([]Block, error) {
	recordSize := 16 + blockSize
	if len(value) != bucketSize*recordSize {
		return nil, fmt.Errorf("bucket has %d bytes, want %d", len(value), bucketSize*recordSize)
	}
	blocks := make([]Block, bucketSize)
	for i := range blocks {
		off := i * recordSize
		addr, leaf := decodeAddrLeaf(value[off : off+16])
		data := make([]byte, blockSize)
		copy(data, value[off+16:off+16+blockSize])
		blocks[i] = Block{ID: addr, Leaf: leaf, Data: data}
	}
	return blocks, nil
}
