package pathoram

import (
	"crypto/rand"
	"fmt"
	"math/big"

	"go.uber.org/zap"
)

// PathORAM implements the Path ORAM protocol: the access state machine
// that is the only behavior an untrusted block store observes.
type PathORAM struct {
	cfg       Config
	height    int // L: path length is height+1
	numLeaves int

	storage Storage     // pluggable block store
	posMap  PositionMap // pluggable position map
	encrypt Encryptor   // pluggable encryption, optional (see encryptor.go)
	log     *zap.Logger

	stash    *Stash
	poisoned bool
}

// New creates a new PathORAM instance with explicit dependencies: a block
// store, a position map, and an encryptor. The tree is filled with Z
// dummies per bucket by the store's own constructor; New populates the
// position map by drawing a uniform leaf for every address up front, so
// the tree and the position map come into existence together.
func New(cfg Config, storage Storage, posMap PositionMap, enc Encryptor, opts ...Option) (*PathORAM, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	height, numLeaves, totalBuckets := cfg.ComputeTreeParams()
	if storage.NumBuckets() != totalBuckets {
		return nil, fmt.Errorf("%w: store has %d buckets, want %d", ErrInvalidConfig, storage.NumBuckets(), totalBuckets)
	}
	// Storage holds ciphertext, which an Encryptor may expand (e.g.
	// AESGCMEncryptor's nonce+tag overhead). cfg.BlockSize is always the
	// plaintext size seen by Access/Read/Write; the store must be sized for
	// plaintext plus whatever the encryptor adds.
	if storage.BucketSize() != cfg.BucketSize || storage.BlockSize() != cfg.BlockSize+enc.Overhead() {
		return nil, ErrInvalidConfig
	}

	o := &PathORAM{
		cfg:       cfg,
		height:    height,
		numLeaves: numLeaves,
		storage:   storage,
		posMap:    posMap,
		encrypt:   enc,
		log:       zap.NewNop(),
		stash:     NewStash(),
	}
	for _, opt := range opts {
		opt(o)
	}

	if posMap.Size() == 0 {
		for addr := 0; addr < cfg.NumBlocks; addr++ {
			posMap.Set(addr, o.randomLeaf())
		}
	}

	return o, nil
}

// Option configures optional engine dependencies.
type Option func(*PathORAM)

// WithLogger attaches a structured logger for capacity-warning and
// corrupt-store events. A nil logger is treated as zap.NewNop().
func WithLogger(l *zap.Logger) Option {
	return func(o *PathORAM) {
		if l != nil {
			o.log = l
		}
	}
}

// NewInMemory creates a PathORAM backed by in-memory storage with no
// encryption, the simplest way to stand one up for tests or local use.
func NewInMemory(cfg Config, opts ...Option) (*PathORAM, error) {
	cfg, err := cfg.Validate()
	if err != nil {
		return nil, err
	}
	_, _, totalBuckets := cfg.ComputeTreeParams()

	storage := NewInMemoryStorage(totalBuckets, cfg.BucketSize, cfg.BlockSize)
	posMap := NewInMemoryPositionMap()
	return New(cfg, storage, posMap, NoOpEncryptor{}, opts...)
}

// Capacity returns the number of logical addresses this ORAM supports.
func (o *PathORAM) Capacity() int { return o.cfg.NumBlocks }

// Height returns L, the tree height (path length is Height()+1).
func (o *PathORAM) Height() int { return o.height }

// NumLeaves returns the number of leaf nodes in the tree.
func (o *PathORAM) NumLeaves() int { return o.numLeaves }

// StashSize returns the current number of blocks in the stash.
func (o *PathORAM) StashSize() int { return o.stash.Len() }

// BlockSize returns the configured block size.
func (o *PathORAM) BlockSize() int { return o.cfg.BlockSize }

// Access performs an oblivious read (newData == nil) or write (newData !=
// nil) of addr. It returns the prior value at addr, or nil if addr has
// never been written.
func (o *PathORAM) Access(addr int, newData []byte) ([]byte, error) {
	if o.poisoned {
		return nil, ErrEnginePoisoned
	}
	if addr < 0 || addr >= o.cfg.NumBlocks {
		return nil, ErrInvalidBlockID
	}
	if newData != nil && len(newData) != o.cfg.BlockSize {
		return nil, ErrInvalidDataSize
	}
	result, err := o.access(addr, newData)
	if err != nil {
		if isCorrupt(err) {
			o.poisoned = true
			o.logger().Error("engine poisoned by corrupt store", zap.Error(err))
		}
		return nil, err
	}
	return result, nil
}

// Read reads the block at addr.
func (o *PathORAM) Read(addr int) ([]byte, error) {
	return o.Access(addr, nil)
}

// Write writes data to addr and returns the prior value.
func (o *PathORAM) Write(addr int, data []byte) ([]byte, error) {
	if data == nil {
		return nil, ErrInvalidDataSize
	}
	return o.Access(addr, data)
}

func isCorrupt(err error) bool {
	_, ok := err.(*corruptStoreError)
	return ok
}

// randomLeaf returns a cryptographically random leaf index in [0, numLeaves).
func (o *PathORAM) randomLeaf() int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(o.numLeaves)))
	if err != nil {
		panic("pathoram: crypto/rand failed: " + err.Error())
	}
	return int(n.Int64())
}

// access is the four-phase state machine: remap, fetch, service, evict.
// All four phases run unconditionally for every call; their cost never
// depends on op, addr, or stash contents, so the server cannot distinguish
// a read from a write or infer anything about which address was touched.
func (o *PathORAM) access(addr int, newData []byte) ([]byte, error) {
	// Remap: draw a fresh leaf for addr, unconditionally, even on a read.
	x, _ := o.posMap.Get(addr)
	newLeaf := o.randomLeaf()
	o.posMap.Set(addr, newLeaf)

	// Fetch: pull every block on the old path into the stash.
	path := PathNodes(o.height, x)
	if err := o.readPathIntoStash(path); err != nil {
		return nil, err
	}

	// Service: read the stashed value, then overwrite it on a write.
	var result []byte
	if b, ok := o.stash.Get(addr); ok {
		result = append([]byte(nil), b.Data...)
		b.Leaf = newLeaf
		if newData != nil {
			b.Data = append([]byte(nil), newData...)
		}
		o.stash.Insert(b)
	} else {
		result = nil
		if newData != nil {
			o.stash.Insert(Block{ID: addr, Leaf: newLeaf, Data: append([]byte(nil), newData...)})
		}
	}

	// Evict: write the old path back, greedily draining the stash onto it.
	var err error
	if o.cfg.ConstantTime {
		err = o.evictConstantTime(path)
	} else {
		err = o.evictWithStrategy(path)
	}
	if err != nil {
		return nil, err
	}

	return result, nil
}

// readPathIntoStash reads every bucket on path and inserts its non-dummy
// blocks into the stash, decrypting each with the configured Encryptor.
// Leaf is always taken fresh from the position map, the authoritative
// owner of leaf assignments, rather than from whatever a bucket's own
// block metadata last recorded.
func (o *PathORAM) readPathIntoStash(path []int) error {
	for _, bucketIdx := range path {
		bucket, err := o.storage.ReadBucket(bucketIdx)
		if err != nil {
			return err
		}
		if len(bucket) != o.cfg.BucketSize {
			return wrapCorrupt(ErrCorruptStore, "bucket %d has %d blocks, want %d", bucketIdx, len(bucket), o.cfg.BucketSize)
		}
		for _, sb := range bucket {
			if sb.IsDummy() {
				continue
			}
			plaintext, err := o.encrypt.Decrypt(sb.ID, sb.Leaf, sb.Data)
			if err != nil {
				return wrapCorrupt(err, "undecodable block %d in bucket %d", sb.ID, bucketIdx)
			}
			leaf, _ := o.posMap.Get(sb.ID)
			o.stash.Insert(Block{ID: sb.ID, Leaf: leaf, Data: plaintext})
		}
	}
	return nil
}

// blockToStorage encrypts b's plaintext for storage.
func (o *PathORAM) blockToStorage(b Block) (Block, error) {
	ciphertext, err := o.encrypt.Encrypt(b.ID, b.Leaf, b.Data)
	if err != nil {
		return Block{}, err
	}
	return Block{ID: b.ID, Leaf: b.Leaf, Data: ciphertext}, nil
}

// Path returns the root-to-leaf sequence of bucket ids for the given leaf.
func (o *PathORAM) Path(leaf int) []int {
	return PathNodes(o.height, leaf)
}

// canPlaceAt reports whether a block assigned to leaf could be placed in
// the bucket at bucketIdx.
func (o *PathORAM) canPlaceAt(leaf, bucketIdx int) bool {
	return IsAncestor(o.height, leaf, bucketIdx)
}
