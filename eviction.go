package pathoram

import (
	"sort"

	"go.uber.org/zap"
)

// evictWithStrategy dispatches to the configured eviction strategy. Every
// strategy writes every bucket on path, regardless of whether any stash
// block actually lands there. Only the default EvictLevelByLevel keeps the
// access log at exactly L+1 reads followed by L+1 writes per access; the
// other strategies add reads (and, for the two-path strategy, a second
// path's reads and writes).
func (o *PathORAM) evictWithStrategy(path []int) error {
	switch o.cfg.EvictionStrategy {
	case EvictGreedyByDepth:
		return o.evictGreedyByDepth(path)
	case EvictDeterministicTwoPath:
		if err := o.evictGreedyByDepth(path); err != nil {
			return err
		}
		secondPath := PathNodes(o.height, o.randomLeaf())
		if err := o.readPathIntoStash(secondPath); err != nil {
			return err
		}
		return o.evictGreedyByDepth(secondPath)
	default: // EvictLevelByLevel
		return o.evict(path)
	}
}

// evict walks path from leaf to root, and at each level selects up to Z
// stash blocks whose currently assigned path agrees with path at this
// level, writing exactly Z blocks (selected ones plus dummy padding)
// unconditionally.
//
// Selection order among eligible addresses only needs to be deterministic
// for a fixed stash content, so candidate addresses are sorted
// numerically rather than relying on map iteration order.
func (o *PathORAM) evict(path []int) error {
	stashPaths := o.stashPaths()

	for l := len(path) - 1; l >= 0; l-- {
		node := path[l]

		var candidates []int
		o.stash.Each(func(b Block) bool {
			if stashPaths[b.ID][l] == node {
				candidates = append(candidates, b.ID)
			}
			return true
		})
		sort.Ints(candidates)
		if len(candidates) > o.cfg.BucketSize {
			candidates = candidates[:o.cfg.BucketSize]
		}

		blocks := make([]Block, 0, o.cfg.BucketSize)
		for _, addr := range candidates {
			b, _ := o.stash.Get(addr)
			storageBlock, err := o.blockToStorage(b)
			if err != nil {
				return err
			}
			blocks = append(blocks, storageBlock)
			o.stash.Remove(addr)
		}
		for len(blocks) < o.cfg.BucketSize {
			blocks = append(blocks, dummyStorageBlock(o.storage.BlockSize()))
		}

		if err := o.storage.WriteBucket(node, blocks); err != nil {
			return err
		}
	}

	return o.checkStashLimit()
}

// stashPaths precomputes, for every address currently in the stash, the
// root-to-leaf path its current position-map entry assigns it to. Run
// once before the per-level write-back loop in evict.
func (o *PathORAM) stashPaths() map[int][]int {
	paths := make(map[int][]int)
	o.stash.Each(func(b Block) bool {
		leaf, _ := o.posMap.Get(b.ID)
		paths[b.ID] = PathNodes(o.height, leaf)
		return true
	})
	return paths
}

// checkStashLimit logs a capacity-warning once the stash exceeds its soft
// limit, and fails hard only past the configured hard backstop.
func (o *PathORAM) checkStashLimit() error {
	n := o.stash.Len()
	if n > o.cfg.StashWarnLimit {
		o.logger().Warn("stash above soft limit",
			zap.Int("size", n), zap.Int("warn_limit", o.cfg.StashWarnLimit))
	}
	if n > o.cfg.StashLimit {
		return ErrStashOverflow
	}
	return nil
}

// evictGreedyByDepth places each stash block at its deepest possible level
// first (leaf before root), rebuilding each bucket on path from dummies
// plus stash blocks. Kept as an opt-in alternative to the level-by-level
// default; it issues an extra read per bucket on path, so it does not
// preserve the exact-L+1-reads access-log shape the default strategy
// guarantees.
func (o *PathORAM) evictGreedyByDepth(path []int) error {
	buckets := make([][]Block, len(path))
	for i, bucketIdx := range path {
		if _, err := o.storage.ReadBucket(bucketIdx); err != nil {
			return err
		}
		// Every real block on path is already in the stash, so the bucket's
		// old contents are dropped rather than kept as stale copies.
		buckets[i] = dummyBucket(o.cfg.BucketSize, o.storage.BlockSize())
	}

	addrs := o.stash.Addrs()
	sort.Ints(addrs)

	for _, addr := range addrs {
		b, ok := o.stash.Get(addr)
		if !ok {
			continue
		}
		leaf, _ := o.posMap.Get(addr)
		placed := false

		for level := len(path) - 1; level >= 0 && !placed; level-- {
			if !IsAncestor(o.height, leaf, path[level]) {
				continue
			}
			for slot := range buckets[level] {
				if buckets[level][slot].IsDummy() {
					storageBlock, err := o.blockToStorage(b)
					if err != nil {
						return err
					}
					buckets[level][slot] = storageBlock
					o.stash.Remove(addr)
					placed = true
					break
				}
			}
		}
	}

	for i, bucketIdx := range path {
		if err := o.storage.WriteBucket(bucketIdx, buckets[i]); err != nil {
			return err
		}
	}

	return o.checkStashLimit()
}

func dummyStorageBlock(blockSize int) Block {
	return Block{ID: EmptyBlockID, Leaf: -1, Data: make([]byte, blockSize)}
}
