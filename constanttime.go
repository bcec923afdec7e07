package pathoram

import "crypto/subtle"

// findInStashConstantTime searches the stash without timing leaks: it
// always iterates every stash entry regardless of where (or whether) the
// match occurs. Nothing in the package calls it: with Config.ConstantTime
// set, only eviction switches to evictConstantTime, and access still looks
// addr up with Stash.Get.
func (o *PathORAM) findInStashConstantTime(blockID int) (bool, []byte) {
	found := 0
	result := make([]byte, o.cfg.BlockSize)

	addrs := o.stash.Addrs()
	for _, addr := range addrs {
		b, _ := o.stash.Get(addr)
		match := subtle.ConstantTimeEq(int32(b.ID), int32(blockID))
		found |= match
		subtle.ConstantTimeCopy(match, result, b.Data)
	}
	return found == 1, result
}

// isAncestorConstantTime is IsAncestor without early exit: it always
// walks every level of the tree rather than stopping at the first match.
func (o *PathORAM) isAncestorConstantTime(leaf, bucketIdx int) bool {
	leafBucket := o.numLeaves - 1 + leaf
	found := 0

	for level := 0; level <= o.height; level++ {
		b := leafBucket
		for j := 0; j < level; j++ {
			b = Parent(b)
		}
		found |= subtle.ConstantTimeEq(int32(b), int32(bucketIdx))
	}
	return found == 1
}

// evictConstantTime performs eviction with a fixed loop shape: it always
// processes every stash entry against every path bucket and slot, whether
// or not the entry has already been placed. The placement itself (the
// ancestry test, the slot write and the stash removal) is still done
// under ordinary branches on the computed flags.
func (o *PathORAM) evictConstantTime(path []int) error {
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
	for _, addr := range addrs {
		b, _ := o.stash.Get(addr)
		placed := 0

		for level := 0; level < len(path); level++ {
			bucketIdx := path[level]

			canPlace := 0
			if o.isAncestorConstantTime(b.Leaf, bucketIdx) {
				canPlace = 1
			}

			for slot := range buckets[level] {
				isEmpty := subtle.ConstantTimeEq(int32(buckets[level][slot].ID), int32(EmptyBlockID))
				shouldPlace := canPlace & isEmpty & (1 ^ placed)

				if shouldPlace == 1 {
					storageBlock, err := o.blockToStorage(b)
					if err != nil {
						return err
					}
					buckets[level][slot] = storageBlock
					placed = 1
				}
			}
		}

		if placed == 1 {
			o.stash.Remove(addr)
		}
	}

	for i, bucketIdx := range path {
		if err := o.storage.WriteBucket(bucketIdx, buckets[i]); err != nil {
			return err
		}
	}

	return o.checkStashLimit()
}
