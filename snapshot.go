package pathoram

import (
	"bytes"
	"encoding/gob"
	"fmt"
)

// snapshotPositionMap is implemented by PositionMap implementations whose
// entire state can be captured and restored in memory. InMemoryPositionMap
// is the only one today; a recursive-ORAM position map would need its own
// snapshot story and simply won't satisfy this interface.
type snapshotPositionMap interface {
	entries() map[int]int
	restoreEntries(map[int]int)
}

// snapshotPayload is the gob-encoded body of a Snapshot. It never crosses
// a process or language boundary: the tree itself lives in Storage, which
// snapshots (or not) on its own terms. gob is a fine wire format here even
// though it isn't for the bucket encoding in sqlitestorage.go.
type snapshotPayload struct {
	Config Config
	PosMap map[int]int
	Stash  map[int]Block
}

// Snapshot captures the client-side state (position map, stash, and
// engine parameters N/Z/block_len) needed to resume reading the same tree
// later, as an opaque byte string. The tree itself lives in Storage and
// is not part of the payload.
func (o *PathORAM) Snapshot() ([]byte, error) {
	spm, ok := o.posMap.(snapshotPositionMap)
	if !ok {
		return nil, ErrSnapshotUnsupported
	}
	payload := snapshotPayload{
		Config: o.cfg,
		PosMap: spm.entries(),
		Stash:  o.stash.entries(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return buf.Bytes(), nil
}

// Restore replaces the engine's position map and stash with the contents of
// a previously taken Snapshot. The caller is responsible for binding Restore
// to an engine pointed at the same Storage the snapshot was taken against;
// Restore only checks that the snapshot's (N, Z, block_len) match this
// engine's configuration, as a sanity check against obviously mismatched
// stores. A poisoned engine is un-poisoned by a successful restore, since
// restoring establishes a known-good state.
func (o *PathORAM) Restore(snapshot []byte) error {
	var payload snapshotPayload
	if err := gob.NewDecoder(bytes.NewReader(snapshot)).Decode(&payload); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if payload.Config.NumBlocks != o.cfg.NumBlocks ||
		payload.Config.BlockSize != o.cfg.BlockSize ||
		payload.Config.BucketSize != o.cfg.BucketSize {
		return ErrInvalidConfig
	}
	spm, ok := o.posMap.(snapshotPositionMap)
	if !ok {
		return ErrSnapshotUnsupported
	}
	spm.restoreEntries(payload.PosMap)
	o.stash.restoreEntries(payload.Stash)
	o.poisoned = false
	return nil
}
