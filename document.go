package pathoram

import (
	"bytes"
	"fmt"
	"sync"
)

// documentFiller right-pads a document's last chunk out to a full block.
// Plaintext documents are assumed not to end in this byte, matching the
// Wikipedia-article corpus this layer is modeled on.
const documentFiller = " "

// DocumentStore is the thin collaborator sitting above the engine: it
// chunks variable-length documents into engine-sized blocks, keeps a
// title -> address-list index, and reassembles a document on read. It
// never touches the tree, position map, or stash directly; every chunk
// moves through the engine's own Access state machine, so an ingest or a
// read looks to the server like any other run of oblivious accesses.
type DocumentStore struct {
	engine *PathORAM

	mu       sync.Mutex
	titles   map[string][]int
	nextAddr int
}

// NewDocumentStore wraps an already-constructed engine. The engine's
// Capacity must be large enough to hold every chunk of every document
// that will be ingested; Ingest returns ErrInvalidConfig once addresses
// run out.
func NewDocumentStore(engine *PathORAM) *DocumentStore {
	return &DocumentStore{
		engine: engine,
		titles: make(map[string][]int),
	}
}

// RequiredBlocks returns the number of blockSize-sized blocks needed to
// hold dataLen bytes (ceil division), with a floor of one block so an
// empty document still gets an address.
func RequiredBlocks(dataLen, blockSize int) int {
	if dataLen == 0 {
		return 1
	}
	return (dataLen + blockSize - 1) / blockSize
}

// Ingest chunks data into BlockSize()-sized blocks, right-pads the last
// chunk with documentFiller, and writes each chunk to the engine at
// consecutively assigned addresses starting from the next free address.
// Re-ingesting an existing title overwrites its index entry; it does not
// reclaim the addresses the title previously occupied.
func (d *DocumentStore) Ingest(title string, data []byte) error {
	blockSize := d.engine.BlockSize()
	n := RequiredBlocks(len(data), blockSize)

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.nextAddr+n > d.engine.Capacity() {
		return fmt.Errorf("%w: document %q needs %d blocks, only %d remain", ErrInvalidConfig, title, n, d.engine.Capacity()-d.nextAddr)
	}

	addrs := make([]int, n)
	for i := 0; i < n; i++ {
		addr := d.nextAddr + i
		chunk := chunkAt(data, i, blockSize)
		if _, err := d.engine.Write(addr, chunk); err != nil {
			return err
		}
		addrs[i] = addr
	}

	d.titles[title] = addrs
	d.nextAddr += n
	return nil
}

// Read reassembles the document stored under title by reading each of its
// blocks in address order and stripping the filler padding trailing the
// last chunk. An unknown title returns ErrNotFound.
func (d *DocumentStore) Read(title string) ([]byte, error) {
	d.mu.Lock()
	addrs, ok := d.titles[title]
	d.mu.Unlock()
	if !ok {
		return nil, ErrNotFound
	}

	var buf bytes.Buffer
	for _, addr := range addrs {
		chunk, err := d.engine.Read(addr)
		if err != nil {
			return nil, err
		}
		buf.Write(chunk)
	}
	return bytes.TrimRight(buf.Bytes(), documentFiller), nil
}

// chunkAt returns the i-th blockSize-sized chunk of data, right-padded
// with documentFiller when data runs out partway through it.
func chunkAt(data []byte, i, blockSize int) []byte {
	chunk := make([]byte, blockSize)
	for j := range chunk {
		chunk[j] = documentFiller[0]
	}
	start := i * blockSize
	if start >= len(data) {
		return chunk
	}
	end := start + blockSize
	if end > len(data) {
		end = len(data)
	}
	copy(chunk, data[start:end])
	return chunk
}
