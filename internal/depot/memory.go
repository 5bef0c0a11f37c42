package depot

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"sync"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

type memoryBlob struct {
	data   []byte
	digest string
}

// Memory is an in-memory depot. Use in tests.
type Memory struct {
	mu    sync.RWMutex
	blobs map[gonk.Identifier]memoryBlob
}

func NewMemory() *Memory {
	return &Memory{blobs: make(map[gonk.Identifier]memoryBlob)}
}

func (d *Memory) Write(id gonk.Identifier, r io.Reader, size int64, digest string) error {
	var buf bytes.Buffer
	written, err := io.Copy(&buf, r)
	if err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}
	if written != size {
		return gonk.Integrityf("size", "expected %d bytes, got %d", size, written)
	}
	sum := sha256.Sum256(buf.Bytes())
	if got := hex.EncodeToString(sum[:]); got != digest {
		return gonk.Integrityf("digest", "bytes hash to %s, declared %s", got, digest)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if existing, ok := d.blobs[id]; ok {
		if existing.digest != digest {
			return gonk.Integrityf("digest", "identifier already holds different bytes")
		}
		return nil
	}
	d.blobs[id] = memoryBlob{data: buf.Bytes(), digest: digest}
	return nil
}

func (d *Memory) Read(id gonk.Identifier, w io.Writer) error {
	d.mu.RLock()
	blob, ok := d.blobs[id]
	d.mu.RUnlock()
	if !ok {
		return gonk.NotFoundf("blob", "%s", id)
	}
	sum := sha256.Sum256(blob.data)
	if got := hex.EncodeToString(sum[:]); got != blob.digest {
		return gonk.Integrityf("digest", "blob %s hashes to %s, recorded %s", id, got, blob.digest)
	}
	if _, err := w.Write(blob.data); err != nil {
		return fmt.Errorf("writing blob: %w", err)
	}
	return nil
}

func (d *Memory) Exists(id gonk.Identifier) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	_, ok := d.blobs[id]
	return ok, nil
}

func (d *Memory) Purge(id gonk.Identifier) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.blobs, id)
	return nil
}

// Corrupt overwrites the stored bytes for id without touching the recorded
// digest. Test hook for integrity failures.
func (d *Memory) Corrupt(id gonk.Identifier, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if blob, ok := d.blobs[id]; ok {
		blob.data = data
		d.blobs[id] = blob
	}
}

var _ gonk.Depot = (*Memory)(nil)
