// Package depot provides content-addressed blob storage keyed by versioned
// identifier, with digest verification on both write and read.
package depot

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/ComputeHeavy/gonk/internal/encryption"
	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// FileSystem stores blobs in a directory tree:
//
//	<root>/depot/
//	  <uuid>/
//	    <version>          (blob bytes, optionally encrypted at rest)
//	    <version>.digest   (declared plaintext digest, hex)
//
// Writes go through a temp file and rename so a crash never leaves a
// half-written blob behind a finalized name. Digests always refer to the
// plaintext, whether or not at-rest encryption is on.
type FileSystem struct {
	root string
	enc  encryption.Encryptor
}

// NewFileSystem creates a filesystem depot rooted at dir.
func NewFileSystem(dir string) (*FileSystem, error) {
	return NewEncryptedFileSystem(dir, nil)
}

// NewEncryptedFileSystem creates a filesystem depot that encrypts blobs at
// rest with enc. A nil enc stores plaintext.
func NewEncryptedFileSystem(dir string, enc encryption.Encryptor) (*FileSystem, error) {
	root := filepath.Join(dir, "depot")
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("creating depot directory: %w", err)
	}
	return &FileSystem{root: root, enc: enc}, nil
}

func (d *FileSystem) blobPath(id gonk.Identifier) string {
	return filepath.Join(d.root, id.UUID.String(), strconv.Itoa(id.Version))
}

func (d *FileSystem) digestPath(id gonk.Identifier) string {
	return d.blobPath(id) + ".digest"
}

func (d *FileSystem) Write(id gonk.Identifier, r io.Reader, size int64, digest string) error {
	if ok, err := d.Exists(id); err != nil {
		return err
	} else if ok {
		// Deduplicated: the identifier already holds finalized bytes with a
		// verified digest. Drain the reader so callers see consistent
		// behavior either way.
		written, err := io.Copy(io.Discard, r)
		if err != nil {
			return fmt.Errorf("reading blob: %w", err)
		}
		if written != size {
			return gonk.Integrityf("size", "expected %d bytes, got %d", size, written)
		}
		stored, err := os.ReadFile(d.digestPath(id))
		if err != nil {
			return fmt.Errorf("reading digest sidecar: %w", err)
		}
		if strings.TrimSpace(string(stored)) != digest {
			return gonk.Integrityf("digest", "identifier already holds different bytes")
		}
		return nil
	}

	dir := filepath.Dir(d.blobPath(id))
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating blob directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	var written int64
	if d.enc != nil {
		counted := &countingReader{r: io.TeeReader(r, h)}
		if err := d.enc.Encrypt(counted, tmp); err != nil {
			tmp.Close()
			return fmt.Errorf("writing blob: %w", err)
		}
		written = counted.n
	} else {
		var err error
		written, err = io.Copy(io.MultiWriter(tmp, h), r)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("writing blob: %w", err)
		}
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}
	if written != size {
		return gonk.Integrityf("size", "expected %d bytes, got %d", size, written)
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		return gonk.Integrityf("digest", "bytes hash to %s, declared %s", got, digest)
	}

	if err := os.WriteFile(d.digestPath(id), []byte(digest+"\n"), 0644); err != nil {
		return fmt.Errorf("writing digest sidecar: %w", err)
	}
	if err := os.Rename(tmpPath, d.blobPath(id)); err != nil {
		os.Remove(d.digestPath(id))
		return fmt.Errorf("finalizing blob: %w", err)
	}
	success = true
	return nil
}

func (d *FileSystem) Read(id gonk.Identifier, w io.Writer) error {
	stored, err := os.ReadFile(d.digestPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return gonk.NotFoundf("blob", "%s", id)
		}
		return fmt.Errorf("reading digest sidecar: %w", err)
	}
	digest := strings.TrimSpace(string(stored))

	f, err := os.Open(d.blobPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return gonk.NotFoundf("blob", "%s", id)
		}
		return fmt.Errorf("opening blob: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if d.enc != nil {
		if err := d.enc.Decrypt(f, io.MultiWriter(w, h)); err != nil {
			return fmt.Errorf("reading blob: %w", err)
		}
	} else {
		if _, err := io.Copy(io.MultiWriter(w, h), f); err != nil {
			return fmt.Errorf("reading blob: %w", err)
		}
	}
	if got := hex.EncodeToString(h.Sum(nil)); got != digest {
		return gonk.Integrityf("digest", "blob %s hashes to %s, recorded %s", id, got, digest)
	}
	return nil
}

func (d *FileSystem) Exists(id gonk.Identifier) (bool, error) {
	if _, err := os.Stat(d.blobPath(id)); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking blob: %w", err)
	}
	return true, nil
}

func (d *FileSystem) Purge(id gonk.Identifier) error {
	if err := os.Remove(d.blobPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing blob: %w", err)
	}
	if err := os.Remove(d.digestPath(id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing digest sidecar: %w", err)
	}
	// Drop the per-UUID directory once its last version is gone.
	os.Remove(filepath.Dir(d.blobPath(id)))
	return nil
}

// countingReader tracks plaintext length while the encryptor consumes it.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

var _ gonk.Depot = (*FileSystem)(nil)
