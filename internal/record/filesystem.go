// Package record provides append-only event log backends.
package record

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	"github.com/ComputeHeavy/gonk/internal/gonk"
)

// FileSystem keeps the log in a single append-only file of length-prefixed
// event records (4-byte big-endian length, then the wire JSON). A parallel
// index file maps event UUID to file offset; it is a cache and is rebuilt
// from the log every time the log is opened.
type FileSystem struct {
	mu        sync.RWMutex
	logPath   string
	indexPath string
	log       *os.File
	offsets   map[uuid.UUID]int64
	seqs      map[uuid.UUID]uint64
	order     []uuid.UUID
}

// NewFileSystem opens (or creates) the log under dir.
func NewFileSystem(dir string) (*FileSystem, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating record directory: %w", err)
	}

	rk := &FileSystem{
		logPath:   filepath.Join(dir, "events.log"),
		indexPath: filepath.Join(dir, "events.idx"),
		offsets:   make(map[uuid.UUID]int64),
		seqs:      make(map[uuid.UUID]uint64),
	}

	f, err := os.OpenFile(rk.logPath, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		return nil, fmt.Errorf("opening log file: %w", err)
	}
	rk.log = f

	if err := rk.load(); err != nil {
		f.Close()
		return nil, err
	}
	return rk, nil
}

// Close releases the log file handle.
func (rk *FileSystem) Close() error {
	rk.mu.Lock()
	defer rk.mu.Unlock()
	return rk.log.Close()
}

// load scans the log, rebuilding the in-memory maps, and rewrites the index
// file from them.
func (rk *FileSystem) load() error {
	if _, err := rk.log.Seek(0, io.SeekStart); err != nil {
		return fmt.Errorf("seeking log: %w", err)
	}

	br := bufio.NewReader(rk.log)
	var offset int64
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(br, lenBuf[:]); err != nil {
			if err == io.EOF {
				break
			}
			return fmt.Errorf("log truncated at offset %d: %w", offset, err)
		}
		n := binary.BigEndian.Uint32(lenBuf[:])
		data := make([]byte, n)
		if _, err := io.ReadFull(br, data); err != nil {
			return fmt.Errorf("log truncated at offset %d: %w", offset, err)
		}

		ev, err := gonk.Decode(data)
		if err != nil {
			return fmt.Errorf("log record at offset %d: %w", offset, err)
		}
		rk.offsets[ev.UUID] = offset
		rk.seqs[ev.UUID] = uint64(len(rk.order))
		rk.order = append(rk.order, ev.UUID)
		offset += int64(4 + n)
	}

	return rk.writeIndex()
}

func (rk *FileSystem) writeIndex() error {
	tmp, err := os.CreateTemp(filepath.Dir(rk.indexPath), ".idx-*")
	if err != nil {
		return fmt.Errorf("creating index temp file: %w", err)
	}
	w := bufio.NewWriter(tmp)
	for _, id := range rk.order {
		fmt.Fprintf(w, "%s\t%d\n", id, rk.offsets[id])
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing index: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("closing index: %w", err)
	}
	if err := os.Rename(tmp.Name(), rk.indexPath); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("finalizing index: %w", err)
	}
	return nil
}

func (rk *FileSystem) Append(ev *gonk.Event) error {
	rk.mu.Lock()
	defer rk.mu.Unlock()

	if _, ok := rk.offsets[ev.UUID]; ok {
		return gonk.Validationf("event-uuid", "event UUID already exists")
	}

	data, err := ev.Encode()
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}

	offset, err := rk.log.Seek(0, io.SeekEnd)
	if err != nil {
		return fmt.Errorf("seeking log end: %w", err)
	}

	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(data)))
	if _, err := rk.log.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("writing record length: %w", err)
	}
	if _, err := rk.log.Write(data); err != nil {
		return fmt.Errorf("writing record: %w", err)
	}
	if err := rk.log.Sync(); err != nil {
		return fmt.Errorf("syncing log: %w", err)
	}

	idx, err := os.OpenFile(rk.indexPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	_, werr := fmt.Fprintf(idx, "%s\t%d\n", ev.UUID, offset)
	cerr := idx.Close()
	if werr != nil {
		return fmt.Errorf("appending index: %w", werr)
	}
	if cerr != nil {
		return fmt.Errorf("closing index: %w", cerr)
	}

	rk.offsets[ev.UUID] = offset
	rk.seqs[ev.UUID] = uint64(len(rk.order))
	rk.order = append(rk.order, ev.UUID)
	return nil
}

func (rk *FileSystem) readAt(offset int64) (*gonk.Event, error) {
	var lenBuf [4]byte
	if _, err := rk.log.ReadAt(lenBuf[:], offset); err != nil {
		return nil, fmt.Errorf("reading record length: %w", err)
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	data := make([]byte, n)
	if _, err := rk.log.ReadAt(data, offset+4); err != nil {
		return nil, fmt.Errorf("reading record: %w", err)
	}
	return gonk.Decode(data)
}

func (rk *FileSystem) Read(id uuid.UUID) (*gonk.Event, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()

	offset, ok := rk.offsets[id]
	if !ok {
		return nil, gonk.NotFoundf("event", "%s", id)
	}
	return rk.readAt(offset)
}

func (rk *FileSystem) At(seq uint64) (*gonk.Event, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()

	if seq >= uint64(len(rk.order)) {
		return nil, gonk.NotFoundf("event", "seq %d", seq)
	}
	return rk.readAt(rk.offsets[rk.order[seq]])
}

func (rk *FileSystem) Exists(id uuid.UUID) (bool, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	_, ok := rk.offsets[id]
	return ok, nil
}

func (rk *FileSystem) Next(after *uuid.UUID) (*uuid.UUID, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()

	if after == nil {
		if len(rk.order) == 0 {
			return nil, nil
		}
		head := rk.order[0]
		return &head, nil
	}
	seq, ok := rk.seqs[*after]
	if !ok {
		return nil, gonk.NotFoundf("event", "%s", *after)
	}
	if seq+1 >= uint64(len(rk.order)) {
		return nil, nil
	}
	next := rk.order[seq+1]
	return &next, nil
}

func (rk *FileSystem) Tail() (*uuid.UUID, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()

	if len(rk.order) == 0 {
		return nil, nil
	}
	tail := rk.order[len(rk.order)-1]
	return &tail, nil
}

func (rk *FileSystem) Count() (uint64, error) {
	rk.mu.RLock()
	defer rk.mu.RUnlock()
	return uint64(len(rk.order)), nil
}

var _ gonk.RecordKeeper = (*FileSystem)(nil)
