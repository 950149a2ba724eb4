package cache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// NewStore 以 basePath 为根目录构建磁盘缓存，整个进程复用一份实例。
func NewStore(basePath string, opts ...Option) (Store, error) {
	if basePath == "" {
		return nil, errors.New("storage path required")
	}

	o := applyOptions(opts)
	if o.shardPrefixLen < 0 {
		return nil, errors.New("shard prefix length must be >= 0")
	}

	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve storage path: %w", err)
	}

	if err := os.MkdirAll(abs, o.dirPerm); err != nil {
		return nil, fmt.Errorf("create storage path: %w", err)
	}

	return &fileStore{
		basePath:       abs,
		shardPrefixLen: o.shardPrefixLen,
		dirPerm:        o.dirPerm,
		now:            o.now,
		locks:          make(map[string]*entryLock),
	}, nil
}

// fileStore 通过 entryLock 避免同一 key 并发写入交错，不同 key 之间完全并行。
type fileStore struct {
	basePath       string
	shardPrefixLen int
	dirPerm        os.FileMode
	now            func() time.Time

	mu    sync.Mutex
	locks map[string]*entryLock
}

type entryLock struct {
	mu   sync.Mutex
	refs int
}

// sectionReadCloser 把文件中载荷所在区间暴露为 io.ReadSeekCloser。
type sectionReadCloser struct {
	*io.SectionReader
	file *os.File
}

func (r *sectionReadCloser) Close() error {
	return r.file.Close()
}

func (s *fileStore) BasePath() string {
	return s.basePath
}

func (s *fileStore) Close() error {
	return nil
}

func (s *fileStore) TryGet(ctx context.Context, key cachekey.Key) (*Entry, []byte, error) {
	result, err := s.TryGetStream(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer result.Reader.Close()

	payload := make([]byte, result.Entry.SizeBytes)
	if _, err := io.ReadFull(result.Reader, payload); err != nil {
		return nil, nil, &StoreError{Op: "read", Key: key, Err: err}
	}
	entry := result.Entry
	return &entry, payload, nil
}

func (s *fileStore) TryGetStream(ctx context.Context, key cachekey.Key) (*ReadResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(filePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, &StoreError{Op: "open", Key: key, Err: err}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &StoreError{Op: "stat", Key: key, Err: err}
	}
	if info.IsDir() {
		f.Close()
		return nil, ErrNotFound
	}

	meta, offset, err := readFrameHeader(f)
	if err != nil {
		f.Close()
		return nil, &StoreError{Op: "read", Key: key, Err: err}
	}
	if meta.Key != string(key) || offset+meta.Size != info.Size() {
		f.Close()
		return nil, &StoreError{Op: "read", Key: key, Err: ErrCorrupt}
	}

	entry := meta.entry(filePath)
	if entry.Expired(s.now()) {
		f.Close()
		return nil, ErrNotFound
	}

	return &ReadResult{
		Entry: entry,
		Reader: &sectionReadCloser{
			SectionReader: io.NewSectionReader(f, offset, meta.Size),
			file:          f,
		},
	}, nil
}

func (s *fileStore) AddOrUpdate(ctx context.Context, key cachekey.Key, payload []byte, validity time.Duration) (*Entry, error) {
	if validity <= 0 {
		return nil, &StoreError{Op: "write", Key: key, Err: ErrInvalidValidity}
	}

	filePath, err := s.entryPath(key)
	if err != nil {
		return nil, err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.MkdirAll(filepath.Dir(filePath), s.dirPerm); err != nil {
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}

	tempFile, err := os.CreateTemp(filepath.Dir(filePath), tempPrefix+"*")
	if err != nil {
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}
	tempName := tempFile.Name()

	now := s.now().UTC()
	meta := entryMeta{
		Key:        string(key),
		StoredAt:   now,
		ValidUntil: now.Add(validity),
		Size:       int64(len(payload)),
	}

	_, err = writeFrameHeader(tempFile, meta)
	if err == nil {
		_, err = copyWithContext(ctx, tempFile, bytes.NewReader(payload))
	}
	closeErr := tempFile.Close()
	if err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempName)
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}

	if err := os.Rename(tempName, filePath); err != nil {
		os.Remove(tempName)
		return nil, &StoreError{Op: "write", Key: key, Err: err}
	}

	entry := meta.entry(filePath)
	return &entry, nil
}

func (s *fileStore) Remove(ctx context.Context, key cachekey.Key) error {
	filePath, err := s.entryPath(key)
	if err != nil {
		return err
	}

	unlock := s.lockEntry(key)
	defer unlock()

	if err := os.Remove(filePath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return &StoreError{Op: "remove", Key: key, Err: err}
	}
	return nil
}

func (s *fileStore) lockEntry(key cachekey.Key) func() {
	name := string(key)
	s.mu.Lock()
	lock := s.locks[name]
	if lock == nil {
		lock = &entryLock{}
		s.locks[name] = lock
	}
	lock.refs++
	s.mu.Unlock()

	lock.mu.Lock()
	return func() {
		lock.mu.Unlock()
		s.mu.Lock()
		lock.refs--
		if lock.refs == 0 {
			delete(s.locks, name)
		}
		s.mu.Unlock()
	}
}

func (s *fileStore) entryPath(key cachekey.Key) (string, error) {
	if !key.Valid() {
		return "", &StoreError{Op: "path", Key: key, Err: ErrInvalidKey}
	}
	if s.shardPrefixLen <= 0 {
		return filepath.Join(s.basePath, key.String()), nil
	}
	return filepath.Join(s.basePath, key.Shard(s.shardPrefixLen), key.String()), nil
}

func copyWithContext(ctx context.Context, dst io.Writer, src io.Reader) (int64, error) {
	var copied int64
	buf := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return copied, err
		}
		n, err := src.Read(buf)
		if n > 0 {
			w, wErr := dst.Write(buf[:n])
			copied += int64(w)
			if wErr != nil {
				return copied, wErr
			}
			if w < n {
				return copied, io.ErrShortWrite
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return copied, nil
			}
			return copied, err
		}
	}
}
