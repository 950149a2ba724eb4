package cache

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/any-hub/imgcache/internal/cachekey"
)

// 帧格式: magic(4) | ver(1) | metaLen(u32 be) | msgpack(meta) | payload
const (
	frameVersion   byte = 1
	framePrefixLen      = 4 + 1 + 4
	maxMetaLen          = 4 << 10
)

var frameMagic = [...]byte{'I', 'M', 'G', 'C'}

type entryMeta struct {
	Key        string    `msgpack:"key"`
	StoredAt   time.Time `msgpack:"stored_at"`
	ValidUntil time.Time `msgpack:"valid_until"`
	Size       int64     `msgpack:"size"`
}

func (m entryMeta) entry(filePath string) Entry {
	return Entry{
		Key:        cachekey.Key(m.Key),
		FilePath:   filePath,
		SizeBytes:  m.Size,
		StoredAt:   m.StoredAt,
		ValidUntil: m.ValidUntil,
	}
}

// writeFrameHeader 写入帧头并返回写入的字节数。
func writeFrameHeader(w io.Writer, meta entryMeta) (int64, error) {
	raw, err := msgpack.Marshal(&meta)
	if err != nil {
		return 0, fmt.Errorf("encode entry meta: %w", err)
	}
	var prefix [framePrefixLen]byte
	copy(prefix[:4], frameMagic[:])
	prefix[4] = frameVersion
	binary.BigEndian.PutUint32(prefix[5:], uint32(len(raw)))

	n, err := w.Write(prefix[:])
	if err != nil {
		return int64(n), err
	}
	m, err := w.Write(raw)
	return int64(n + m), err
}

// readFrameHeader 读取帧头，返回元信息与帧头总长度（即载荷偏移）。
func readFrameHeader(r io.Reader) (entryMeta, int64, error) {
	var prefix [framePrefixLen]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return entryMeta{}, 0, ErrCorrupt
	}
	if !bytes.Equal(prefix[:4], frameMagic[:]) || prefix[4] != frameVersion {
		return entryMeta{}, 0, ErrCorrupt
	}
	metaLen := binary.BigEndian.Uint32(prefix[5:])
	if metaLen == 0 || metaLen > maxMetaLen {
		return entryMeta{}, 0, ErrCorrupt
	}
	raw := make([]byte, metaLen)
	if _, err := io.ReadFull(r, raw); err != nil {
		return entryMeta{}, 0, ErrCorrupt
	}
	var meta entryMeta
	if err := msgpack.Unmarshal(raw, &meta); err != nil {
		return entryMeta{}, 0, ErrCorrupt
	}
	if meta.Size < 0 {
		return entryMeta{}, 0, ErrCorrupt
	}
	return meta, int64(framePrefixLen) + int64(metaLen), nil
}

// encodeFrame 生成完整帧，供 Redis 等整块存储的后端使用。
func encodeFrame(meta entryMeta, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(framePrefixLen + 64 + len(payload))
	if _, err := writeFrameHeader(&buf, meta); err != nil {
		return nil, err
	}
	buf.Write(payload)
	return buf.Bytes(), nil
}

// decodeFrame 解析完整帧，载荷长度必须与元信息一致。
func decodeFrame(b []byte) (entryMeta, []byte, error) {
	meta, offset, err := readFrameHeader(bytes.NewReader(b))
	if err != nil {
		return entryMeta{}, nil, err
	}
	payload := b[offset:]
	if int64(len(payload)) != meta.Size {
		return entryMeta{}, nil, ErrCorrupt
	}
	return meta, payload, nil
}
