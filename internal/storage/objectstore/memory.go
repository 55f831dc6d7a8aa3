package objectstore

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Store with the same precondition semantics as S3.
// It backs tests and local runs of the task handlers.
type Memory struct {
	mu      sync.Mutex
	objects map[string]memoryObject
	now     func() time.Time

	// PresignBase is prepended to presigned keys; defaults to memory://.
	PresignBase string
}

type memoryObject struct {
	data        []byte
	etag        string
	contentType string
	modified    time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: map[string]memoryObject{}, now: time.Now}
}

func (m *Memory) Put(ctx context.Context, bucket, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return ObjectInfo{}, err
	}
	if size >= 0 && int64(len(data)) != size {
		return ObjectInfo{}, fmt.Errorf("size mismatch: got %d want %d", len(data), size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	id := memoryKey(bucket, key)
	current, exists := m.objects[id]
	if opts.IfNoneMatch && exists {
		return ObjectInfo{}, fmt.Errorf("%w: %s exists", ErrPreconditionFailed, key)
	}
	if opts.IfMatch != "" && (!exists || current.etag != opts.IfMatch) {
		return ObjectInfo{}, fmt.Errorf("%w: %s etag changed", ErrPreconditionFailed, key)
	}

	sum := md5.Sum(data)
	obj := memoryObject{
		data:        data,
		etag:        hex.EncodeToString(sum[:]),
		contentType: opts.ContentType,
		modified:    m.now().UTC(),
	}
	m.objects[id] = obj
	return obj.info(key), nil
}

func (m *Memory) Get(ctx context.Context, bucket, key string) (io.ReadCloser, ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	if !ok {
		return nil, ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(obj.data)), obj.info(key), nil
}

func (m *Memory) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[memoryKey(bucket, key)]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj.info(key), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, memoryKey(bucket, key))
	return nil
}

func (m *Memory) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ObjectInfo, 0)
	for id, obj := range m.objects {
		b, key, _ := strings.Cut(id, "/")
		if b != bucket || !strings.HasPrefix(key, prefix) {
			continue
		}
		out = append(out, obj.info(key))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

func (m *Memory) PresignGet(ctx context.Context, bucket, key string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	base := m.PresignBase
	if base == "" {
		base = "memory://"
	}
	q := url.Values{}
	q.Set("expires", m.now().Add(ttl).UTC().Format(time.RFC3339))
	return base + bucket + "/" + key + "?" + q.Encode(), nil
}

func (o memoryObject) info(key string) ObjectInfo {
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(o.data)),
		ETag:         o.etag,
		ContentType:  o.contentType,
		LastModified: o.modified,
	}
}

func memoryKey(bucket, key string) string {
	return bucket + "/" + key
}
