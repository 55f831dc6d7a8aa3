// Package taskstore persists DataAssetTask snapshots between a dispatch step
// and the completion that resumes it.
//
// Snapshots live at <prefix>/<taskKind>/<id>. Every read returns the object
// version (ETag) so writers can make their write conditional on nothing having
// changed since they read; Update wraps that read-modify-write in a bounded
// retry loop.
package taskstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/animus-labs/animus-datafabric/internal/domain"
	"github.com/animus-labs/animus-datafabric/internal/storage/objectstore"
)

var (
	ErrNotFound        = errors.New("task context not found")
	ErrVersionConflict = errors.New("task context version conflict")
)

const (
	defaultSignedTTL     = time.Hour
	defaultUpdateRetries = 5
)

type Config struct {
	Bucket        string
	Prefix        string
	SignedTTL     time.Duration
	UpdateRetries int
}

type Store struct {
	objects objectstore.Store
	cfg     Config
}

// Snapshot is a stored task plus the version it was read at.
type Snapshot struct {
	Task    domain.DataAssetTask
	Version string
}

func New(objects objectstore.Store, cfg Config) (*Store, error) {
	if objects == nil {
		return nil, errors.New("object store is required")
	}
	if strings.TrimSpace(cfg.Bucket) == "" {
		return nil, errors.New("bucket is required")
	}
	if cfg.SignedTTL <= 0 {
		cfg.SignedTTL = defaultSignedTTL
	}
	if cfg.UpdateRetries <= 0 {
		cfg.UpdateRetries = defaultUpdateRetries
	}
	cfg.Prefix = strings.Trim(cfg.Prefix, "/")
	return &Store{objects: objects, cfg: cfg}, nil
}

// Key returns the object key for a task kind and id.
func (s *Store) Key(kind domain.TaskKind, id string) string {
	return path.Join(s.cfg.Prefix, string(kind), id)
}

// Put overwrites the snapshot for (kind, id) and returns the new version.
func (s *Store) Put(ctx context.Context, kind domain.TaskKind, id string, task domain.DataAssetTask) (string, error) {
	return s.write(ctx, kind, id, task, objectstore.PutOptions{})
}

// PutIfAbsent writes only when no snapshot exists yet.
func (s *Store) PutIfAbsent(ctx context.Context, kind domain.TaskKind, id string, task domain.DataAssetTask) (string, error) {
	return s.write(ctx, kind, id, task, objectstore.PutOptions{IfNoneMatch: true})
}

// PutIfVersion writes only when the stored snapshot is still at version.
func (s *Store) PutIfVersion(ctx context.Context, kind domain.TaskKind, id string, task domain.DataAssetTask, version string) (string, error) {
	if version == "" {
		return "", errors.New("version is required")
	}
	return s.write(ctx, kind, id, task, objectstore.PutOptions{IfMatch: version})
}

func (s *Store) Get(ctx context.Context, kind domain.TaskKind, id string) (Snapshot, error) {
	if err := validateKey(kind, id); err != nil {
		return Snapshot{}, err
	}
	rc, info, err := s.objects.Get(ctx, s.cfg.Bucket, s.Key(kind, id))
	if err != nil {
		if errors.Is(err, objectstore.ErrNotFound) {
			return Snapshot{}, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
		}
		return Snapshot{}, fmt.Errorf("get %s/%s: %w", kind, id, err)
	}
	defer rc.Close()

	var task domain.DataAssetTask
	if err := json.NewDecoder(rc).Decode(&task); err != nil {
		return Snapshot{}, fmt.Errorf("decode %s/%s: %w", kind, id, err)
	}
	return Snapshot{Task: task, Version: info.ETag}, nil
}

// Update loads the snapshot, applies fn and writes it back conditionally.
// On a concurrent write the whole cycle is retried against the fresh snapshot.
func (s *Store) Update(ctx context.Context, kind domain.TaskKind, id string, fn func(*domain.DataAssetTask) error) (Snapshot, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.UpdateRetries; attempt++ {
		snap, err := s.Get(ctx, kind, id)
		if err != nil {
			return Snapshot{}, err
		}
		if err := fn(&snap.Task); err != nil {
			return Snapshot{}, err
		}
		version, err := s.PutIfVersion(ctx, kind, id, snap.Task, snap.Version)
		if err == nil {
			return Snapshot{Task: snap.Task, Version: version}, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return Snapshot{}, err
		}
		lastErr = err
		if err := ctx.Err(); err != nil {
			return Snapshot{}, err
		}
	}
	return Snapshot{}, fmt.Errorf("update %s/%s after %d attempts: %w", kind, id, s.cfg.UpdateRetries, lastErr)
}

// SignedReference returns a time-boxed GET URL for the snapshot. A ttl <= 0
// uses the configured default.
func (s *Store) SignedReference(ctx context.Context, kind domain.TaskKind, id string, ttl time.Duration) (string, error) {
	if err := validateKey(kind, id); err != nil {
		return "", err
	}
	if ttl <= 0 {
		ttl = s.cfg.SignedTTL
	}
	u, err := s.objects.PresignGet(ctx, s.cfg.Bucket, s.Key(kind, id), ttl)
	if err != nil {
		return "", fmt.Errorf("sign %s/%s: %w", kind, id, err)
	}
	return u, nil
}

// PutAndSign persists a snapshot and returns a signed reference to it.
func (s *Store) PutAndSign(ctx context.Context, kind domain.TaskKind, id string, task domain.DataAssetTask) (string, error) {
	if _, err := s.Put(ctx, kind, id, task); err != nil {
		return "", err
	}
	return s.SignedReference(ctx, kind, id, 0)
}

func (s *Store) write(ctx context.Context, kind domain.TaskKind, id string, task domain.DataAssetTask, opts objectstore.PutOptions) (string, error) {
	if err := validateKey(kind, id); err != nil {
		return "", err
	}
	body, err := json.Marshal(task)
	if err != nil {
		return "", fmt.Errorf("encode %s/%s: %w", kind, id, err)
	}
	opts.ContentType = "application/json"
	info, err := s.objects.Put(ctx, s.cfg.Bucket, s.Key(kind, id), bytes.NewReader(body), int64(len(body)), opts)
	if err != nil {
		if errors.Is(err, objectstore.ErrPreconditionFailed) {
			return "", fmt.Errorf("%w: %s/%s", ErrVersionConflict, kind, id)
		}
		return "", fmt.Errorf("put %s/%s: %w", kind, id, err)
	}
	return info.ETag, nil
}

func validateKey(kind domain.TaskKind, id string) error {
	if kind == "" {
		return errors.New("task kind is required")
	}
	if strings.TrimSpace(id) == "" {
		return errors.New("task id is required")
	}
	if strings.Contains(id, "/") {
		return fmt.Errorf("task id must not contain '/': %q", id)
	}
	return nil
}

// Decode reads a snapshot body fetched through a signed reference.
func Decode(r io.Reader) (domain.DataAssetTask, error) {
	var task domain.DataAssetTask
	if err := json.NewDecoder(r).Decode(&task); err != nil {
		return domain.DataAssetTask{}, fmt.Errorf("decode task: %w", err)
	}
	return task, nil
}
