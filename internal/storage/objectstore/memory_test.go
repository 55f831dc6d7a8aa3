package objectstore

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func put(t *testing.T, s Store, key, body string, opts PutOptions) (ObjectInfo, error) {
	t.Helper()
	return s.Put(context.Background(), "bucket", key, strings.NewReader(body), int64(len(body)), opts)
}

func TestMemory_PutIfNoneMatch(t *testing.T) {
	s := NewMemory()
	if _, err := put(t, s, "k", "one", PutOptions{IfNoneMatch: true}); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	_, err := put(t, s, "k", "two", PutOptions{IfNoneMatch: true})
	if !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("Put() err=%v, want ErrPreconditionFailed", err)
	}
}

func TestMemory_PutIfMatch(t *testing.T) {
	s := NewMemory()
	first, err := put(t, s, "k", "one", PutOptions{})
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if _, err := put(t, s, "k", "two", PutOptions{IfMatch: first.ETag}); err != nil {
		t.Fatalf("Put(IfMatch) err=%v", err)
	}
	if _, err := put(t, s, "k", "three", PutOptions{IfMatch: first.ETag}); !errors.Is(err, ErrPreconditionFailed) {
		t.Fatalf("stale Put(IfMatch) err=%v, want ErrPreconditionFailed", err)
	}

	rc, info, err := s.Get(context.Background(), "bucket", "k")
	if err != nil {
		t.Fatalf("Get() err=%v", err)
	}
	defer rc.Close()
	body, _ := io.ReadAll(rc)
	if string(body) != "two" {
		t.Fatalf("body=%q, want two", body)
	}
	if info.ETag == first.ETag {
		t.Fatalf("etag did not change")
	}
}

func TestMemory_GetMissing(t *testing.T) {
	s := NewMemory()
	if _, _, err := s.Get(context.Background(), "bucket", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get() err=%v, want ErrNotFound", err)
	}
}

func TestMemory_ListByPrefix(t *testing.T) {
	s := NewMemory()
	for _, key := range []string{"jobs/a/1.json", "jobs/a/2.json", "jobs/b/1.json"} {
		if _, err := put(t, s, key, "{}", PutOptions{}); err != nil {
			t.Fatalf("Put() err=%v", err)
		}
	}
	got, err := s.List(context.Background(), "bucket", "jobs/a/")
	if err != nil {
		t.Fatalf("List() err=%v", err)
	}
	if len(got) != 2 || got[0].Key != "jobs/a/1.json" {
		t.Fatalf("List()=%v", got)
	}
}
