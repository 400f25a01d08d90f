package switchpoint

import (
	"errors"
	"testing"
)

func TestBlobCache_GetPut(t *testing.T) {
	cache := newBlobCache(3)

	cache.put("a", []byte("1"))
	cache.put("b", []byte("2"))

	data, ok := cache.get("a")
	if !ok {
		t.Fatal("expected 'a' to exist")
	}
	if string(data) != "1" {
		t.Errorf("get(a) = %q, want 1", data)
	}
	if _, ok := cache.get("missing"); ok {
		t.Error("expected miss for unknown key")
	}
}

func TestBlobCache_EvictsOldest(t *testing.T) {
	cache := newBlobCache(3)
	cache.put("a", []byte("1"))
	cache.put("b", []byte("2"))
	cache.put("c", []byte("3"))

	// Touch 'a' so 'b' becomes the oldest.
	cache.get("a")
	cache.put("d", []byte("4"))

	if _, ok := cache.get("b"); ok {
		t.Error("expected 'b' to be evicted")
	}
	if _, ok := cache.get("a"); !ok {
		t.Error("recently used 'a' was evicted")
	}
	if len(cache.items) > 3 {
		t.Errorf("cache exceeded capacity: %d items", len(cache.items))
	}
}

func TestBlobCache_UpdateExisting(t *testing.T) {
	cache := newBlobCache(2)
	cache.put("a", []byte("old"))
	cache.put("a", []byte("new"))

	data, ok := cache.get("a")
	if !ok {
		t.Fatal("expected 'a' to exist")
	}
	if string(data) != "new" {
		t.Errorf("get(a) = %q, want new", data)
	}
	if len(cache.items) != 1 {
		t.Errorf("items = %d, want 1 after in-place update", len(cache.items))
	}
}

func TestBlobCache_Remove(t *testing.T) {
	cache := newBlobCache(2)
	cache.put("a", []byte("1"))
	cache.remove("a")

	if _, ok := cache.get("a"); ok {
		t.Error("expected 'a' to be removed")
	}
	if len(cache.order) != 0 {
		t.Errorf("order still holds %d keys", len(cache.order))
	}

	// Removing an absent key is harmless.
	cache.remove("absent")
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	if _, err := NewS3Archive(S3ArchiveConfig{}); err == nil {
		t.Error("config without bucket accepted")
	}
}

func TestIsS3NotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "NotFound message", err: errors.New("operation error S3: HeadObject, https response error StatusCode: 404, api error NotFound"), want: true},
		{name: "404 only", err: errors.New("status 404"), want: true},
		{name: "access denied", err: errors.New("api error AccessDenied"), want: false},
		{name: "throttled", err: errors.New("too many requests"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isS3NotFound(tt.err); got != tt.want {
				t.Errorf("isS3NotFound(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
