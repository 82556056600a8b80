package blobstore

import "testing"

func TestPutGetRelease(t *testing.T) {
	s := New()

	id := s.Put([]byte("abc"), "image/png")
	if id == "" {
		t.Fatal("Expected non-empty handle id")
	}

	b, ok := s.Get(id)
	if !ok {
		t.Fatal("Expected blob to be live after Put")
	}
	if string(b.Data) != "abc" || b.MediaType != "image/png" || b.Size() != 3 {
		t.Errorf("Unexpected blob: %+v", b)
	}
	if s.Len() != 1 || s.Bytes() != 3 {
		t.Errorf("Expected 1 blob of 3 bytes, got %d blobs of %d bytes", s.Len(), s.Bytes())
	}

	if !s.Release(id) {
		t.Error("Expected first Release to report a live handle")
	}
	if s.Release(id) {
		t.Error("Expected second Release to be a no-op")
	}
	if _, ok := s.Get(id); ok {
		t.Error("Expected blob to be gone after Release")
	}
	if s.Len() != 0 || s.Bytes() != 0 {
		t.Errorf("Expected empty store, got %d blobs of %d bytes", s.Len(), s.Bytes())
	}
}

func TestHandlesAreUnique(t *testing.T) {
	s := New()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := s.Put(nil, "image/jpeg")
		if seen[id] {
			t.Fatalf("Duplicate handle id %s", id)
		}
		seen[id] = true
	}
	if s.Release("") {
		t.Error("Expected Release of empty id to be a no-op")
	}
}
