package secretstore_test

import (
	"testing"

	"github.com/watup-lk/identity-service/internal/secretstore"
)

func TestNew_RequiresAtLeastOneSecret(t *testing.T) {
	if _, err := secretstore.New(nil); err == nil {
		t.Fatal("expected an error constructing an empty secret store")
	}
}

func TestGet_ReturnsConfiguredSecret(t *testing.T) {
	s, err := secretstore.New([][]byte{[]byte("one"), []byte("two")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", s.Len())
	}
	if string(s.Get(0)) != "one" || string(s.Get(1)) != "two" {
		t.Error("Get returned the wrong secret for its index")
	}
}

func TestRandomIndex_WithinBounds(t *testing.T) {
	s, err := secretstore.New([][]byte{[]byte("one"), []byte("two"), []byte("three")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for i := 0; i < 50; i++ {
		idx, err := s.RandomIndex()
		if err != nil {
			t.Fatalf("RandomIndex: %v", err)
		}
		if idx < 0 || idx >= s.Len() {
			t.Fatalf("RandomIndex returned out-of-range index %d", idx)
		}
	}
}
