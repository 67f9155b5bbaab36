package crypto

import (
	"bytes"
	"testing"
)

func TestHashPassword_Deterministic(t *testing.T) {
	salt := []byte("0123456789abcdef")
	a := HashPassword([]byte("secret"), salt)
	b := HashPassword([]byte("secret"), salt)
	if !bytes.Equal(a, b) {
		t.Fatalf("same password+salt must hash equal")
	}
	if bytes.Equal(a, HashPassword([]byte("other"), salt)) {
		t.Fatalf("different passwords must not collide")
	}
}

func TestVerifyPassword(t *testing.T) {
	salt, err := RandBytes(16)
	if err != nil {
		t.Fatal(err)
	}
	h := HashPassword([]byte("secret"), salt)
	if !VerifyPassword([]byte("secret"), salt, h) {
		t.Fatalf("correct password rejected")
	}
	if VerifyPassword([]byte("wrong"), salt, h) {
		t.Fatalf("wrong password accepted")
	}
}

func TestNewOpaqueToken_UniqueAndHashable(t *testing.T) {
	a, err := NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewOpaqueToken()
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("tokens must be unique")
	}
	if len(HashToken(a)) != 32 {
		t.Fatalf("digest must be 32 bytes")
	}
}
