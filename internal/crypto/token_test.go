package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestRandBytes_LengthAndUniqueness(t *testing.T) {
	t.Parallel()

	const n = 64
	a, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes: %v", err)
	}
	if len(a) != n {
		t.Fatalf("len=%d, want=%d", len(a), n)
	}
	b, err := RandBytes(n)
	if err != nil {
		t.Fatalf("RandBytes(2): %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatalf("two subsequent RandBytes(%d) are equal, looks non-random", n)
	}

	zero := make([]byte, n)
	if bytes.Equal(a, zero) {
		t.Fatalf("RandBytes returned all zeros")
	}
}

func TestHashToken_DeterministicOnSameInput(t *testing.T) {
	t.Parallel()

	pw := []byte("tok-3f9a")
	salt := []byte("NaCl-16-bytes?")

	h1 := HashToken(pw, salt)
	h2 := HashToken(pw, salt)

	if len(h1) == 0 || len(h2) == 0 {
		t.Fatalf("empty hash")
	}
	if !bytes.Equal(h1, h2) {
		t.Fatalf("hash not deterministic for same input")
	}

	h3 := HashToken(pw, []byte("another-salt----"))
	if bytes.Equal(h1, h3) {
		t.Fatalf("hash should differ when salt differs")
	}

	h4 := HashToken([]byte("tok-3f9b"), salt)
	if bytes.Equal(h1, h4) {
		t.Fatalf("hash should differ when token differs")
	}
}

func TestVerifyToken(t *testing.T) {
	t.Parallel()

	pw := []byte("Zm9vYmFyYmF6cXV4")
	salt := []byte("salty-salt-123456")

	hash := HashToken(pw, salt)

	if !VerifyToken(pw, salt, hash) {
		t.Fatalf("VerifyToken: expected true for correct token")
	}
	if VerifyToken([]byte("wrong"), salt, hash) {
		t.Fatalf("VerifyToken: expected false for wrong token")
	}
	if VerifyToken(pw, []byte("wrong-salt"), hash) {
		t.Fatalf("VerifyToken: expected false for wrong salt")
	}
	if VerifyToken([]byte{}, salt, hash) {
		t.Fatalf("VerifyToken: expected false for empty token")
	}
}

func TestNewToken_VerifiesAndIsURLSafe(t *testing.T) {
	t.Parallel()

	tok, salt, hash, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken: %v", err)
	}
	if strings.ContainsAny(tok, "+/=") {
		t.Fatalf("token %q is not URL-safe", tok)
	}
	if !VerifyToken([]byte(tok), salt, hash) {
		t.Fatalf("fresh token does not verify")
	}
	other, _, _, err := NewToken()
	if err != nil {
		t.Fatalf("NewToken(2): %v", err)
	}
	if other == tok || VerifyToken([]byte(other), salt, hash) {
		t.Fatalf("distinct tokens must not verify against each other")
	}
}
