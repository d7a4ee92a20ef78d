package checksum

import (
	"strings"
	"testing"
)

func TestSHA256_KnownVector(t *testing.T) {
	// SHA-256 of the empty string.
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256(nil); got != want {
		t.Errorf("SHA256(nil) = %s, want %s", got, want)
	}
}

func TestPrefixed_Format(t *testing.T) {
	got := Prefixed([]byte("abc"))
	if !strings.HasPrefix(got, Prefix) {
		t.Errorf("missing prefix: %s", got)
	}
	if len(got) != 71 {
		t.Errorf("len = %d, want 71", len(got))
	}
	if !IsPrefixed(got) {
		t.Errorf("IsPrefixed(%s) = false", got)
	}
}

func TestIsPrefixed_Rejects(t *testing.T) {
	bad := []string{
		"",
		"sha256:",
		"sha256:abc",
		"sha1:e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
		"sha256:E3B0C44298FC1C149AFBF4C8996FB92427AE41E4649B934CA495991B7852B855",
		"e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855",
	}
	for _, s := range bad {
		if IsPrefixed(s) {
			t.Errorf("IsPrefixed(%q) = true, want false", s)
		}
	}
}

func TestCalculateSHA256(t *testing.T) {
	got, err := CalculateSHA256(strings.NewReader("hello"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != SHA256([]byte("hello")) {
		t.Errorf("reader and byte digests differ")
	}
}

func TestVerifySHA256_PrefixedAndBare(t *testing.T) {
	data := []byte(`{"a":1}`)

	ok, err := VerifySHA256(strings.NewReader(string(data)), Prefixed(data))
	if err != nil || !ok {
		t.Errorf("prefixed verify = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = VerifySHA256(strings.NewReader(string(data)), SHA256(data))
	if err != nil || !ok {
		t.Errorf("bare verify = (%v, %v), want (true, nil)", ok, err)
	}

	ok, err = VerifySHA256(strings.NewReader("other"), Prefixed(data))
	if err != nil || ok {
		t.Errorf("mismatch verify = (%v, %v), want (false, nil)", ok, err)
	}
}
