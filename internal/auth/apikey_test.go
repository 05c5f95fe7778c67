package auth

import (
	"strings"
	"testing"
)

func TestNewAPIKey(t *testing.T) {
	plaintext, prefix, hash, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey() failed: %v", err)
	}

	if !strings.HasPrefix(plaintext, "pgp_"+prefix+"_") {
		t.Errorf("Expected key to start with pgp_%s_, got %s", prefix, plaintext)
	}

	if len(prefix) != 8 {
		t.Errorf("Expected 8-char prefix, got %d chars", len(prefix))
	}

	if hash == plaintext {
		t.Error("Hash must not equal plaintext")
	}

	if strings.Contains(hash, plaintext) {
		t.Error("Hash must not contain plaintext")
	}

	// Hash verifies against the plaintext
	if err := VerifyAPIKey(hash, plaintext); err != nil {
		t.Errorf("VerifyAPIKey() failed for matching key: %v", err)
	}

	// Wrong key fails
	if err := VerifyAPIKey(hash, "pgp_deadbeef_0000"); err == nil {
		t.Error("VerifyAPIKey() should fail for wrong key")
	}
}

func TestNewAPIKey_Unique(t *testing.T) {
	a, _, _, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey() failed: %v", err)
	}
	b, _, _, err := NewAPIKey()
	if err != nil {
		t.Fatalf("NewAPIKey() failed: %v", err)
	}
	if a == b {
		t.Error("Two generated keys should differ")
	}
}

func TestParseAPIKeyPrefix(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		want    string
		wantErr bool
	}{
		{"valid key", "pgp_abcd1234_deadbeefdeadbeef", "abcd1234", false},
		{"missing scheme", "abcd1234_deadbeef", "", true},
		{"wrong scheme", "tok_abcd1234_deadbeef", "", true},
		{"empty prefix", "pgp__deadbeef", "", true},
		{"empty secret", "pgp_abcd1234_", "", true},
		{"empty string", "", "", true},
		{"too many parts", "pgp_a_b_c", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAPIKeyPrefix(tt.key)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseAPIKeyPrefix(%q) error = %v, wantErr %v", tt.key, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseAPIKeyPrefix(%q) = %q, want %q", tt.key, got, tt.want)
			}
		})
	}
}

func TestHashSecret_RoundTrip(t *testing.T) {
	hash, err := HashSecret("s3cret-value")
	if err != nil {
		t.Fatalf("HashSecret() failed: %v", err)
	}

	if err := CompareSecret(hash, "s3cret-value"); err != nil {
		t.Errorf("CompareSecret() failed for matching secret: %v", err)
	}

	if err := CompareSecret(hash, "wrong-value"); err == nil {
		t.Error("CompareSecret() should fail for wrong secret")
	}
}
