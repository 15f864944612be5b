package awsx

import (
	"encoding/base64"
	"testing"
)

func TestDecodeAuthorizationToken(t *testing.T) {
	token := base64.StdEncoding.EncodeToString([]byte("AWS:superSecretPassword=="))

	username, password, err := DecodeAuthorizationToken(token)
	if err != nil {
		t.Fatalf("DecodeAuthorizationToken() error = %v", err)
	}
	if username != "AWS" {
		t.Errorf("username = %q, want AWS", username)
	}
	if password != "superSecretPassword==" {
		t.Errorf("password = %q", password)
	}
}

func TestDecodeAuthorizationTokenPasswordWithColons(t *testing.T) {
	// ECR passwords can themselves contain colons; only the first separates.
	token := base64.StdEncoding.EncodeToString([]byte("AWS:a:b:c"))

	_, password, err := DecodeAuthorizationToken(token)
	if err != nil {
		t.Fatalf("DecodeAuthorizationToken() error = %v", err)
	}
	if password != "a:b:c" {
		t.Errorf("password = %q, want a:b:c", password)
	}
}

func TestDecodeAuthorizationTokenInvalid(t *testing.T) {
	if _, _, err := DecodeAuthorizationToken("not base64!!!"); err == nil {
		t.Error("expected error for invalid base64")
	}

	noSeparator := base64.StdEncoding.EncodeToString([]byte("justauser"))
	if _, _, err := DecodeAuthorizationToken(noSeparator); err == nil {
		t.Error("expected error for token without separator")
	}
}
