package identity

import (
	"errors"
	"testing"
)

func TestStateRoundTrip(t *testing.T) {
	fs, err := NewSignupState("alice@example.com")
	if err != nil {
		t.Fatalf("new state: %v", err)
	}
	if fs.Nonce == "" {
		t.Fatal("expected a nonce")
	}

	decoded, err := DecodeState(EncodeState(fs))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != fs {
		t.Errorf("decoded = %+v, want %+v", decoded, fs)
	}
}

func TestStateNoncesDiffer(t *testing.T) {
	a, _ := NewSignupState("a@x.com")
	b, _ := NewSignupState("a@x.com")
	if a.Nonce == b.Nonce {
		t.Error("expected distinct nonces")
	}
}

func TestDecodeStateRejects(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"too few parts", "v1:signup"},
		{"unknown version", "v2:signup:a@x.com:nonce"},
		{"unknown kind", "v1:login:a@x.com:nonce"},
		{"missing email", "v1:signup::nonce"},
		{"missing nonce", "v1:signup:a@x.com:"},
		{"raw email", "a@x.com"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := DecodeState(tc.raw); !errors.Is(err, ErrBadState) {
				t.Errorf("DecodeState(%q) err = %v, want ErrBadState", tc.raw, err)
			}
		})
	}
}
