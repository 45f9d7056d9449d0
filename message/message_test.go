package message

import "testing"

func TestAppHeaderRoundTrip(t *testing.T) {
	h := AppHeader{AppIdent: 0, AppID: 2, Tag: 7}
	decoded, err := DecodeAppHeader(h.Encode())
	if err != nil {
		t.Fatalf("DecodeAppHeader: %v", err)
	}
	if decoded != h {
		t.Fatalf("decoded = %+v, want %+v", decoded, h)
	}
}

func TestDecodeAppHeaderRejectsWrongLength(t *testing.T) {
	if _, err := DecodeAppHeader([]byte{1, 2}); err == nil {
		t.Fatalf("expected error for short app header")
	}
	if _, err := DecodeAppHeader(nil); err == nil {
		t.Fatalf("expected error for empty app header")
	}
}
