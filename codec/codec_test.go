package codec

import "testing"

type echoPayload struct {
	Text string `json:"text"`
}

func TestJSONCodecRoundTrip(t *testing.T) {
	original := &echoPayload{Text: "hello"}

	data, err := Default.Encode(original)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	var decoded echoPayload
	if err := Default.Decode(data, &decoded); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Text != original.Text {
		t.Errorf("Text mismatch: got %s, want %s", decoded.Text, original.Text)
	}
}

func TestJSONCodecRejectsMalformedInput(t *testing.T) {
	var decoded echoPayload
	if err := Default.Decode([]byte("not json"), &decoded); err == nil {
		t.Fatalf("expected decode error for malformed JSON")
	}
}
