package utils

import (
	"testing"
)

func TestCursorRoundTrip(t *testing.T) {
	cases := []Cursor{
		{},
		{Timestamp: 1717000000123},
		{Score: 3000002, Hash: "0xabc123"},
		{Timestamp: 1717000000123, Score: -5, Hash: "0xff"},
	}

	for _, c := range cases {
		token := EncodeCursor(c)
		got, err := DecodeCursor(token)
		if err != nil {
			t.Fatalf("DecodeCursor(%q) failed: %v", token, err)
		}
		if got != c {
			t.Errorf("round trip mismatch: want %+v, got %+v", c, got)
		}
	}
}

func TestDecodeCursorEmpty(t *testing.T) {
	c, err := DecodeCursor("")
	if err != nil {
		t.Fatalf("empty cursor should decode: %v", err)
	}
	if c != (Cursor{}) {
		t.Errorf("expected zero cursor, got %+v", c)
	}
}

func TestDecodeCursorInvalid(t *testing.T) {
	// 非 base64 以及 base64 包非 JSON 都应报错
	for _, token := range []string{"!!!not-base64!!!", "bm90LWpzb24"} {
		if _, err := DecodeCursor(token); err == nil {
			t.Errorf("expected error for token %q", token)
		}
	}
}
