package cache

import (
	"bytes"
	"testing"
)

func TestGzipRoundTrip(t *testing.T) {
	in := bytes.Repeat([]byte(`{"id":"p1","title":"Dongmun Market"}`), 50)

	packed, err := gzipCompress(in)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(packed) >= len(in) {
		t.Fatalf("expected compression to shrink repetitive input; got %d >= %d", len(packed), len(in))
	}

	out, err := gzipDecompress(packed)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if !bytes.Equal(in, out) {
		t.Fatalf("round trip mismatch")
	}
}

func TestGzipDecompress_Garbage(t *testing.T) {
	if _, err := gzipDecompress([]byte("not gzip")); err == nil {
		t.Fatalf("expected error for non-gzip input")
	}
}
