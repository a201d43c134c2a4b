package compression

import (
	"bytes"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestParseType(t *testing.T) {
	tests := []struct {
		input   string
		want    Type
		wantErr bool
	}{
		{"", TypeNone, false},
		{"none", TypeNone, false},
		{"gzip", TypeGzip, false},
		{" GZIP ", TypeGzip, false},
		{"zstd", TypeZstd, false},
		{"snappy", TypeSnappy, false},
		{"zlib", TypeZlib, false},
		{"deflate", TypeDeflate, false},
		{"lz4", TypeLZ4, false},
		{"brotli", TypeNone, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseType(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseType(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestContentEncodingRoundTrip(t *testing.T) {
	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4} {
		if got := ParseContentEncoding(typ.ContentEncoding()); got != typ {
			t.Errorf("ParseContentEncoding(%q) = %q, want %q", typ.ContentEncoding(), got, typ)
		}
	}
	if TypeNone.ContentEncoding() != "" {
		t.Error("none should have no Content-Encoding")
	}
	if ParseContentEncoding("x-gzip") != TypeGzip {
		t.Error("x-gzip should map to gzip")
	}
	if ParseContentEncoding("br") != TypeNone {
		t.Error("unknown encodings should map to none")
	}
}

func TestCompressDecompress(t *testing.T) {
	payload := []byte(strings.Repeat("resource_spans scope_spans span_id trace_id ", 64))

	tests := []struct {
		name string
		cfg  Config
	}{
		{"none", Config{Type: TypeNone}},
		{"gzip", Config{Type: TypeGzip}},
		{"gzip-fastest", Config{Type: TypeGzip, Level: LevelFastest}},
		{"gzip-best", Config{Type: TypeGzip, Level: LevelBest}},
		{"zstd", Config{Type: TypeZstd}},
		{"zstd-fastest", Config{Type: TypeZstd, Level: LevelFastest}},
		{"zstd-middle", Config{Type: TypeZstd, Level: 5}},
		{"zstd-best", Config{Type: TypeZstd, Level: LevelBest}},
		{"snappy", Config{Type: TypeSnappy}},
		{"zlib", Config{Type: TypeZlib}},
		{"deflate-best", Config{Type: TypeDeflate, Level: LevelBest}},
		{"lz4", Config{Type: TypeLZ4}},
		{"lz4-best", Config{Type: TypeLZ4, Level: LevelBest}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			compressed, err := Compress(payload, tt.cfg)
			if err != nil {
				t.Fatalf("Compress() error = %v", err)
			}
			if tt.cfg.Enabled() && len(compressed) >= len(payload) {
				t.Errorf("repetitive payload did not shrink: %d >= %d", len(compressed), len(payload))
			}

			got, err := Decompress(compressed, tt.cfg.Type)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if !bytes.Equal(got, payload) {
				t.Errorf("round trip mismatch: got %d bytes, want %d", len(got), len(payload))
			}
		})
	}
}

func TestEmptyPayloadPassesThrough(t *testing.T) {
	for _, typ := range []Type{TypeNone, TypeGzip, TypeZstd, TypeSnappy, TypeLZ4} {
		out, err := Compress(nil, Config{Type: typ})
		if err != nil || len(out) != 0 {
			t.Errorf("%s: Compress(nil) = %v, %v", typ, out, err)
		}
		out, err = Decompress(nil, typ)
		if err != nil || len(out) != 0 {
			t.Errorf("%s: Decompress(nil) = %v, %v", typ, out, err)
		}
	}
}

func TestUnsupportedType(t *testing.T) {
	if _, err := Compress([]byte("x"), Config{Type: "brotli"}); err == nil {
		t.Error("expected error compressing with unknown type")
	}
	if _, err := Decompress([]byte("x"), "brotli"); err == nil {
		t.Error("expected error decompressing with unknown type")
	}
}

func TestDecompressInvalidDataCountsError(t *testing.T) {
	invalid := []byte("not compressed data")

	for _, typ := range []Type{TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4} {
		t.Run(string(typ), func(t *testing.T) {
			before := testutil.ToFloat64(compressionErrors.WithLabelValues(string(typ), "decompress"))
			if _, err := Decompress(invalid, typ); err == nil {
				t.Fatalf("expected error for invalid %s data", typ)
			}
			after := testutil.ToFloat64(compressionErrors.WithLabelValues(string(typ), "decompress"))
			if after != before+1 {
				t.Errorf("decompress errors = %v, want %v", after, before+1)
			}
		})
	}
}

func TestCompressCountsBytes(t *testing.T) {
	payload := bytes.Repeat([]byte("a"), 4096)
	in := compressionBytes.WithLabelValues(string(TypeGzip), "in")
	before := testutil.ToFloat64(in)

	if _, err := Compress(payload, Config{Type: TypeGzip}); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(in) - before; got != 4096 {
		t.Errorf("bytes in = %v, want 4096", got)
	}
}

func TestZstdPoolConcurrentUse(t *testing.T) {
	var wg sync.WaitGroup
	errs := make(chan error, 32)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 1024+i)
			c, err := Compress(payload, Config{Type: TypeZstd, Level: Level(i%9 + 1)})
			if err != nil {
				errs <- err
				return
			}
			d, err := Decompress(c, TypeZstd)
			if err != nil {
				errs <- err
				return
			}
			if !bytes.Equal(d, payload) {
				errs <- fmt.Errorf("worker %d: round trip mismatch", i)
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
