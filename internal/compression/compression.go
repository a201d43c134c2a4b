// Package compression encodes request bodies for the HTTP sender.
//
// All codecs come from klauspost/compress except lz4. zstd encoders are
// pooled per level and a single concurrent decoder is shared.
package compression

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Type names a compression algorithm.
type Type string

const (
	TypeNone    Type = "none"
	TypeGzip    Type = "gzip"
	TypeZstd    Type = "zstd"
	TypeSnappy  Type = "snappy"
	TypeZlib    Type = "zlib"
	TypeDeflate Type = "deflate"
	TypeLZ4     Type = "lz4"
)

// Level is an algorithm-neutral compression level. Values between
// LevelFastest and LevelBest are passed to gzip, zlib and deflate as is.
type Level int

const (
	LevelDefault Level = 0
	LevelFastest Level = 1
	LevelBest    Level = 9
)

// Config selects an algorithm and level.
type Config struct {
	Type  Type  `yaml:"type"`
	Level Level `yaml:"level"`
}

// Enabled reports whether bodies are compressed at all.
func (c Config) Enabled() bool {
	return c.Type != TypeNone && c.Type != ""
}

// ParseType parses a configured algorithm name.
func ParseType(s string) (Type, error) {
	switch t := Type(strings.ToLower(strings.TrimSpace(s))); t {
	case "", TypeNone:
		return TypeNone, nil
	case TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4:
		return t, nil
	default:
		return TypeNone, fmt.Errorf("unsupported compression type: %s", s)
	}
}

// ContentEncoding returns the Content-Encoding header value, empty for none.
func (t Type) ContentEncoding() string {
	switch t {
	case TypeGzip, TypeZstd, TypeSnappy, TypeZlib, TypeDeflate, TypeLZ4:
		return string(t)
	default:
		return ""
	}
}

// ParseContentEncoding maps a Content-Encoding header value back to a Type.
func ParseContentEncoding(encoding string) Type {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "gzip", "x-gzip":
		return TypeGzip
	case "zstd":
		return TypeZstd
	case "snappy", "x-snappy-framed":
		return TypeSnappy
	case "zlib":
		return TypeZlib
	case "deflate":
		return TypeDeflate
	case "lz4":
		return TypeLZ4
	default:
		return TypeNone
	}
}

// Compress encodes data. Empty input is returned unchanged.
func Compress(data []byte, cfg Config) ([]byte, error) {
	if !cfg.Enabled() || len(data) == 0 {
		return data, nil
	}

	var (
		out []byte
		err error
	)
	switch cfg.Type {
	case TypeZstd:
		out, err = compressZstd(data, cfg.Level)
	case TypeSnappy:
		out = snappy.Encode(nil, data)
	case TypeGzip, TypeZlib, TypeDeflate, TypeLZ4:
		out, err = compressStream(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", cfg.Type)
	}
	if err != nil {
		compressionErrors.WithLabelValues(string(cfg.Type), "compress").Inc()
		return nil, fmt.Errorf("%s compress: %w", cfg.Type, err)
	}
	observe(cfg.Type, len(data), len(out))
	return out, nil
}

// Decompress decodes data encoded with t. Empty input is returned unchanged.
func Decompress(data []byte, t Type) ([]byte, error) {
	if t == TypeNone || t == "" || len(data) == 0 {
		return data, nil
	}

	var (
		out []byte
		err error
	)
	switch t {
	case TypeZstd:
		var dec *zstd.Decoder
		if dec, err = sharedDecoder(); err == nil {
			out, err = dec.DecodeAll(data, nil)
		}
	case TypeSnappy:
		out, err = snappy.Decode(nil, data)
	case TypeGzip, TypeZlib, TypeDeflate, TypeLZ4:
		out, err = decompressStream(data, t)
	default:
		return nil, fmt.Errorf("unsupported compression type: %s", t)
	}
	if err != nil {
		compressionErrors.WithLabelValues(string(t), "decompress").Inc()
		return nil, fmt.Errorf("%s decompress: %w", t, err)
	}
	return out, nil
}

func compressStream(data []byte, cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	w, err := newWriter(&buf, cfg)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func newWriter(w io.Writer, cfg Config) (io.WriteCloser, error) {
	level := int(cfg.Level)
	if cfg.Level == LevelDefault {
		level = flate.DefaultCompression
	}
	switch cfg.Type {
	case TypeGzip:
		return gzip.NewWriterLevel(w, level)
	case TypeZlib:
		return zlib.NewWriterLevel(w, level)
	case TypeDeflate:
		return flate.NewWriter(w, level)
	case TypeLZ4:
		lw := lz4.NewWriter(w)
		if err := lw.Apply(lz4.CompressionLevelOption(lz4Level(cfg.Level))); err != nil {
			return nil, err
		}
		return lw, nil
	}
	return nil, fmt.Errorf("no stream writer for %s", cfg.Type)
}

func decompressStream(data []byte, t Type) ([]byte, error) {
	src := bytes.NewReader(data)
	var r io.Reader
	switch t {
	case TypeGzip:
		gr, err := gzip.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer gr.Close()
		r = gr
	case TypeZlib:
		zr, err := zlib.NewReader(src)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case TypeDeflate:
		fr := flate.NewReader(src)
		defer fr.Close()
		r = fr
	case TypeLZ4:
		r = lz4.NewReader(src)
	default:
		return nil, fmt.Errorf("no stream reader for %s", t)
	}
	return io.ReadAll(r)
}

func lz4Level(l Level) lz4.CompressionLevel {
	switch {
	case l == LevelDefault, l <= LevelFastest:
		return lz4.Fast
	case l >= LevelBest:
		return lz4.Level9
	default:
		return lz4.Level5
	}
}

func zstdLevel(l Level) zstd.EncoderLevel {
	switch {
	case l == LevelDefault:
		return zstd.SpeedDefault
	case l <= LevelFastest:
		return zstd.SpeedFastest
	case l >= LevelBest:
		return zstd.SpeedBestCompression
	default:
		return zstd.SpeedBetterCompression
	}
}

// zstdEncoders holds one pool per encoder level.
var zstdEncoders sync.Map // zstd.EncoderLevel -> *sync.Pool

func compressZstd(data []byte, l Level) ([]byte, error) {
	level := zstdLevel(l)
	p, _ := zstdEncoders.LoadOrStore(level, &sync.Pool{})
	pool := p.(*sync.Pool)

	enc, _ := pool.Get().(*zstd.Encoder)
	if enc == nil {
		var err error
		enc, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		if err != nil {
			return nil, err
		}
	}
	out := enc.EncodeAll(data, make([]byte, 0, len(data)/2))
	pool.Put(enc)
	return out, nil
}

var sharedDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
	return zstd.NewReader(nil, zstd.WithDecoderConcurrency(0))
})
