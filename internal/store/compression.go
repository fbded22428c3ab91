package store

import (
	"compress/gzip"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"

	"github.com/xkilldash9x/reprise/internal/config"
)

// Pools for decompression readers; listing a large archive reopens many
// files in a row.
var (
	gzipReaderPool = sync.Pool{
		New: func() interface{} {
			return new(gzip.Reader)
		},
	}
	brotliReaderPool = sync.Pool{
		New: func() interface{} {
			return brotli.NewReader(nil)
		},
	}
)

// emptyReader resets pooled readers without holding a reference to the
// previous source.
var emptyReader = strings.NewReader("")

// ext returns the file suffix for a compression codec.
func ext(compression string) string {
	switch compression {
	case config.CompressionGzip:
		return ".json.gz"
	case config.CompressionBrotli:
		return ".json.br"
	default:
		return ".json"
	}
}

// codecForPath infers the codec from a file name.
func codecForPath(path string) string {
	switch {
	case strings.HasSuffix(path, ".json.gz"):
		return config.CompressionGzip
	case strings.HasSuffix(path, ".json.br"):
		return config.CompressionBrotli
	default:
		return config.CompressionNone
	}
}

// newCompressedWriter wraps w in the codec's compressor. The returned closer
// flushes the compressor without closing w.
func newCompressedWriter(w io.Writer, compression string) (io.Writer, func() error, error) {
	switch compression {
	case config.CompressionNone:
		return w, func() error { return nil }, nil
	case config.CompressionGzip:
		zw := gzip.NewWriter(w)
		return zw, zw.Close, nil
	case config.CompressionBrotli:
		bw := brotli.NewWriter(w)
		return bw, bw.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown compression codec %q", compression)
	}
}

// newCompressedReader wraps r in the codec's decompressor, using the pooled
// readers. The returned closer also returns the reader to its pool.
func newCompressedReader(r io.Reader, compression string) (io.Reader, func() error, error) {
	switch compression {
	case config.CompressionNone:
		return r, func() error { return nil }, nil

	case config.CompressionGzip:
		zr := gzipReaderPool.Get().(*gzip.Reader)
		if err := zr.Reset(r); err != nil {
			gzipReaderPool.Put(zr)
			return nil, nil, fmt.Errorf("gzip initialization error: %w", err)
		}
		closer := func() error {
			err := zr.Close()
			// Reset with an empty source so the pooled reader drops its
			// reference to the file.
			_ = zr.Reset(emptyReader)
			gzipReaderPool.Put(zr)
			return err
		}
		return zr, closer, nil

	case config.CompressionBrotli:
		br := brotliReaderPool.Get().(*brotli.Reader)
		if err := br.Reset(r); err != nil {
			brotliReaderPool.Put(br)
			return nil, nil, fmt.Errorf("brotli initialization error: %w", err)
		}
		closer := func() error {
			_ = br.Reset(emptyReader)
			brotliReaderPool.Put(br)
			return nil
		}
		return br, closer, nil

	default:
		return nil, nil, fmt.Errorf("unknown compression codec %q", compression)
	}
}
