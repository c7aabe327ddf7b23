package fetch

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// gzipReaderPool reduces allocations for gzip decompression.
var gzipReaderPool = sync.Pool{
	New: func() any {
		return new(gzip.Reader)
	},
}

// zstdDecoderPool reuses zstd decoders, which are expensive to create.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, _ := zstd.NewReader(nil)
		return decoder
	},
}

// brotliReaderPool reduces allocations for brotli decompression.
var brotliReaderPool = sync.Pool{
	New: func() any {
		return new(brotli.Reader)
	},
}

// decodeBody reverses the codings listed in contentEncoding. Codings are
// removed last-applied first; unknown codings leave the data untouched.
func decodeBody(data []byte, contentEncoding string) ([]byte, error) {
	if contentEncoding == "" || len(data) == 0 {
		return data, nil
	}
	encodings := strings.Split(contentEncoding, ",")
	for i := len(encodings) - 1; i >= 0; i-- {
		encoding := strings.TrimSpace(strings.ToLower(encodings[i]))
		var err error
		switch encoding {
		case "", "identity":
			continue
		case "gzip", "x-gzip":
			data, err = gunzip(data)
		case "deflate":
			data, err = inflate(data)
		case "br":
			data, err = unbrotli(data)
		case "zstd":
			data, err = unzstd(data)
		default:
			return data, nil
		}
		if err != nil {
			return nil, fmt.Errorf("decode %s body: %w", encoding, err)
		}
	}
	return data, nil
}

func gunzip(data []byte) ([]byte, error) {
	gr := gzipReaderPool.Get().(*gzip.Reader)
	defer gzipReaderPool.Put(gr)
	if err := gr.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, err
	}
	return out, gr.Close()
}

// inflate accepts both zlib-wrapped and raw deflate streams; servers send either.
func inflate(data []byte) ([]byte, error) {
	if zr, err := zlib.NewReader(bytes.NewReader(data)); err == nil {
		out, errRead := io.ReadAll(zr)
		_ = zr.Close()
		if errRead == nil {
			return out, nil
		}
	}
	fr := flate.NewReader(bytes.NewReader(data))
	defer fr.Close()
	return io.ReadAll(fr)
}

func unbrotli(data []byte) ([]byte, error) {
	br := brotliReaderPool.Get().(*brotli.Reader)
	defer brotliReaderPool.Put(br)
	if err := br.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(br)
}

func unzstd(data []byte) ([]byte, error) {
	decoder := zstdDecoderPool.Get().(*zstd.Decoder)
	defer func() {
		decoder.Reset(nil)
		zstdDecoderPool.Put(decoder)
	}()
	if err := decoder.Reset(bytes.NewReader(data)); err != nil {
		return nil, err
	}
	return io.ReadAll(decoder)
}
