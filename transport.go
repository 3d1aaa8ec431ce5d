package stripe

import (
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
)

// Transport sends one HTTP request and returns the raw response.
// Implementations must be safe for concurrent use; the executor calls it once
// per attempt and always drains and closes the response body.
//
// Example:
//
//	type loggingTransport struct{ next stripe.Transport }
//
//	func (t *loggingTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
//	    log.Printf("%s %s", req.Method, req.URL)
//	    return t.next.Execute(ctx, req)
//	}
type Transport interface {
	Execute(ctx context.Context, req *http.Request) (*http.Response, error)
}

// HTTPTransport adapts an *http.Client to Transport. The client, and with it
// the connection pool, is shared by every call.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport creates an HTTPTransport. A nil client uses a client with
// no overall timeout; per-call budgets come from the context.
func NewHTTPTransport(client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client}
}

// Execute implements Transport.
func (t *HTTPTransport) Execute(ctx context.Context, req *http.Request) (*http.Response, error) {
	return t.client.Do(req.WithContext(ctx))
}

// acceptEncoding lists the encodings readBody understands.
const acceptEncoding = "gzip, br, zstd"

// gzipReaderPool reduces allocations for gzip decompression.
var gzipReaderPool = sync.Pool{
	New: func() any {
		return new(gzip.Reader)
	},
}

// zstdDecoderPool reduces allocations for zstd decompression.
var zstdDecoderPool = sync.Pool{
	New: func() any {
		decoder, _ := zstd.NewReader(nil)
		return decoder
	},
}

// readBody drains and closes the response body, undoing any Content-Encoding
// the server applied.
func readBody(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()

	encoding := strings.TrimSpace(strings.ToLower(resp.Header.Get("Content-Encoding")))
	switch encoding {
	case "", "identity":
		return io.ReadAll(resp.Body)
	case "gzip":
		gr := gzipReaderPool.Get().(*gzip.Reader)
		defer gzipReaderPool.Put(gr)
		if err := gr.Reset(resp.Body); err != nil {
			return nil, fmt.Errorf("failed to reset gzip reader: %w", err)
		}
		defer gr.Close()
		return io.ReadAll(gr)
	case "br":
		return io.ReadAll(brotli.NewReader(resp.Body))
	case "zstd":
		decoder := zstdDecoderPool.Get().(*zstd.Decoder)
		if decoder == nil {
			return nil, fmt.Errorf("zstd decoder unavailable")
		}
		defer func() {
			_ = decoder.Reset(nil)
			zstdDecoderPool.Put(decoder)
		}()
		if err := decoder.Reset(resp.Body); err != nil {
			return nil, fmt.Errorf("failed to reset zstd decoder: %w", err)
		}
		return io.ReadAll(decoder)
	default:
		return io.ReadAll(resp.Body)
	}
}
