package webclient

import (
	"context"
	"net/http"
	"time"
)

// WebClient fetches a single URL. Implementations route their traffic through
// the scanner's proxy so the scanner records what was fetched.
type WebClient interface {
	Do(ctx context.Context, req *Request) (*Response, error)

	Close() error
}

type Request struct {
	Method  string
	URL     string
	Headers http.Header
	Body    []byte
}

type Response struct {
	Request    *Request
	Headers    http.Header
	Body       []byte
	StatusCode int
	FetchedAt  time.Time
}
