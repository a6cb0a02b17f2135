package backend

import (
	"context"
	"io"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// http2Tunnel adapts one HTTP/2 stream (a request body paired with its
// response body) to net.Conn so it can be handed straight to the shared
// Relay, which only needs Read/Write/Close/deadlines.
type http2Tunnel struct {
	reqBody  *io.PipeWriter
	respBody io.ReadCloser
	local    net.Addr
	remote   net.Addr
}

func newHTTP2Tunnel(ctx context.Context, conn *http2.ClientConn, addr string, timeout time.Duration) (*http2Tunnel, error) {
	pr, pw := io.Pipe()

	req, err := http.NewRequestWithContext(ctx, http.MethodConnect, "https://"+addr+"/", pr)
	if err != nil {
		return nil, err
	}
	req.Host = addr

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := conn.RoundTrip(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	select {
	case resp := <-respCh:
		return &http2Tunnel{reqBody: pw, respBody: resp.Body}, nil
	case err := <-errCh:
		return nil, err
	case <-time.After(timeout):
		pw.CloseWithError(context.DeadlineExceeded)
		return nil, context.DeadlineExceeded
	}
}

func (t *http2Tunnel) Read(b []byte) (int, error)  { return t.respBody.Read(b) }
func (t *http2Tunnel) Write(b []byte) (int, error) { return t.reqBody.Write(b) }

func (t *http2Tunnel) Close() error {
	werr := t.reqBody.Close()
	rerr := t.respBody.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

func (t *http2Tunnel) LocalAddr() net.Addr  { return t.local }
func (t *http2Tunnel) RemoteAddr() net.Addr { return t.remote }

// HTTP/2 streams don't expose per-stream I/O deadlines; the relay's
// connect/idle timeouts have no effect on this backend as a result.
func (t *http2Tunnel) SetDeadline(time.Time) error     { return nil }
func (t *http2Tunnel) SetReadDeadline(time.Time) error  { return nil }
func (t *http2Tunnel) SetWriteDeadline(time.Time) error { return nil }
