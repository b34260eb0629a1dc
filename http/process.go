package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

// httpProcess implements both zfs.SendHandle and zfs.ReceiveHandle on top of
// a single in-flight HTTP round-trip, mirroring the local subprocess handle
// in agent.go: started eagerly, polled or waited on later, never awaited
// twice.
type httpProcess struct {
	cancel context.CancelFunc
	resp   *http.Response
	done   chan struct{}
	code   int
	err    error
}

func startHTTPSend(client *http.Client, req *http.Request) (*httpProcess, error) {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("http: starting send: %w", err)
	}
	if resp.StatusCode >= 300 {
		defer resp.Body.Close()
		cancel()
		return nil, decodeError(resp)
	}

	p := &httpProcess{cancel: cancel, resp: resp, done: make(chan struct{})}
	return p, nil
}

// Stdout streams the zfs send byte stream as it arrives over the wire. The
// caller is expected to drain it and then call Wait, same as the local
// process handle's stdout pipe.
func (p *httpProcess) Stdout() io.Reader {
	return &closeOnEOFReader{p: p, r: p.resp.Body}
}

// closeOnEOFReader finishes the httpProcess bookkeeping (closing the response
// body, recording the outcome, closing done) the moment the caller has read
// the entire send stream, without requiring a distinct goroutine to race the
// reader.
type closeOnEOFReader struct {
	p    *httpProcess
	r    io.ReadCloser
	done bool
}

func (c *closeOnEOFReader) Read(buf []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	n, err := c.r.Read(buf)
	if err != nil {
		c.finish(err)
	}
	return n, err
}

func (c *closeOnEOFReader) finish(err error) {
	if c.done {
		return
	}
	c.done = true
	c.r.Close()
	if err != nil && err != io.EOF {
		c.p.err = err
		c.p.code = 1
	}
	close(c.p.done)
}

func startHTTPReceive(client *http.Client, req *http.Request) (*httpProcess, error) {
	ctx, cancel := context.WithCancel(req.Context())
	req = req.WithContext(ctx)

	p := &httpProcess{cancel: cancel, done: make(chan struct{})}

	go func() {
		resp, err := client.Do(req)
		if err != nil {
			p.err = err
			p.code = 1
			close(p.done)
			return
		}
		defer resp.Body.Close()
		p.resp = resp
		if resp.StatusCode >= 300 {
			p.err = decodeError(resp)
			p.code = 1
		}
		close(p.done)
	}()

	return p, nil
}

func (p *httpProcess) Poll() (code int, exited bool) {
	select {
	case <-p.done:
		return p.code, true
	default:
		return 0, false
	}
}

func (p *httpProcess) Terminate() {
	p.cancel()
}

func (p *httpProcess) Wait() int {
	<-p.done
	return p.code
}

// Err returns the error from a failed round-trip, if any. It is not part of
// the ProcessHandle contract but lets callers surface the underlying cause
// rather than a bare non-zero exit code.
func (p *httpProcess) Err() error {
	return p.err
}
