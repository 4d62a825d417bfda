package llm

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
)

// httpClient is shared by all adapters. Per-request deadlines come from
// the context, not the client, so one client serves every connection.
var httpClient = &http.Client{}

// doRequest sends a built Request under the connection's timeout and
// returns the raw response. Deadline expiry surfaces as *TimeoutError;
// other transport failures pass through wrapped.
func doRequest(ctx context.Context, conn Connection, req Request) (*http.Response, context.CancelFunc, error) {
	ctx, cancel := context.WithTimeout(ctx, conn.RequestTimeout())

	hreq, err := http.NewRequestWithContext(ctx, req.Method, req.URL, bytes.NewReader(req.Body))
	if err != nil {
		cancel()
		return nil, nil, err
	}
	hreq.Header = req.Header

	resp, err := httpClient.Do(hreq)
	if err != nil {
		cancel()
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, nil, &TimeoutError{Cause: err}
		}
		return nil, nil, err
	}
	return resp, cancel, nil
}

// readResponse consumes the full body and converts non-2xx statuses into
// *HTTPError carrying the status and the server's error body.
func readResponse(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &TimeoutError{Cause: err}
		}
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{Status: resp.StatusCode, Body: body}
	}
	return body, nil
}

// checkStatus validates a streaming response's status before the body is
// handed to the caller unread.
func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	resp.Body.Close()
	return &HTTPError{Status: resp.StatusCode, Body: body}
}

// cancelOnClose ties a context cancel function to the life of a response
// body, so the request timeout keeps running until the stream is fully
// consumed and released.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
