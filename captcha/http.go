package captcha

import (
	"context"
	"fmt"
	"time"

	"gopkg.in/h2non/gentleman.v2"
	"gopkg.in/h2non/gentleman.v2/plugins/timeout"
)

const (
	REQUEST_TIMEOUT = 30 * time.Second
)

// newHTTPClient creates gentleman client bound to base url.
func newHTTPClient(baseURL string, requestTimeout time.Duration) *gentleman.Client {
	if requestTimeout <= 0 {
		requestTimeout = REQUEST_TIMEOUT
	}
	client := gentleman.New()
	client.URL(baseURL)
	client.Use(timeout.Request(requestTimeout))
	return client
}

// send dispatches request bound to ctx and decodes JSON answer into out.
func send(ctx context.Context, request *gentleman.Request, out any) error {
	current := request.Context.Request
	request.Context.Request = current.WithContext(requestContext{Context: ctx, values: current.Context()})

	response, err := request.Send()
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return err
	}

	if !response.Ok {
		return fmt.Errorf("unexpected status %d: %s", response.StatusCode, truncate(response.String(), 200))
	}

	if err := response.JSON(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

// requestContext cancels with the caller context but keeps the values
// gentleman stores in its own request context.
type requestContext struct {
	context.Context
	values context.Context
}

func (c requestContext) Value(key any) any {
	if v := c.values.Value(key); v != nil {
		return v
	}
	return c.Context.Value(key)
}

func postJSON(ctx context.Context, client *gentleman.Client, path string, body, out any) error {
	request := client.Request().Method("POST").Path(path).JSON(body)
	return send(ctx, request, out)
}

// wait pauses for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
