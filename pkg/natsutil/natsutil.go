// Package natsutil provides typed NATS publish/subscribe/request helpers
// with OpenTelemetry trace propagation.
package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
)

// natsHeaderCarrier adapts nats.Msg headers for OTel TextMapCarrier.
type natsHeaderCarrier nats.Msg

func (c *natsHeaderCarrier) Get(key string) string {
	if c.Header == nil {
		return ""
	}
	return c.Header.Get(key)
}

func (c *natsHeaderCarrier) Set(key, val string) {
	if c.Header == nil {
		c.Header = make(nats.Header)
	}
	c.Header.Set(key, val)
}

func (c *natsHeaderCarrier) Keys() []string {
	if c.Header == nil {
		return nil
	}
	keys := make([]string, 0, len(c.Header))
	for k := range c.Header {
		keys = append(keys, k)
	}
	return keys
}

// Reply wraps a request/reply response so that handler failures reach the
// requester as errors instead of timeouts.
type Reply[T any] struct {
	Data  T      `json:"data"`
	Error string `json:"error,omitempty"`
	// Kind classifies Error for the caller (e.g. "validation", "index", "oracle").
	Kind string `json:"kind,omitempty"`
}

// RemoteError is returned by Request when the responder replied with an error.
type RemoteError struct {
	Subject string
	Kind    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Kind == "" {
		return fmt.Sprintf("natsutil: %s: %s", e.Subject, e.Message)
	}
	return fmt.Sprintf("natsutil: %s: %s: %s", e.Subject, e.Kind, e.Message)
}

func newMsg[T any](ctx context.Context, subject string, v T) (*nats.Msg, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("natsutil: marshal %s: %w", subject, err)
	}
	msg := &nats.Msg{
		Subject: subject,
		Data:    data,
	}
	otel.GetTextMapPropagator().Inject(ctx, (*natsHeaderCarrier)(msg))
	return msg, nil
}

// Publish serializes v as JSON and publishes to the given subject.
// Trace context from ctx is injected into NATS message headers.
func Publish[T any](ctx context.Context, nc *nats.Conn, subject string, v T) error {
	msg, err := newMsg(ctx, subject, v)
	if err != nil {
		return err
	}
	return nc.PublishMsg(msg)
}

// Subscribe registers a handler that deserializes JSON messages of type T.
// Trace context is extracted from NATS message headers and passed to the handler.
// Malformed messages are logged and dropped.
func Subscribe[T any](nc *nats.Conn, subject string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.Subscribe(subject, decoding(subject, handler))
}

// QueueSubscribe is Subscribe with load balancing across members of queue.
func QueueSubscribe[T any](nc *nats.Conn, subject, queue string, handler func(context.Context, T)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, decoding(subject, handler))
}

func decoding[T any](subject string, handler func(context.Context, T)) nats.MsgHandler {
	return func(msg *nats.Msg) {
		var v T
		if err := json.Unmarshal(msg.Data, &v); err != nil {
			slog.Warn("natsutil: dropping malformed message", "subject", subject, "err", err)
			return
		}
		ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
		handler(ctx, v)
	}
}

// Respond serves request/reply traffic on subject. The handler's result is
// wrapped in a Reply; a non-nil error is classified with kind and returned to
// the requester. Requests with malformed bodies are answered with kind "validation".
func Respond[Req, Resp any](nc *nats.Conn, subject, queue string, kind func(error) string, handler func(context.Context, Req) (Resp, error)) (*nats.Subscription, error) {
	return nc.QueueSubscribe(subject, queue, func(msg *nats.Msg) {
		var reply Reply[Resp]
		var req Req
		if err := json.Unmarshal(msg.Data, &req); err != nil {
			reply.Error, reply.Kind = err.Error(), "validation"
		} else {
			ctx := otel.GetTextMapPropagator().Extract(context.Background(), (*natsHeaderCarrier)(msg))
			resp, err := handler(ctx, req)
			if err != nil {
				reply.Error = err.Error()
				if kind != nil {
					reply.Kind = kind(err)
				}
			} else {
				reply.Data = resp
			}
		}
		data, err := json.Marshal(reply)
		if err != nil {
			slog.Error("natsutil: marshal reply", "subject", subject, "err", err)
			return
		}
		if err := msg.Respond(data); err != nil {
			slog.Warn("natsutil: respond failed", "subject", subject, "err", err)
		}
	})
}

// Request sends a JSON-encoded request and decodes the response. The
// timeout is taken from ctx's deadline, falling back to nats.DefaultTimeout.
func Request[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	var zero Resp
	msg, err := newMsg(ctx, subject, req)
	if err != nil {
		return zero, err
	}
	resp, err := nc.RequestMsg(msg, timeoutFrom(ctx))
	if err != nil {
		return zero, err
	}
	var result Resp
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return zero, fmt.Errorf("natsutil: unmarshal %s reply: %w", subject, err)
	}
	return result, nil
}

// Call is Request against a Respond handler: it unwraps the Reply envelope and
// surfaces a responder failure as *RemoteError.
func Call[Req, Resp any](ctx context.Context, nc *nats.Conn, subject string, req Req) (Resp, error) {
	reply, err := Request[Req, Reply[Resp]](ctx, nc, subject, req)
	if err != nil {
		var zero Resp
		return zero, err
	}
	if reply.Error != "" {
		return reply.Data, &RemoteError{Subject: subject, Kind: reply.Kind, Message: reply.Error}
	}
	return reply.Data, nil
}

// IsTimeout reports whether err is a request timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded)
}

func timeoutFrom(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d > 0 {
			return d
		}
		return time.Millisecond
	}
	return nats.DefaultTimeout
}
