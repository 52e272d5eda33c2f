package natsutil

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

type prayerMsg struct {
	PrayerID string `json:"prayer_id"`
	Count    int    `json:"count"`
}

func startTestNATS(t *testing.T) *nats.Conn {
	t.Helper()
	srv, err := natsserver.NewServer(&natsserver.Options{Port: -1})
	if err != nil {
		t.Fatal(err)
	}
	srv.Start()
	if !srv.ReadyForConnections(3 * time.Second) {
		t.Fatal("nats not ready")
	}
	nc, err := nats.Connect(srv.ClientURL())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		nc.Close()
		srv.Shutdown()
	})
	return nc
}

func TestNatsHeaderCarrier(t *testing.T) {
	msg := &nats.Msg{}
	carrier := (*natsHeaderCarrier)(msg)

	if got := carrier.Get("missing"); got != "" {
		t.Fatalf("expected empty, got %q", got)
	}
	if keys := carrier.Keys(); keys != nil {
		t.Fatalf("expected nil keys, got %v", keys)
	}

	carrier.Set("traceparent", "00-abc-def-01")
	carrier.Set("tracestate", "x=y")
	if got := carrier.Get("traceparent"); got != "00-abc-def-01" {
		t.Fatalf("expected traceparent, got %q", got)
	}
	if keys := carrier.Keys(); len(keys) != 2 {
		t.Fatalf("unexpected keys: %v", keys)
	}
}

func TestPublishSubscribe(t *testing.T) {
	nc := startTestNATS(t)

	ch := make(chan prayerMsg, 1)
	sub, err := Subscribe(nc, "selah.test.generated", func(ctx context.Context, m prayerMsg) {
		ch <- m
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if err := Publish(context.Background(), nc, "selah.test.generated", prayerMsg{PrayerID: "p1", Count: 3}); err != nil {
		t.Fatal(err)
	}

	select {
	case m := <-ch:
		if m.PrayerID != "p1" || m.Count != 3 {
			t.Fatalf("unexpected: %+v", m)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timeout")
	}
}

func TestSubscribeDropsMalformed(t *testing.T) {
	nc := startTestNATS(t)

	called := make(chan struct{}, 1)
	sub, err := QueueSubscribe(nc, "selah.test.malformed", "workers", func(ctx context.Context, m prayerMsg) {
		called <- struct{}{}
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	_ = nc.Publish("selah.test.malformed", []byte("{bad"))
	_ = nc.Flush()

	select {
	case <-called:
		t.Fatal("handler should not be called for malformed data")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestPublishMarshalError(t *testing.T) {
	nc := startTestNATS(t)
	if err := Publish(context.Background(), nc, "selah.test.err", make(chan int)); err == nil {
		t.Fatal("expected marshal error")
	}
}

func TestRequest(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("selah.test.req", func(msg *nats.Msg) {
		var req prayerMsg
		_ = json.Unmarshal(msg.Data, &req)
		data, _ := json.Marshal(prayerMsg{PrayerID: req.PrayerID, Count: req.Count * 2})
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	resp, err := Request[prayerMsg, prayerMsg](context.Background(), nc, "selah.test.req", prayerMsg{PrayerID: "p1", Count: 5})
	if err != nil {
		t.Fatal(err)
	}
	if resp.PrayerID != "p1" || resp.Count != 10 {
		t.Fatalf("unexpected resp: %+v", resp)
	}
}

func TestRequestHonoursContextDeadline(t *testing.T) {
	nc := startTestNATS(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err := Request[prayerMsg, prayerMsg](ctx, nc, "selah.test.noreply", prayerMsg{PrayerID: "x"})
	if err == nil {
		t.Fatal("expected error without responder")
	}
	if time.Since(start) > time.Second {
		t.Fatalf("request ignored ctx deadline: took %v", time.Since(start))
	}
}

func TestRequestUnmarshalError(t *testing.T) {
	nc := startTestNATS(t)

	sub, err := nc.Subscribe("selah.test.badjson", func(msg *nats.Msg) {
		_ = msg.Respond([]byte("{invalid"))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	if _, err := Request[prayerMsg, prayerMsg](context.Background(), nc, "selah.test.badjson", prayerMsg{}); err == nil {
		t.Fatal("expected unmarshal error")
	}
}

func TestRespondAndCall(t *testing.T) {
	nc := startTestNATS(t)

	errEmpty := errors.New("empty prayer")
	kind := func(err error) string {
		if errors.Is(err, errEmpty) {
			return "validation"
		}
		return "internal"
	}
	sub, err := Respond(nc, "selah.test.recommend", "recommenders", kind, func(ctx context.Context, req prayerMsg) (prayerMsg, error) {
		if req.PrayerID == "" {
			return prayerMsg{}, errEmpty
		}
		return prayerMsg{PrayerID: req.PrayerID, Count: 3}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	defer sub.Unsubscribe()

	got, err := Call[prayerMsg, prayerMsg](context.Background(), nc, "selah.test.recommend", prayerMsg{PrayerID: "p9"})
	if err != nil {
		t.Fatal(err)
	}
	if got.Count != 3 {
		t.Fatalf("got %+v", got)
	}

	_, err = Call[prayerMsg, prayerMsg](context.Background(), nc, "selah.test.recommend", prayerMsg{})
	var remote *RemoteError
	if !errors.As(err, &remote) || remote.Kind != "validation" {
		t.Fatalf("expected validation RemoteError, got %v", err)
	}

	// Malformed body never reaches the handler.
	resp, err := nc.Request("selah.test.recommend", []byte("{nope"), 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	var reply Reply[prayerMsg]
	if err := json.Unmarshal(resp.Data, &reply); err != nil {
		t.Fatal(err)
	}
	if reply.Kind != "validation" || reply.Error == "" {
		t.Fatalf("reply = %+v", reply)
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(nats.ErrTimeout) || !IsTimeout(context.DeadlineExceeded) {
		t.Fatal("expected timeouts")
	}
	if IsTimeout(errors.New("x")) {
		t.Fatal("unexpected timeout")
	}
}
