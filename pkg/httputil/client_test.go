package httputil

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"
)

func TestClientTiers(t *testing.T) {
	if got := Client(TierFast).Timeout; got != 5*time.Second {
		t.Errorf("fast timeout = %v, want 5s", got)
	}
	if got := Client(TierMedium).Timeout; got != 30*time.Second {
		t.Errorf("medium timeout = %v, want 30s", got)
	}
	if got := Client(TierSlow).Timeout; got != 60*time.Second {
		t.Errorf("slow timeout = %v, want 60s", got)
	}
	if Client(TierFast) != Client(TierFast) {
		t.Error("tier clients not shared")
	}
}

func TestReadResponseBodyLimit(t *testing.T) {
	body, err := ReadResponseBody(strings.NewReader("0123456789"), 4)
	if err != nil {
		t.Fatalf("ReadResponseBody: %v", err)
	}
	if string(body) != "0123" {
		t.Errorf("body = %q, want truncated to 4 bytes", body)
	}

	full, err := ReadResponseBody(strings.NewReader("hello"), 0)
	if err != nil {
		t.Fatalf("ReadResponseBody: %v", err)
	}
	if string(full) != "hello" {
		t.Errorf("body = %q, want full read under the default cap", full)
	}
}

func TestDrainAndClose(t *testing.T) {
	rc := &trackingCloser{Reader: strings.NewReader("leftover body")}
	DrainAndClose(rc)
	if !rc.closed {
		t.Error("body not closed")
	}
	if !rc.drained {
		t.Error("body not drained")
	}

	DrainAndClose(nil) // must not panic
}

type trackingCloser struct {
	io.Reader
	closed  bool
	drained bool
}

func (c *trackingCloser) Read(p []byte) (int, error) {
	n, err := c.Reader.Read(p)
	if err == io.EOF {
		c.drained = true
	}
	return n, err
}

func (c *trackingCloser) Close() error {
	c.closed = true
	return nil
}

func TestRetrySucceedsAfterFailures(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	calls := 0
	wantErr := errors.New("permanent")
	err := Retry(context.Background(), 3, time.Millisecond, func() error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Errorf("err = %v, want the last attempt's error", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryStopsOnContextCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, 5, time.Hour, func() error {
		calls++
		return errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 before the cancelled backoff", calls)
	}
}

func TestRetryClampsAttempts(t *testing.T) {
	calls := 0
	_ = Retry(context.Background(), 0, time.Millisecond, func() error {
		calls++
		return errors.New("transient")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1 with attempts clamped up", calls)
	}
}
