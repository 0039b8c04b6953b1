package upstream

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestClassify(t *testing.T) {
	cases := map[int]error{
		200: nil,
		204: nil,
		429: ErrRateLimited,
		401: ErrRejected,
		404: ErrRejected,
		408: ErrTransient,
		500: ErrTransient,
		503: ErrTransient,
	}
	for status, want := range cases {
		if got := Classify(status); got != want {
			t.Errorf("Classify(%d) = %v, want %v", status, got, want)
		}
	}
}

func TestClientGetJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Key") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch r.URL.Path {
		case "/ok":
			fmt.Fprint(w, `{"value": 7}`)
		case "/limited":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/garbage":
			fmt.Fprint(w, `{not json`)
		}
	}))
	defer srv.Close()

	c := NewClient("test", SharedHTTPClient(5*time.Second), map[string]string{"X-Key": "secret"})
	ctx := context.Background()

	var out struct{ Value int }
	if err := c.GetJSON(ctx, srv.URL+"/ok", &out); err != nil || out.Value != 7 {
		t.Fatalf("ok: value=%d err=%v", out.Value, err)
	}

	checks := []struct {
		path string
		want error
	}{
		{"/limited", ErrRateLimited},
		{"/broken", ErrTransient},
		{"/garbage", ErrTransient},
	}
	for _, ch := range checks {
		err := c.GetJSON(ctx, srv.URL+ch.path, &out)
		if !errors.Is(err, ch.want) {
			t.Errorf("%s: got %v, want %v", ch.path, err, ch.want)
		}
		var pe *ProviderError
		if !errors.As(err, &pe) || pe.Provider != "test" {
			t.Errorf("%s: expected ProviderError, got %T", ch.path, err)
		}
	}

	anon := NewClient("anon", SharedHTTPClient(5*time.Second), nil)
	if err := anon.GetJSON(ctx, srv.URL+"/ok", &out); !errors.Is(err, ErrRejected) {
		t.Errorf("missing header: got %v, want ErrRejected", err)
	}
}

func TestClientCancellationAbortsRequest(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-release:
		}
	}))
	defer srv.Close()
	defer close(release)

	c := NewClient("slow", SharedHTTPClient(time.Minute), nil)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	var out any
	err := c.GetJSON(ctx, srv.URL, &out)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("got %v, want deadline exceeded", err)
	}
	if Retryable(err) {
		t.Error("a cancelled call must not be retried")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("request was not aborted at the deadline")
	}
}

func pages(data map[int][]int, fail map[int]error, calls *int32) PageFunc[int] {
	return func(ctx context.Context, page int, cursor string) ([]int, string, error) {
		atomic.AddInt32(calls, 1)
		if err, ok := fail[page]; ok {
			return nil, "", err
		}
		return data[page], "", nil
	}
}

func TestPaginateRateLimitOnSecondPage(t *testing.T) {
	var calls int32
	data := map[int][]int{1: {1, 2}, 2: {3, 4}, 3: {5, 6}}
	fail := map[int]error{2: ErrRateLimited}

	got, partial, err := Paginate(context.Background(), Pagination{Provider: "p", Pages: 3, Attempts: 2}, pages(data, fail, &calls))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("expected partial result")
	}
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 (no retry on 429, no page 3)", calls)
	}
}

func TestPaginateFullCoverageIsNotPartial(t *testing.T) {
	var calls int32
	data := map[int][]int{1: {1}, 2: {2}, 3: {3}}
	got, partial, err := Paginate(context.Background(), Pagination{Pages: 3, Attempts: 2}, pages(data, nil, &calls))
	if err != nil || partial {
		t.Fatalf("partial=%v err=%v", partial, err)
	}
	if diff := cmp.Diff([]int{1, 2, 3}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestPaginateEmptyPageEndsWalk(t *testing.T) {
	var calls int32
	data := map[int][]int{1: {1}}
	got, partial, err := Paginate(context.Background(), Pagination{Pages: 5, Attempts: 2}, pages(data, nil, &calls))
	if err != nil || partial || len(got) != 1 {
		t.Fatalf("got=%v partial=%v err=%v", got, partial, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPaginateRetriesTransientThenSucceeds(t *testing.T) {
	var calls int32
	fetch := func(ctx context.Context, page int, cursor string) ([]int, string, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, "", ErrTransient
		}
		return []int{page}, "", nil
	}
	got, partial, err := Paginate(context.Background(), Pagination{Pages: 1, Attempts: 2, Backoff: time.Millisecond}, fetch)
	if err != nil || partial || len(got) != 1 {
		t.Fatalf("got=%v partial=%v err=%v", got, partial, err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestPaginateFirstPageFailureIsFatal(t *testing.T) {
	var calls int32
	fail := map[int]error{1: ErrTransient}
	_, _, err := Paginate(context.Background(), Pagination{Pages: 3, Attempts: 2, Backoff: time.Millisecond}, pages(nil, fail, &calls))
	if !errors.Is(err, ErrTransient) {
		t.Fatalf("got %v, want transient error", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2 attempts", calls)
	}
}

func TestPaginateLaterPageFailureTruncates(t *testing.T) {
	var calls int32
	data := map[int][]int{1: {1}, 3: {3}}
	fail := map[int]error{2: ErrTransient}
	got, partial, err := Paginate(context.Background(), Pagination{Pages: 3, Attempts: 2, Backoff: time.Millisecond}, pages(data, fail, &calls))
	if err != nil || !partial {
		t.Fatalf("partial=%v err=%v", partial, err)
	}
	if diff := cmp.Diff([]int{1}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestPaginateDeadlineAfterFirstPageIsAnError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fetch := func(ctx context.Context, page int, _ string) ([]int, string, error) {
		if page == 2 {
			cancel()
			return nil, "", ctx.Err()
		}
		return []int{page}, "", nil
	}
	got, _, err := Paginate(ctx, Pagination{Pages: 3, Attempts: 2}, fetch)
	if !errors.Is(err, context.Canceled) || got != nil {
		t.Fatalf("got %v, err=%v; want context.Canceled", got, err)
	}
}

func TestPaginatePacingPastDeadlineIsAnError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	fetch := func(ctx context.Context, page int, _ string) ([]int, string, error) {
		return []int{page}, "", nil
	}
	_, _, err := Paginate(ctx, Pagination{Pages: 3, Attempts: 1, Pace: time.Hour}, fetch)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want DeadlineExceeded", err)
	}
}

func TestPaginateCursor(t *testing.T) {
	var seen []string
	fetch := func(ctx context.Context, page int, cursor string) ([]int, string, error) {
		seen = append(seen, cursor)
		if page == 2 {
			return []int{2}, "", nil
		}
		return []int{page}, fmt.Sprintf("c%d", page), nil
	}
	got, partial, err := Paginate(context.Background(), Pagination{Pages: 3, Attempts: 1, Cursor: true}, fetch)
	if err != nil || partial {
		t.Fatalf("partial=%v err=%v", partial, err)
	}
	if diff := cmp.Diff([]string{"", "c1"}, seen); diff != "" {
		t.Errorf("cursors (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1, 2}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

type network string

func (n network) String() string { return string(n) }

func TestFanOut(t *testing.T) {
	parts := []network{"eth", "solana", "base"}
	fetch := func(ctx context.Context, n network) ([]string, bool, error) {
		if n == "solana" {
			return nil, false, ErrTransient
		}
		return []string{string(n) + "-1", string(n) + "-2"}, false, nil
	}
	got, partial, err := FanOut(context.Background(), "gt", parts, fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !partial {
		t.Error("expected partial when one partition fails")
	}
	if diff := cmp.Diff([]string{"eth-1", "eth-2", "base-1", "base-2"}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}

func TestFanOutAllFailed(t *testing.T) {
	parts := []network{"eth", "bsc"}
	fetch := func(ctx context.Context, n network) ([]string, bool, error) {
		return nil, false, ErrRateLimited
	}
	_, _, err := FanOut(context.Background(), "gt", parts, fetch)
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
}

func TestFanOutPartitionReportsPartial(t *testing.T) {
	parts := []network{"eth", "bsc"}
	fetch := func(ctx context.Context, n network) ([]string, bool, error) {
		return []string{string(n)}, n == "bsc", nil
	}
	got, partial, err := FanOut(context.Background(), "gt", parts, fetch)
	if err != nil || !partial {
		t.Fatalf("partial=%v err=%v", partial, err)
	}
	if diff := cmp.Diff([]string{"eth", "bsc"}, got); diff != "" {
		t.Errorf("items (-want +got):\n%s", diff)
	}
}
