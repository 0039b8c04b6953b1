package geckoterminal

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/samber/lo"

	"cryptomovers/internal/models"
	"cryptomovers/internal/pipeline"
	"cryptomovers/internal/upstream"
)

func poolPage(net string, page int) string {
	return fmt.Sprintf(`{
		"data":[
			{"id":"%[1]s_p%[2]d","attributes":{"name":"TK%[2]d / SOL","address":"addr%[2]d","base_token_price_usd":"0.5",
			 "reserve_in_usd":"20000","fdv_usd":"90000","price_change_percentage":{"m30":"1","h1":"2","h6":null,"h24":"%[2]d5.5"},
			 "volume_usd":{"h24":"3000"}},
			 "relationships":{"base_token":{"data":{"id":"%[1]s_tok%[2]d"}}}},
			{"id":"%[1]s_bad%[2]d","attributes":{"name":"BAD / SOL","base_token_price_usd":null,"price_change_percentage":{"h24":"1"}}}
		],
		"included":[{"id":"%[1]s_tok%[2]d","type":"token","attributes":{"symbol":"tk%[2]d","image_url":"missing.png"}}]
	}`, net, page)
}

func newServer(t *testing.T, fail func(net string, page string) int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		if len(parts) != 3 || parts[0] != "networks" || parts[2] != "pools" || r.URL.Query().Get("include") != "base_token" {
			http.NotFound(w, r)
			return
		}
		page := r.URL.Query().Get("page")
		if status := fail(parts[1], page); status != 0 {
			w.WriteHeader(status)
			return
		}
		var n int
		fmt.Sscan(page, &n)
		fmt.Fprint(w, poolPage(parts[1], n))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func ids(items []models.Item) []string {
	return lo.Map(items, func(it models.Item, _ int) string { return it.ID })
}

func TestFetchAllNetworks(t *testing.T) {
	srv := newServer(t, func(string, string) int { return 0 })
	c := NewClient(upstream.SharedHTTPClient(5*time.Second), Options{BaseURL: srv.URL, Networks: []string{"solana", "eth"}})

	batch, err := c.Fetch(context.Background(), pipeline.ModeDeep)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if batch.Partial {
		t.Error("full coverage should not be partial")
	}
	want := []string{"solana_p1", "solana_p2", "eth_p1", "eth_p2"}
	if got := ids(batch.Items); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("ids = %v, want %v", got, want)
	}

	it := batch.Items[0]
	if it.Symbol != "TK1" || it.Name != "TK1" || it.Image != "" || it.Change24h != 15.5 || it.Liquidity != 20000 || it.MarketCap != 90000 {
		t.Errorf("unexpected normalization: %+v", it)
	}
	if it.Change30m == nil || *it.Change30m != 1 || it.Change6h != nil {
		t.Errorf("horizons: %+v", it)
	}
	if it.URL != "https://www.geckoterminal.com/solana/pools/addr1" || it.Network != "solana" {
		t.Errorf("url=%s network=%s", it.URL, it.Network)
	}
}

func TestFetchFailedPageIsPartial(t *testing.T) {
	srv := newServer(t, func(net, page string) int {
		if net == "eth" && page == "2" {
			return http.StatusInternalServerError
		}
		return 0
	})
	c := NewClient(upstream.SharedHTTPClient(5*time.Second), Options{BaseURL: srv.URL, Networks: []string{"eth"}})

	batch, err := c.Fetch(context.Background(), pipeline.ModeDeep)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !batch.Partial || len(batch.Items) != 1 {
		t.Errorf("partial=%v items=%v", batch.Partial, ids(batch.Items))
	}
}

func TestFetchFailedNetworkIsPartial(t *testing.T) {
	srv := newServer(t, func(net, _ string) int {
		if net == "bsc" {
			return http.StatusTooManyRequests
		}
		return 0
	})
	c := NewClient(upstream.SharedHTTPClient(5*time.Second), Options{BaseURL: srv.URL, Networks: []string{"bsc", "base"}})

	batch, err := c.Fetch(context.Background(), pipeline.ModeDeep)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if !batch.Partial {
		t.Error("a failed network should mark the batch partial")
	}
	if got := ids(batch.Items); len(got) != 2 || !strings.HasPrefix(got[0], "base_") {
		t.Errorf("ids = %v", got)
	}
}

func TestFetchEverythingFailed(t *testing.T) {
	srv := newServer(t, func(string, string) int { return http.StatusTooManyRequests })
	c := NewClient(upstream.SharedHTTPClient(5*time.Second), Options{BaseURL: srv.URL, Networks: []string{"eth", "solana"}})

	_, err := c.Fetch(context.Background(), pipeline.ModeCold)
	if !errors.Is(err, upstream.ErrFatal) {
		t.Fatalf("got %v, want ErrFatal", err)
	}
}
