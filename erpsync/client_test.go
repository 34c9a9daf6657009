package erpsync

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
)

func newTestClient(t *testing.T, baseURL string) *erpClient {
	t.Helper()
	t.Setenv("ERP_RATE_LIMIT_PER_MIN", "6000000")
	c, err := newErpClient(baseURL, "user", "secret")
	if err != nil {
		t.Fatalf("newErpClient: %v", err)
	}
	return c
}

func listBody(t *testing.T, count, offset, n int) []byte {
	t.Helper()
	results := make([]json.RawMessage, 0, n)
	for i := 0; i < n; i++ {
		results = append(results, json.RawMessage(fmt.Sprintf(`{"id":%d}`, offset+i)))
	}
	b, err := json.Marshal(map[string]interface{}{
		"results": results,
		"resultSetMetadata": map[string]int{
			"count":  count,
			"offset": offset,
			"limit":  pageLimit,
		},
	})
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	return b
}

func TestGetList_SendsBasicAuthAndParams(t *testing.T) {
	var gotAuth bool
	var gotModifiedAfter string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		gotAuth = ok && user == "user" && pass == "secret"
		gotModifiedAfter = r.URL.Query().Get("modifiedAfter")
		w.Write(listBody(t, 1, 0, 1))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	params := url.Values{}
	params.Set("modifiedAfter", "2025-01-01T00:00:00Z")
	resp, err := c.getList(context.Background(), "/creditors", params)
	if err != nil {
		t.Fatalf("getList: %v", err)
	}
	if !gotAuth {
		t.Fatal("expected basic auth credentials on the request")
	}
	if gotModifiedAfter != "2025-01-01T00:00:00Z" {
		t.Fatalf("expected modifiedAfter param, got %q", gotModifiedAfter)
	}
	if len(resp.Results) != 1 || resp.ResultSetMetadata.Count != 1 {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestGetList_RetriesOn429(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write(listBody(t, 1, 0, 1))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	resp, err := c.getList(context.Background(), "/sales-contracts", nil)
	if err != nil {
		t.Fatalf("getList after 429: %v", err)
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected exactly one retry, got %d calls", calls)
	}
	if len(resp.Results) != 1 {
		t.Fatalf("expected the retried page, got %+v", resp)
	}
}

func TestGetList_GivesUpAfterMaxRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	t.Setenv("ERP_MAX_RETRIES", "1")
	c := newTestClient(t, srv.URL)
	_, err := c.getList(context.Background(), "/units", nil)
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if atomic.LoadInt32(&calls) != 2 {
		t.Fatalf("expected initial call plus one retry, got %d calls", calls)
	}
}

func TestGetList_NoRetryOn4xx(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.getList(context.Background(), "/customers", nil)
	if err == nil {
		t.Fatal("expected error on 401")
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("401 must not retry, got %d calls", calls)
	}
}

func TestForEachPage_WalksUntilCount(t *testing.T) {
	const total = 450
	var offsets []int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		if limit != pageLimit {
			t.Errorf("expected limit %d, got %d", pageLimit, limit)
		}
		offsets = append(offsets, offset)
		n := total - offset
		if n > pageLimit {
			n = pageLimit
		}
		w.Write(listBody(t, total, offset, n))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	var seen int
	err := c.forEachPage(context.Background(), "/enterprises", nil, func(results []json.RawMessage) error {
		seen += len(results)
		return nil
	})
	if err != nil {
		t.Fatalf("forEachPage: %v", err)
	}
	if seen != total {
		t.Fatalf("expected %d records, got %d", total, seen)
	}
	if len(offsets) != 3 || offsets[0] != 0 || offsets[1] != 200 || offsets[2] != 400 {
		t.Fatalf("expected offsets [0 200 400], got %v", offsets)
	}
}

func TestForEachPage_StopsOnEmptyPage(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Write(listBody(t, 0, 0, 0))
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	err := c.forEachPage(context.Background(), "/units", nil, func([]json.RawMessage) error {
		t.Fatal("callback must not run for an empty page")
		return nil
	})
	if err != nil {
		t.Fatalf("forEachPage: %v", err)
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Fatalf("expected a single request, got %d", calls)
	}
}
