package drova

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
)

func testLogger() *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logrus.NewEntry(logger)
}

func TestSessionsSendsParamsAndAuthHeader(t *testing.T) {
	var gotPath, gotToken string
	var gotQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotToken = r.Header.Get("X-Auth-Token")
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"sessions":[{"id":"s1","server_id":"srv1","product_id":"p1","created_on":1700000000000,"finished_on":1700000600000,"status":"FINISHED"}]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	list, status := client.Sessions(context.Background(), "secret-token", "srv1", "m1", 5)
	if status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}

	if gotPath != "/session-manager/sessions" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotToken != "secret-token" {
		t.Fatalf("expected auth header to be forwarded, got %q", gotToken)
	}
	if gotQuery["server_id"][0] != "srv1" || gotQuery["limit"][0] != "5" || gotQuery["merchant_id"][0] != "m1" {
		t.Fatalf("unexpected query %v", gotQuery)
	}

	if list == nil || len(list.Sessions) != 1 {
		t.Fatalf("expected one session, got %+v", list)
	}
	if list.Sessions[0].FinishedOn == nil || *list.Sessions[0].FinishedOn != 1700000600000 {
		t.Fatalf("expected finished_on to parse, got %+v", list.Sessions[0].FinishedOn)
	}
}

func TestSessionsOmitsUnsetParams(t *testing.T) {
	var gotQuery map[string][]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`{"sessions":[]}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	if _, status := client.Sessions(context.Background(), "t", "", "", 0); status != http.StatusOK {
		t.Fatalf("expected status 200, got %d", status)
	}

	if len(gotQuery) != 0 {
		t.Fatalf("expected no query params, got %v", gotQuery)
	}
}

func TestNon200StatusIsReturnedWithoutData(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"forbidden"}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	account, status := client.AccountInfo(context.Background(), "bad")
	if status != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", status)
	}
	if account != nil {
		t.Fatalf("expected nil account on failure, got %+v", account)
	}
}

func TestNonJSONBodyIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html>gateway error</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	products, status := client.ProductsFull(context.Background())
	if status != StatusTransportError {
		t.Fatalf("expected transport failure status 0, got %d", status)
	}
	if products != nil {
		t.Fatalf("expected nil products, got %+v", products)
	}
}

func TestNon200WithNonJSONBodyKeepsStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("<html>not found</html>"))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	list, status := client.Sessions(context.Background(), "t", "", "m1", 5)
	if status != http.StatusNotFound {
		t.Fatalf("expected the real HTTP status 404, got %d", status)
	}
	if list != nil {
		t.Fatalf("expected nil list on failure, got %+v", list)
	}
}

func TestNetworkErrorIsTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	client := NewClient(srv.URL, testLogger())

	if _, status := client.Servers(context.Background(), "t", "u1"); status != StatusTransportError {
		t.Fatalf("expected transport failure status 0, got %d", status)
	}
}

func TestServerProductsPathIncludesServerID(t *testing.T) {
	var gotPath string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`[{"productId":"p1","title":"Doom","enabled":true,"published":true,"available":false}]`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, testLogger())

	products, status := client.ServerProducts(context.Background(), "t", "u1", "srv-42")
	if status != http.StatusOK {
		t.Fatalf("expected 200, got %d", status)
	}

	if gotPath != "/server-manager/serverproduct/list4edit2/srv-42" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if len(products) != 1 || products[0].Available {
		t.Fatalf("expected one unavailable product, got %+v", products)
	}
}

func TestMaskToken(t *testing.T) {
	if got := maskToken(""); got != "" {
		t.Fatalf("expected empty mask for empty token, got %q", got)
	}
	if got := maskToken("abc"); got != "***" {
		t.Fatalf("expected full mask for short token, got %q", got)
	}
	if got := maskToken("abcdef123"); got != "abcd***" {
		t.Fatalf("expected prefix mask, got %q", got)
	}
}
