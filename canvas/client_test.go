package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

// rewriteTransport steers requests for the fixed https base URL at the
// test server.
type rewriteTransport struct {
	target *url.URL
}

func (t rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	clone.URL.Scheme = t.target.Scheme
	clone.URL.Host = t.target.Host
	return http.DefaultTransport.RoundTrip(clone)
}

func newTestClient(t *testing.T, srv *httptest.Server, opts ...Option) *Client {
	t.Helper()
	target, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse test server URL: %v", err)
	}
	opts = append([]Option{
		WithHTTPClient(&http.Client{Transport: rewriteTransport{target}}),
		WithRetryDelay(time.Millisecond),
	}, opts...)
	client, err := NewClient("test-token", "school.test", opts...)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestNewClientValidation(t *testing.T) {
	tests := []struct {
		name    string
		token   string
		domain  string
		wantErr bool
	}{
		{"valid", "tok", "school.instructure.com", false},
		{"trailing slash trimmed", "tok", "school.instructure.com/", false},
		{"empty token", "", "school.instructure.com", true},
		{"empty domain", "tok", "", true},
		{"domain with scheme", "tok", "https://school.instructure.com", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.token, tt.domain)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q, %q) error = %v, wantErr %v", tt.token, tt.domain, err, tt.wantErr)
			}
		})
	}
}

func TestRequestSendsBearerToken(t *testing.T) {
	var gotAuth, gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotPath = r.URL.Path
		_, _ = w.Write([]byte(`{"id": 42}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodGet, "/courses/42", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(data) != `{"id": 42}` {
		t.Errorf("body = %s", data)
	}
	if gotAuth != "Bearer test-token" {
		t.Errorf("Authorization = %q", gotAuth)
	}
	if gotPath != "/api/v1/courses/42" {
		t.Errorf("path = %q, want /api/v1/courses/42", gotPath)
	}
}

func TestRequestRetriesOnServerError(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ok": true}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(data) != `{"ok": true}` {
		t.Errorf("body = %s", data)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

func TestRequestRetriesOnRateLimit(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	if _, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if got := attempts.Load(); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
}

// Client errors are classified and returned on the first attempt.
func TestRequestDoesNotRetryClientErrors(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"errors":[{"message":"not found"}]}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Request(context.Background(), http.MethodGet, "/courses/999", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if apiErr.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want 404", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Message, "not found") {
		t.Errorf("Message = %q, want body excerpt", apiErr.Message)
	}
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestRequestMaxRetriesExceeded(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)

	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if got := attempts.Load(); got != int32(DefaultMaxRetries)+1 {
		t.Errorf("attempts = %d, want %d", got, DefaultMaxRetries+1)
	}
}

// A 2xx response whose body cannot be read or parsed is retried like a
// network failure.
func TestRequestRetriesUnusableBody(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch attempts.Add(1) {
		case 1:
			// Parses as neither an object nor a complete array.
			_, _ = w.Write([]byte(`[{"id":1}`))
		case 2:
			// Connection cut mid-body: the client's read fails.
			w.Header().Set("Content-Length", "50")
			_, _ = w.Write([]byte(`[{"id`))
		default:
			_, _ = w.Write([]byte(`[{"id":1}]`))
		}
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(data) != `[{"id":1}]` {
		t.Errorf("body = %s", data)
	}
	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
}

// Exhausted retries report the status of the last attempt, not zero.
func TestRequestMaxRetriesExceededKeepsLastStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	data, status, err := client.doWithRetry(context.Background(), http.MethodGet, client.baseURL+"/courses", nil)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if status != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", status)
	}
	if data != nil {
		t.Errorf("data = %s, want nil", data)
	}
}

func TestRequestBackoffGrows(t *testing.T) {
	const base = 25 * time.Millisecond

	var times []time.Time
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		times = append(times, time.Now())
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := newTestClient(t, srv, WithMaxRetries(2), WithRetryDelay(base))
	_, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)
	if !errors.Is(err, ErrMaxRetriesExceeded) {
		t.Fatalf("error = %v, want ErrMaxRetriesExceeded", err)
	}
	if len(times) != 3 {
		t.Fatalf("attempts = %d, want 3", len(times))
	}

	first := times[1].Sub(times[0])
	second := times[2].Sub(times[1])
	if first < base {
		t.Errorf("first backoff = %v, want >= %v", first, base)
	}
	if second < 2*base {
		t.Errorf("second backoff = %v, want >= %v", second, 2*base)
	}
	if second <= first {
		t.Errorf("backoff did not grow: first %v, second %v", first, second)
	}
}

func TestRequestNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodPut, "/modules/1/items/2/done", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if data != nil {
		t.Errorf("body = %s, want nil", data)
	}
}

func TestRequestFollowsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("page") {
		case "", "1":
			w.Header().Set("Link", `<https://school.test/api/v1/courses?page=2>; rel="next", <https://school.test/api/v1/courses?page=1>; rel="first"`)
			_, _ = w.Write([]byte(`[{"id":1},{"id":2}]`))
		case "2":
			w.Header().Set("Link", `<https://school.test/api/v1/courses?page=3>; rel="next"`)
			_, _ = w.Write([]byte(`[{"id":3},{"id":4}]`))
		case "3":
			_, _ = w.Write([]byte(`[{"id":5}]`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	var items []struct {
		ID int `json:"id"`
	}
	if err := json.Unmarshal(data, &items); err != nil {
		t.Fatalf("unmarshal combined pages: %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("items = %d, want 5", len(items))
	}
	for i, item := range items {
		if item.ID != i+1 {
			t.Errorf("items[%d].ID = %d, want %d", i, item.ID, i+1)
		}
	}
}

// A failure on a follow-up page is a hard error for the whole request,
// with no retry of the page.
func TestRequestPaginationPageFailure(t *testing.T) {
	var pageTwoHits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("page") == "2" {
			pageTwoHits.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Link", `<https://school.test/api/v1/courses?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`[{"id":1}]`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("error = %v, want *APIError with status 500", err)
	}
	if got := pageTwoHits.Load(); got != 1 {
		t.Errorf("page 2 hits = %d, want 1", got)
	}
}

func TestRequestSingleObjectSkipsPagination(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/courses/7", func(w http.ResponseWriter, r *http.Request) {
		// A Link header on an object response must be ignored.
		w.Header().Set("Link", `<https://school.test/api/v1/courses?page=2>; rel="next"`)
		_, _ = w.Write([]byte(`{"id":7}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := newTestClient(t, srv)
	data, err := client.Request(context.Background(), http.MethodGet, "/courses/7", nil, nil)
	if err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if string(data) != `{"id":7}` {
		t.Errorf("body = %s", data)
	}
}

func TestRequestErrorExcerptTruncated(t *testing.T) {
	longBody := strings.Repeat("x", 300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(longBody))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	_, err := client.Request(context.Background(), http.MethodGet, "/courses", nil, nil)

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("error = %v, want *APIError", err)
	}
	if !strings.HasSuffix(apiErr.Message, "...") {
		t.Errorf("Message = %q, want trailing ellipsis", apiErr.Message)
	}
	if len(apiErr.Message) != 203 {
		t.Errorf("Message length = %d, want 200 + ellipsis", len(apiErr.Message))
	}
}

func TestBuildURLParams(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	params := Params{
		"include":  []string{"term", "total_students"},
		"state":    []any{"available", "completed"},
		"per_page": 50,
		"skipped":  nil,
	}
	if _, err := client.Request(context.Background(), http.MethodGet, "/courses", params, nil); err != nil {
		t.Fatalf("Request() error = %v", err)
	}

	if got := gotQuery["include[]"]; len(got) != 2 || got[0] != "term" || got[1] != "total_students" {
		t.Errorf("include[] = %v", got)
	}
	if got := gotQuery["state[]"]; len(got) != 2 || got[0] != "available" {
		t.Errorf("state[] = %v", got)
	}
	if got := gotQuery.Get("per_page"); got != "50" {
		t.Errorf("per_page = %q", got)
	}
	if _, present := gotQuery["skipped"]; present {
		t.Error("nil param was sent")
	}
}

func TestRequestContextCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	// A long backoff base so cancellation races the retry timer.
	client := newTestClient(t, srv, WithRetryDelay(10*time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := client.Request(ctx, http.MethodGet, "/courses", nil, nil)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("error = %v, want context.DeadlineExceeded", err)
	}
}

func TestRequestPostBody(t *testing.T) {
	var gotBody string
	var gotContentType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotContentType = r.Header.Get("Content-Type")
		_, _ = w.Write([]byte(`{"id":1}`))
	}))
	defer srv.Close()

	client := newTestClient(t, srv)
	payload := map[string]any{"message": map[string]string{"body": "hello"}}
	if _, err := client.Request(context.Background(), http.MethodPost, "/discussion_topics/1/entries", nil, payload); err != nil {
		t.Fatalf("Request() error = %v", err)
	}
	if gotContentType != "application/json" {
		t.Errorf("Content-Type = %q", gotContentType)
	}
	if !strings.Contains(gotBody, `"body":"hello"`) {
		t.Errorf("body = %q", gotBody)
	}
}
