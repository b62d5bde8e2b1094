package chatclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/chathttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
)

var testNow = time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

func newAdvisory(max int) (*ratelimit.Advisory, *ratelimit.MemoryKV) {
	kv := ratelimit.NewMemoryKV()
	a := ratelimit.NewAdvisory(kv, ratelimit.AdvisoryOptions{
		Max:    max,
		Window: time.Hour,
		Now:    func() time.Time { return testNow },
	})
	return a, kv
}

// echoServer answers every prompt with "echo: <prompt>" and records the bodies
func echoServer(t *testing.T) (*httptest.Server, *[]chathttp.PublicRequest, *atomic.Int32) {
	t.Helper()
	var bodies []chathttp.PublicRequest
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if r.URL.Path != ChatPath || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		var req chathttp.PublicRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode: %v", err)
		}
		bodies = append(bodies, req)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chathttp.ChatResponse{
			Reply:     "echo: " + req.Prompt,
			Remaining: 9,
			ResetAt:   testNow.Add(time.Hour).UnixMilli(),
		})
	}))
	t.Cleanup(srv.Close)
	return srv, &bodies, &calls
}

func TestSend_Success(t *testing.T) {
	srv, bodies, _ := echoServer(t)
	lim, _ := newAdvisory(10)
	c := New(srv.URL+"/", lim)

	reply, err := c.Send(t.Context(), "hello")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if reply.Text != "echo: hello" {
		t.Fatalf("text = %q", reply.Text)
	}
	if reply.Remaining != 9 {
		t.Fatalf("remaining = %d", reply.Remaining)
	}
	if !reply.ResetAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("resetAt = %v", reply.ResetAt)
	}
	if len(*bodies) != 1 || len((*bodies)[0].ChatHistory) != 0 {
		t.Fatalf("first request should carry no history: %+v", *bodies)
	}

	if left, _ := c.Remaining(); left != 9 {
		t.Fatalf("advisory remaining = %d, want 9", left)
	}
}

func TestSend_ReplaysHistory(t *testing.T) {
	srv, bodies, _ := echoServer(t)
	lim, _ := newAdvisory(100)
	c := New(srv.URL, lim)

	for i := range 7 {
		if _, err := c.Send(t.Context(), fmt.Sprintf("q%d", i)); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
	}

	last := (*bodies)[len(*bodies)-1]
	if len(last.ChatHistory) != llm.HistoryLimit {
		t.Fatalf("replayed %d turns, want %d", len(last.ChatHistory), llm.HistoryLimit)
	}
	// six exchanges happened before the last prompt; the oldest is dropped
	if got := last.ChatHistory[0]; got.Role != llm.RoleUser || got.Text != "q1" {
		t.Fatalf("oldest replayed turn = %+v, want user q1", got)
	}
	if got := last.ChatHistory[len(last.ChatHistory)-1]; got.Role != llm.RoleModel || got.Text != "echo: q5" {
		t.Fatalf("newest replayed turn = %+v", got)
	}
	if h := c.History(); len(h) != llm.HistoryLimit || h[len(h)-1].Text != "echo: q6" {
		t.Fatalf("history after send = %+v", h)
	}
}

func TestSend_LocalLimitSkipsNetwork(t *testing.T) {
	srv, _, calls := echoServer(t)
	lim, _ := newAdvisory(2)
	c := New(srv.URL, lim)
	c.MaxRequests = 2

	for range 2 {
		if _, err := c.Send(t.Context(), "hi"); err != nil {
			t.Fatalf("Send: %v", err)
		}
	}
	_, err := c.Send(t.Context(), "one more")

	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LimitError", err)
	}
	if !le.Local {
		t.Fatal("expected a local refusal")
	}
	if !strings.Contains(le.Message, "daily message limit (2 messages)") {
		t.Fatalf("message = %q", le.Message)
	}
	if !le.ResetAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("resetAt = %v", le.ResetAt)
	}
	if n := calls.Load(); n != 2 {
		t.Fatalf("server calls = %d, want 2", n)
	}
}

func TestSend_ServerRateLimited(t *testing.T) {
	reset := testNow.Add(30 * time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(chathttp.RateLimitedResponse{
			Error:   "Rate limit exceeded",
			Message: "limit reached",
			ResetAt: reset.UnixMilli(),
		})
	}))
	defer srv.Close()

	lim, _ := newAdvisory(10)
	c := New(srv.URL, lim)

	_, err := c.Send(t.Context(), "hi")
	var le *LimitError
	if !errors.As(err, &le) {
		t.Fatalf("err = %v, want *LimitError", err)
	}
	if le.Local {
		t.Fatal("server refusal reported as local")
	}
	if le.Message != "limit reached" || !le.ResetAt.Equal(reset) {
		t.Fatalf("limit error = %+v", le)
	}
	// a rejected request is not counted locally
	if left, _ := c.Remaining(); left != 10 {
		t.Fatalf("advisory remaining = %d, want 10", left)
	}
	if len(c.History()) != 0 {
		t.Fatal("history recorded for a refused prompt")
	}
}

func TestSend_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to generate response","message":"try later"}`))
	}))
	defer srv.Close()

	lim, _ := newAdvisory(10)
	c := New(srv.URL, lim)

	_, err := c.Send(t.Context(), "hi")
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d", se.StatusCode)
	}
	if !strings.Contains(se.Error(), "Failed to generate response: try later") {
		t.Fatalf("error text = %q", se.Error())
	}
	if left, _ := c.Remaining(); left != 10 {
		t.Fatalf("advisory remaining = %d, want 10", left)
	}
}

func TestSend_NoLimiter(t *testing.T) {
	srv, _, _ := echoServer(t)
	c := New(srv.URL, nil)

	if _, err := c.Send(t.Context(), "hi"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if left, reset := c.Remaining(); left != ratelimit.DefaultMaxRequests || !reset.IsZero() {
		t.Fatalf("Remaining = %d, %v", left, reset)
	}
}

func TestSend_ConnectionError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	lim, _ := newAdvisory(10)
	c := New(url, lim)
	if _, err := c.Send(t.Context(), "hi"); err == nil {
		t.Fatal("expected error from closed server")
	}
	if left, _ := c.Remaining(); left != 10 {
		t.Fatalf("advisory remaining = %d, want 10", left)
	}
}

func TestStatusError_NoMessage(t *testing.T) {
	err := &StatusError{StatusCode: 502}
	if err.Error() != "chat: unexpected status 502" {
		t.Fatalf("got %q", err.Error())
	}
}
