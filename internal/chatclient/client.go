// Package chatclient talks to the public chat endpoint the way the site's
// chat widget does: it keeps a local advisory count of messages and refuses
// locally once the window is used up, without a network call.
package chatclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-portfolio/internal/chathttp"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/llm"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-portfolio/internal/xerrors"
)

// ChatPath is the public chat endpoint relative to BaseURL.
const ChatPath = "/api/public/chat"

// maxErrorBody bounds how much of an unexpected response is read
const maxErrorBody = 4 << 10

// Reply is a successful answer.
type Reply struct {
	Text      string
	Remaining int
	ResetAt   time.Time
}

// LimitError is returned when no more messages may be sent in this window.
// Local is true when the advisory limiter refused before any request.
type LimitError struct {
	Message string
	ResetAt time.Time
	Local   bool
}

func (e *LimitError) Error() string { return e.Message }

// StatusError is any other non-200 answer from the server.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("chat: unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("chat: status %d: %s", e.StatusCode, e.Message)
}

// Client sends prompts to one server. It is safe for concurrent use, though
// history then interleaves.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Limiter *ratelimit.Advisory
	// MaxRequests is quoted in local refusals
	MaxRequests int

	mu      sync.Mutex
	history []llm.Message
}

// New returns a Client with a traced HTTP transport.
func New(baseURL string, limiter *ratelimit.Advisory) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
			// the server waits on the language model
			Timeout: 90 * time.Second,
		},
		Limiter:     limiter,
		MaxRequests: ratelimit.DefaultMaxRequests,
	}
}

// History returns a copy of the turns that will be replayed with the next prompt.
func (c *Client) History() []llm.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]llm.Message(nil), c.history...)
}

// Remaining reports the advisory count without contacting the server.
func (c *Client) Remaining() (int, time.Time) {
	if c.Limiter == nil {
		return c.MaxRequests, time.Time{}
	}
	return c.Limiter.Remaining()
}

// Send asks the server for a reply to prompt.
func (c *Client) Send(ctx context.Context, prompt string) (Reply, error) {
	if c.Limiter != nil {
		if d := c.Limiter.Check(); !d.Allowed {
			return Reply{}, &LimitError{
				Message: chathttp.LimitMessage(c.MaxRequests, d.ResetAt.Local()),
				ResetAt: d.ResetAt,
				Local:   true,
			}
		}
	}

	body, err := json.Marshal(chathttp.PublicRequest{Prompt: prompt, ChatHistory: c.History()})
	if err != nil {
		return Reply{}, xerrors.Wrap(err, "encode chat request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+ChatPath, bytes.NewReader(body))
	if err != nil {
		return Reply{}, xerrors.Wrap(err, "build chat request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	hc := c.HTTP
	if hc == nil {
		hc = http.DefaultClient
	}
	resp, err := hc.Do(req)
	if err != nil {
		return Reply{}, xerrors.Wrap(err, "send chat request")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		var out chathttp.ChatResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return Reply{}, xerrors.Wrap(err, "decode chat reply")
		}
		if c.Limiter != nil {
			c.Limiter.Increment()
		}
		c.remember(prompt, out.Reply)
		return Reply{Text: out.Reply, Remaining: out.Remaining, ResetAt: time.UnixMilli(out.ResetAt)}, nil

	case http.StatusTooManyRequests:
		var out chathttp.RateLimitedResponse
		if err := json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&out); err != nil {
			return Reply{}, &LimitError{Message: "Rate limit exceeded"}
		}
		return Reply{}, &LimitError{Message: out.Message, ResetAt: time.UnixMilli(out.ResetAt)}

	default:
		var out chathttp.ErrorResponse
		_ = json.NewDecoder(io.LimitReader(resp.Body, maxErrorBody)).Decode(&out)
		msg := out.Error
		if out.Message != "" {
			msg += ": " + out.Message
		}
		return Reply{}, &StatusError{StatusCode: resp.StatusCode, Message: msg}
	}
}

// remember appends the exchange, keeping what the server will replay
func (c *Client) remember(prompt, reply string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history,
		llm.Message{Role: llm.RoleUser, Text: prompt},
		llm.Message{Role: llm.RoleModel, Text: reply},
	)
	if n := len(c.history); n > llm.HistoryLimit {
		c.history = append([]llm.Message(nil), c.history[n-llm.HistoryLimit:]...)
	}
}
