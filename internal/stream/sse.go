// Package stream implements the client side of a Server-Sent-Events
// connection: one long-lived HTTP GET whose body is parsed into named
// events delivered on a channel.
package stream

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
)

// Message is one parsed SSE frame. Exactly one of the three shapes is
// populated: an event (Event/ID/Data), a transport error (Err), or a
// clean end of stream (EOF).
type Message struct {
	Event string
	ID    string
	Data  []byte
	Err   error
	EOF   bool
}

// Connection is one live event-stream connection. It owns a single
// reader goroutine; Close is idempotent and stops delivery immediately.
type Connection struct {
	messages chan Message
	ctx      context.Context
	cancel   context.CancelFunc
	once     sync.Once
	closed   atomic.Bool
}

// Dial opens an SSE connection to url. The returned Connection delivers
// frames on Messages until the server closes the stream, a transport
// error occurs, or Close is called. A non-empty token is sent as a
// Bearer credential.
func Dial(ctx context.Context, url, token string) (*Connection, error) {
	ctx, cancel := context.WithCancel(ctx)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("create stream request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	// No client timeout: the stream stays open for the session's lifetime.
	client := &http.Client{}
	resp, err := client.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("connect stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("stream request failed: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	c := &Connection{
		messages: make(chan Message, 32),
		ctx:      ctx,
		cancel:   cancel,
	}
	go c.read(resp.Body)
	return c, nil
}

// Messages returns the frame channel. It is closed after the final
// Err or EOF message.
func (c *Connection) Messages() <-chan Message {
	return c.messages
}

// Close tears the connection down. Safe to call more than once and
// from any goroutine.
func (c *Connection) Close() {
	c.once.Do(func() {
		c.closed.Store(true)
		c.cancel()
	})
}

func (c *Connection) send(msg Message) bool {
	select {
	case c.messages <- msg:
		return true
	case <-c.ctx.Done():
		return false
	}
}

func (c *Connection) read(body io.ReadCloser) {
	defer close(c.messages)
	defer body.Close()
	defer c.cancel()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 2*1024*1024)

	var eventName, eventID string
	var dataLines []string

	flush := func() bool {
		if len(dataLines) == 0 {
			eventName, eventID = "", ""
			return true
		}
		if eventName == "" {
			eventName = "message"
		}
		ok := c.send(Message{
			Event: eventName,
			ID:    eventID,
			Data:  []byte(strings.Join(dataLines, "\n")),
		})
		eventName, eventID = "", ""
		dataLines = nil
		return ok
	}

	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if !flush() {
				return
			}
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "event:") {
			eventName = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			continue
		}
		if strings.HasPrefix(line, "id:") {
			eventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			continue
		}
		if strings.HasPrefix(line, "data:") {
			part := strings.TrimPrefix(line, "data:")
			part = strings.TrimPrefix(part, " ")
			dataLines = append(dataLines, part)
		}
	}
	if !flush() {
		return
	}

	if err := scanner.Err(); err != nil {
		if c.closed.Load() {
			c.send(Message{EOF: true})
			return
		}
		c.send(Message{Err: fmt.Errorf("read stream: %w", err)})
		return
	}
	c.send(Message{EOF: true})
}
