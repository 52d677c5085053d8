package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrClosed is returned by calls made after signal-cli stopped
// answering.
var ErrClosed = errors.New("signal-cli connection closed")

// RPCError is a JSON-RPC 2.0 error object returned by signal-cli.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("signal-cli rpc error %d: %s", e.Code, e.Message)
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// rpcLine is any line signal-cli writes: a response carries an id, a
// notification carries a method.
type rpcLine struct {
	ID     *int64          `json:"id,omitempty"`
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
	Result json.RawMessage `json:"result,omitempty"`
	Error  *RPCError       `json:"error,omitempty"`
}

type rpcResult struct {
	result json.RawMessage
	err    error
}

// conn multiplexes JSON-RPC requests and notifications over one
// newline-delimited JSON stream.
type conn struct {
	w      io.Writer
	r      *bufio.Reader
	logger *slog.Logger

	nextID  atomic.Int64
	mu      sync.Mutex // guards pending and writes to w
	pending map[int64]chan rpcResult

	envelopes chan *Envelope
	done      chan struct{}
}

func newConn(r io.Reader, w io.Writer, logger *slog.Logger) *conn {
	c := &conn{
		w:         w,
		r:         bufio.NewReaderSize(r, 1<<20),
		logger:    logger,
		pending:   make(map[int64]chan rpcResult),
		envelopes: make(chan *Envelope, 64),
		done:      make(chan struct{}),
	}
	go c.readLoop()
	return c
}

// call sends one request and waits for its response.
func (c *conn) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	id := c.nextID.Add(1)
	data, err := json.Marshal(rpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	ch := make(chan rpcResult, 1)
	c.mu.Lock()
	select {
	case <-c.done:
		c.mu.Unlock()
		return nil, ErrClosed
	default:
	}
	c.pending[id] = ch
	_, err = c.w.Write(append(data, '\n'))
	if err != nil {
		delete(c.pending, id)
	}
	c.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("write to signal-cli: %w", err)
	}

	select {
	case res := <-ch:
		return res.result, res.err
	case <-ctx.Done():
		c.forget(id)
		return nil, ctx.Err()
	}
}

func (c *conn) forget(id int64) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *conn) readLoop() {
	defer close(c.envelopes)
	defer c.failPending()

	for {
		line, err := c.r.ReadBytes('\n')
		if len(line) > 0 {
			c.dispatch(line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) {
				c.logger.Error("signal-cli read error", "error", err)
			}
			return
		}
	}
}

// failPending marks the conn done and releases every waiting call.
func (c *conn) failPending() {
	c.mu.Lock()
	defer c.mu.Unlock()
	close(c.done)
	for id, ch := range c.pending {
		ch <- rpcResult{err: ErrClosed}
		delete(c.pending, id)
	}
}

func (c *conn) dispatch(line []byte) {
	var msg rpcLine
	if err := json.Unmarshal(line, &msg); err != nil {
		c.logger.Debug("signal-cli non-JSON line", "line", string(line))
		return
	}

	if msg.ID != nil {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		delete(c.pending, *msg.ID)
		c.mu.Unlock()
		if !ok {
			c.logger.Debug("signal-cli response for unknown id", "id", *msg.ID)
			return
		}
		res := rpcResult{result: msg.Result}
		if msg.Error != nil {
			res.err = msg.Error
		}
		ch <- res
		return
	}

	if msg.Method != "receive" {
		c.logger.Debug("signal-cli notification ignored", "method", msg.Method)
		return
	}

	var notif receiveNotification
	if err := json.Unmarshal(msg.Params, &notif); err != nil {
		c.logger.Warn("signal-cli malformed receive notification", "error", err)
		return
	}
	// Typing indicators and receipts are not actionable.
	if notif.Envelope.DataMessage == nil {
		return
	}

	select {
	case c.envelopes <- &notif.Envelope:
	default:
		c.logger.Warn("signal inbound queue full, dropping message", "sender", notif.Envelope.Sender())
	}
}
