package signal

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"time"
)

// closeGrace is how long Close waits for signal-cli to exit after its
// stdin is closed before killing it.
const closeGrace = 5 * time.Second

// Client runs signal-cli as a JSON-RPC subprocess.
type Client struct {
	command string
	args    []string
	logger  *slog.Logger

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	conn    *conn
	waitErr chan error
}

// NewClient creates a client. args must end with signal-cli's
// jsonRpc subcommand. Call Start to launch the subprocess.
func NewClient(command string, args []string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		command: command,
		args:    args,
		logger:  logger,
		waitErr: make(chan error, 1),
	}
}

// Start launches signal-cli. Must be called exactly once.
func (c *Client) Start(ctx context.Context) error {
	c.logger.Info("starting signal-cli", "command", c.command, "args", c.args)

	if err := ctx.Err(); err != nil {
		return err
	}

	// Not tied to ctx: shutdown stops the process through Close so
	// signal-cli can flush its state.
	cmd := exec.Command(c.command, c.args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("create stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start signal-cli: %w", err)
	}

	c.cmd = cmd
	c.stdin = stdin
	c.conn = newConn(stdout, stdin, c.logger)

	go drainStderr(stderr, c.logger)
	go func() {
		err := cmd.Wait()
		if err != nil {
			c.logger.Error("signal-cli exited with error", "error", err)
		} else {
			c.logger.Info("signal-cli exited")
		}
		c.waitErr <- err
	}()

	c.logger.Info("signal-cli started", "pid", cmd.Process.Pid)
	return nil
}

// Messages returns inbound data-message envelopes. The channel closes
// when signal-cli exits.
func (c *Client) Messages() <-chan *Envelope {
	return c.conn.envelopes
}

// Send sends a text message, optionally quoting an earlier one, and
// returns the server timestamp of the sent message.
func (c *Client) Send(ctx context.Context, recipient, message string, quote *Quote) (int64, error) {
	params := map[string]any{
		"recipient": []string{recipient},
		"message":   message,
	}
	if quote != nil {
		params["quoteTimestamp"] = quote.Timestamp
		params["quoteAuthor"] = quote.Author
		params["quoteMessage"] = quote.Text
	}

	raw, err := c.conn.call(ctx, "send", params)
	if err != nil {
		return 0, fmt.Errorf("signal send: %w", err)
	}

	var result sendResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("unmarshal send result: %w", err)
	}
	return result.Timestamp, nil
}

// SendTyping starts or stops the typing indicator.
func (c *Client) SendTyping(ctx context.Context, recipient string, stop bool) error {
	params := map[string]any{"recipient": []string{recipient}}
	if stop {
		params["stop"] = true
	}
	if _, err := c.conn.call(ctx, "sendTyping", params); err != nil {
		return fmt.Errorf("signal sendTyping: %w", err)
	}
	return nil
}

// Ping asks signal-cli for its version.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.conn.call(ctx, "version", nil)
	return err
}

// Close stops signal-cli gracefully by closing its stdin, killing it
// if it does not exit within the grace period.
func (c *Client) Close() error {
	if c.cmd == nil || c.cmd.Process == nil {
		return nil
	}

	c.logger.Info("stopping signal-cli", "pid", c.cmd.Process.Pid)
	c.stdin.Close()

	select {
	case err := <-c.waitErr:
		return err
	case <-time.After(closeGrace):
		c.logger.Warn("signal-cli did not exit gracefully, killing", "pid", c.cmd.Process.Pid)
		_ = c.cmd.Process.Kill()
		<-c.waitErr
		return nil
	}
}

func drainStderr(r io.Reader, logger *slog.Logger) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 256*1024)
	for scanner.Scan() {
		logger.Debug("signal-cli stderr", "line", scanner.Text())
	}
}
