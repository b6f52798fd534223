package gpsd

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

const DefaultAddr = "127.0.0.1:2947"

// Config controls the gpsd client.
type Config struct {
	// Addr is host:port of the gpsd daemon. Defaults to 127.0.0.1:2947.
	Addr string
}

// Handler receives every decoded report in receipt order. It must not
// block; the read loop applies reports one at a time.
type Handler func(Report)

// Client maintains a watch session against gpsd, decoding the JSON report
// stream and delivering per-device reports to a handler. Connection loss is
// recovered with capped exponential backoff; the registry upstream keeps
// aging normally while the daemon is away.
type Client struct {
	cfg     Config
	handler Handler

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closer io.Closer

	errMu   sync.Mutex
	lastErr string
}

func NewClient(cfg Config, handler Handler) *Client {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = DefaultAddr
	}
	return &Client{cfg: cfg, handler: handler}
}

func dial(ctx context.Context, addr string) (net.Conn, error) {
	d := &net.Dialer{Timeout: 2 * time.Second}
	return d.DialContext(ctx, "tcp", addr)
}

func watch(conn net.Conn) error {
	// scaled=true yields SI units (m/s, meters) and degrees.
	_, err := conn.Write([]byte("?WATCH={\"enable\":true,\"json\":true,\"scaled\":true}\n"))
	return err
}

func (c *Client) Start(ctx context.Context) error {
	if c == nil {
		return fmt.Errorf("gpsd client is nil")
	}
	if ctx == nil {
		return fmt.Errorf("ctx is nil")
	}
	if c.handler == nil {
		return fmt.Errorf("handler is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return nil
	}

	childCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run(childCtx)
	}()

	return nil
}

func (c *Client) run(ctx context.Context) {
	log.Printf("gpsd client starting addr=%s", c.cfg.Addr)

	dec := newDecoder()
	backoff := 250 * time.Millisecond
	const maxBackoff = 10 * time.Second
	connErrors := 0

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := dial(ctx, c.cfg.Addr)
		if err != nil {
			connErrors++
			c.setError(fmt.Sprintf("gpsd dial failed addr=%s: %v", c.cfg.Addr, err))
			if connErrors >= 3 {
				log.Printf("gpsd unreachable addr=%s errors=%d", c.cfg.Addr, connErrors)
			}
			t := backoff
			if t > maxBackoff {
				t = maxBackoff
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(t):
			}
			if backoff < maxBackoff {
				backoff *= 2
			}
			continue
		}

		// Reset backoff after a successful connection.
		backoff = 250 * time.Millisecond
		connErrors = 0

		c.mu.Lock()
		// Swap the closer so Close() can interrupt an active connection.
		c.closer = conn
		c.mu.Unlock()

		c.serve(ctx, conn, dec)
		// Loop and reconnect.
	}
}

func (c *Client) serve(ctx context.Context, conn net.Conn, dec *decoder) {
	defer func() { _ = conn.Close() }()

	if err := watch(conn); err != nil {
		c.setError(fmt.Sprintf("gpsd watch failed: %v", err))
		return
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 4096), 256*1024)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if !scanner.Scan() {
			err := scanner.Err()
			if err == nil {
				err = io.EOF
			}
			c.setError(fmt.Sprintf("gpsd read stopped: %v", err))
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		rep, perr := dec.applyLine(time.Now().UTC(), line)
		if perr != nil {
			// A malformed record is dropped; the stream continues.
			c.setError(perr.Error())
			continue
		}
		if rep != nil {
			c.handler(*rep)
		}
	}
}

func (c *Client) Close() {
	if c == nil {
		return
	}
	c.mu.Lock()
	cancel := c.cancel
	closer := c.closer
	c.cancel = nil
	c.closer = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if closer != nil {
		_ = closer.Close()
	}
	c.wg.Wait()
}

// LastError reports the most recent transport or decode error, for the
// status surface.
func (c *Client) LastError() string {
	if c == nil {
		return ""
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.lastErr
}

func (c *Client) setError(msg string) {
	c.errMu.Lock()
	c.lastErr = msg
	c.errMu.Unlock()
}
