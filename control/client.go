package control

import (
	"context"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/juju/errors"
)

// ErrClosed is returned for calls on a closed or disconnected client.
const ErrClosed = errors.ConstError("control connection closed")

const eventBuffer = 256

// Client is a requester connection to a Server.
type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	nextID  int64
	pending map[int64]chan Reply
	err     error

	events chan Event
	done   chan struct{}
}

// Dial connects to the server at url, e.g. "ws://127.0.0.1:7070/vmbackup".
func Dial(ctx context.Context, url, token string) (*Client, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, errors.Unauthorizedf("dialing %s", url)
		}
		return nil, errors.Annotatef(err, "dialing %s", url)
	}
	c := &Client{
		conn:    conn,
		pending: make(map[int64]chan Reply),
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Events returns the event stream. It is closed when the connection ends.
func (c *Client) Events() <-chan Event { return c.events }

// Call sends a command and waits for its reply.
func (c *Client) Call(ctx context.Context, command, args string) (Reply, error) {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Reply{}, err
	}
	c.nextID++
	id := c.nextID
	ch := make(chan Reply, 1)
	c.pending[id] = ch
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.writeMu.Lock()
	err := c.conn.WriteMessage(websocket.TextMessage, []byte(BuildRequestJSON(id, command, args)))
	c.writeMu.Unlock()
	if err != nil {
		return Reply{}, errors.Annotatef(err, "sending %s", command)
	}

	select {
	case reply := <-ch:
		return reply, nil
	case <-c.done:
		return Reply{}, c.closeErr()
	case <-ctx.Done():
		return Reply{}, ctx.Err()
	}
}

// Close closes the connection and waits for the reader to exit.
func (c *Client) Close() error {
	c.writeMu.Lock()
	_ = c.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.writeMu.Unlock()
	err := c.conn.Close()
	<-c.done
	return err
}

func (c *Client) closeErr() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) readLoop() {
	defer close(c.done)
	defer close(c.events)
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.mu.Lock()
			c.err = errors.Annotate(ErrClosed, err.Error())
			c.mu.Unlock()
			return
		}
		reply, event, err := ParseFrame(data)
		switch {
		case err != nil:
			log.Debug("bad server frame", "error", err)
		case event != nil:
			select {
			case c.events <- *event:
			default:
				log.Warn("event dropped, consumer too slow", "event", event.Name)
			}
		default:
			c.mu.Lock()
			ch := c.pending[reply.ID]
			c.mu.Unlock()
			if ch != nil {
				ch <- *reply
			}
		}
	}
}
