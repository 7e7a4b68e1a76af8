package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conductor/stream"
)

// Watcher receives lifecycle events from the server's /events stream.
type Watcher struct {
	conn   net.Conn
	events chan *stream.Event
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger
}

// Watch opens a websocket to /events subscribed to topics.
//
// Topics follow the stream convention:
//   - "job:<jobID>"       events for one job
//   - "priority:<lane>"   job events for one priority lane
//   - "jobs"              all job lifecycle events
//   - "deliveries"        webhook delivery outcomes
//   - "firehose"          everything (the default)
//
// The Events channel is closed when the server ends the stream or Close
// is called.
func (c *Client) Watch(ctx context.Context, topics ...string) (*Watcher, error) {
	u, err := url.Parse(c.baseURL + "/events")
	if err != nil {
		return nil, fmt.Errorf("conductor/client: watch: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	q := u.Query()
	for _, t := range topics {
		q.Add("topic", t)
	}
	u.RawQuery = q.Encode()

	dialer := ws.Dialer{}
	if len(c.header) > 0 {
		dialer.Header = ws.HandshakeHeaderHTTP(c.header.Clone())
	}

	conn, _, _, err := dialer.Dial(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("conductor/client: watch %s: %w", strings.Join(topics, ","), err)
	}

	w := &Watcher{
		conn:   conn,
		events: make(chan *stream.Event, 64),
		done:   make(chan struct{}),
		logger: c.logger,
	}
	go w.readLoop()
	return w, nil
}

// Events returns the event channel.
func (w *Watcher) Events() <-chan *stream.Event { return w.events }

// Close ends the stream.
func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.done)
		err = w.conn.Close()
	})
	return err
}

func (w *Watcher) readLoop() {
	defer close(w.events)

	for {
		data, op, err := wsutil.ReadServerData(w.conn)
		if err != nil {
			select {
			case <-w.done:
			default:
				w.logger.Debug("event stream closed", slog.String("error", err.Error()))
			}
			return
		}
		if op != ws.OpText {
			continue
		}

		var evt stream.Event
		if err := json.Unmarshal(data, &evt); err != nil {
			w.logger.Warn("invalid stream event", slog.String("error", err.Error()))
			continue
		}

		select {
		case w.events <- &evt:
		case <-w.done:
			return
		}
	}
}
