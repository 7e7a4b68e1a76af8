package api

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"

	"github.com/xraph/conductor"
	"github.com/xraph/conductor/stream"
)

var connSeq atomic.Int64

// events upgrades to a websocket and forwards broker events as JSON text
// frames. ?topic= may repeat; the default is the firehose. The stream ends
// when the client disconnects or the engine shuts down.
func (a *API) events(w http.ResponseWriter, r *http.Request) {
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{stream.TopicFirehose}
	}
	for _, t := range topics {
		if err := stream.ValidateTopic(t); err != nil {
			a.writeError(w, r, conductor.Invalid("topic", err.Error()))
			return
		}
	}

	conn, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		a.logger.Debug("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer conn.Close()

	connID := fmt.Sprintf("ws-%d", connSeq.Add(1))
	sub := a.eng.Broker().Subscribe(connID, topics...)
	defer a.eng.Broker().RemoveSubscriber(connID)

	a.logger.Debug("event stream connected",
		slog.String("conn_id", connID),
		slog.Any("topics", topics),
	)

	// Reads only detect the client going away; inbound data is ignored.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := wsutil.ReadClientData(conn); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				body := ws.NewCloseFrameBody(ws.StatusGoingAway, "shutting down")
				_ = wsutil.WriteServerMessage(conn, ws.OpClose, body) //nolint:errcheck // best effort
				return
			}
			data, err := json.Marshal(evt)
			if err != nil {
				a.logger.Warn("marshal stream event", slog.String("error", err.Error()))
				continue
			}
			if err := wsutil.WriteServerText(conn, data); err != nil {
				return
			}
		case <-gone:
			a.logger.Debug("event stream disconnected", slog.String("conn_id", connID))
			return
		}
	}
}
