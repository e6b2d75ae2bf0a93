package ingress

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultSeismicPortalURL is the EMSC real-time event feed.
const DefaultSeismicPortalURL = "wss://www.seismicportal.eu/standing_order/websocket"

const (
	reconnectDelay = 5 * time.Second
	pingInterval   = 15 * time.Second
	readTimeout    = 60 * time.Second
)

// envelope is the feed's outer message: an action plus a GeoJSON-ish
// feature whose properties carry the alert fields.
type envelope struct {
	Action string `json:"action"`
	Data   struct {
		Properties json.RawMessage `json:"properties"`
	} `json:"data"`
}

// Listener maintains a websocket subscription to the alert feed and feeds
// decoded alerts into the handler.
type Listener struct {
	url     string
	handler *Handler
	log     *zap.Logger
	dial    func(ctx context.Context, url string) (*websocket.Conn, error)
}

// NewListener builds a feed listener. An empty url selects the default
// SeismicPortal endpoint.
func NewListener(url string, handler *Handler, log *zap.Logger) *Listener {
	if url == "" {
		url = DefaultSeismicPortalURL
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		url:     url,
		handler: handler,
		log:     log,
		dial: func(ctx context.Context, url string) (*websocket.Conn, error) {
			conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			return conn, err
		},
	}
}

// Run connects and consumes until the context is cancelled. Connection
// loss triggers a reconnect after a fixed delay; individual bad messages
// are logged and skipped.
func (l *Listener) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		conn, err := l.dial(ctx, l.url)
		if err != nil {
			l.log.Warn("feed connect failed, retrying",
				zap.String("url", l.url),
				zap.Duration("delay", reconnectDelay),
				zap.Error(err))
			if !sleepCtx(ctx, reconnectDelay) {
				return ctx.Err()
			}
			continue
		}

		l.log.Info("connected to alert feed", zap.String("url", l.url))
		err = l.consume(ctx, conn)
		conn.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("feed connection lost, reconnecting",
			zap.Duration("delay", reconnectDelay),
			zap.Error(err))
		if !sleepCtx(ctx, reconnectDelay) {
			return ctx.Err()
		}
	}
}

func (l *Listener) consume(ctx context.Context, conn *websocket.Conn) error {
	// Keepalive pings; the read deadline is refreshed on every pong and
	// every data frame.
	conn.SetReadDeadline(time.Now().Add(readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(readTimeout))
	})

	pingCtx, cancelPing := context.WithCancel(ctx)
	defer cancelPing()
	go func() {
		ticker := time.NewTicker(pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil,
					time.Now().Add(5*time.Second)); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))
		l.dispatch(ctx, message)
	}
}

func (l *Listener) dispatch(ctx context.Context, message []byte) {
	var env envelope
	if err := json.Unmarshal(message, &env); err != nil {
		l.log.Warn("undecodable feed message", zap.Error(err))
		return
	}
	if len(env.Data.Properties) == 0 {
		l.log.Debug("feed message without properties, skipping")
		return
	}
	alert, err := ParseAlert(env.Data.Properties, env.Action)
	if err != nil {
		l.log.Warn("unparseable alert", zap.Error(err))
		return
	}
	if err := l.handler.Handle(ctx, alert); err != nil {
		l.log.Error("alert handling failed",
			zap.String("event_id", alert.EventID),
			zap.Error(err))
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
