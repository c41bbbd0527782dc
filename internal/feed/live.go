package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/probedge/probedge/internal/clock"
	"github.com/probedge/probedge/internal/config"
	"github.com/probedge/probedge/internal/metrics"
	"github.com/probedge/probedge/internal/models"
)

// wireTick is the broker push-feed message shape.
type wireTick struct {
	Symbol string  `json:"symbol"`
	LTP    float64 `json:"ltp"`
	Volume int64   `json:"volume"`
	TS     int64   `json:"ts"` // unix seconds
}

// Live subscribes to the broker websocket feed. Quotes flow through a
// bounded queue with drop-oldest overflow; a circuit breaker around the
// connect+session loop keeps a flapping feed from being hammered.
type Live struct {
	cfg     config.FeedConfig
	symbols []string
	logger  *logrus.Logger
	breaker *gobreaker.CircuitBreaker

	queue  chan models.Tick
	ctx    context.Context
	cancel context.CancelFunc
}

// NewLive starts the background session loop and returns the source.
func NewLive(cfg config.FeedConfig, symbols []string, logger *logrus.Logger) *Live {
	ctx, cancel := context.WithCancel(context.Background())
	l := &Live{
		cfg:     cfg,
		symbols: symbols,
		logger:  logger,
		queue:   make(chan models.Tick, cfg.Queue),
		ctx:     ctx,
		cancel:  cancel,
	}
	l.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "feed-session",
		Timeout: cfg.ReconnectMax(),
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.WithFields(logrus.Fields{"from": from.String(), "to": to.String()}).
				Warn("Feed breaker state change")
		},
	})
	go l.run()
	return l
}

// Next implements Source.
func (l *Live) Next(ctx context.Context) (models.Tick, error) {
	select {
	case t, ok := <-l.queue:
		if !ok {
			return models.Tick{}, ErrEndOfStream
		}
		return t, nil
	case <-ctx.Done():
		return models.Tick{}, ctx.Err()
	case <-l.ctx.Done():
		return models.Tick{}, ErrEndOfStream
	}
}

// Close stops the session loop and drains the stream.
func (l *Live) Close() error {
	l.cancel()
	return nil
}

// run reconnects forever with exponential backoff between sessions.
func (l *Live) run() {
	defer close(l.queue)
	backoff := l.cfg.ReconnectMin()
	for {
		if l.ctx.Err() != nil {
			return
		}
		_, err := l.breaker.Execute(func() (interface{}, error) {
			return nil, l.session()
		})
		if err == nil || l.ctx.Err() != nil {
			return
		}
		metrics.FeedReconnects.Inc()
		l.logger.WithError(err).WithField("retry_in", backoff).Warn("Feed session ended")
		select {
		case <-time.After(backoff):
		case <-l.ctx.Done():
			return
		}
		backoff *= 2
		if backoff > l.cfg.ReconnectMax() {
			backoff = l.cfg.ReconnectMax()
		}
	}
}

// session dials, subscribes, and pumps ticks until the connection breaks.
func (l *Live) session() error {
	header := http.Header{}
	if l.cfg.APIKey != "" {
		header.Set("Authorization", "Bearer "+l.cfg.APIKey)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(l.ctx, l.cfg.WSURL, header)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", l.cfg.WSURL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	defer conn.Close()

	sub := map[string]interface{}{"action": "subscribe", "symbols": l.symbols}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("subscribing: %w", err)
	}
	l.logger.WithField("symbols", len(l.symbols)).Info("Feed subscribed")

	for {
		if l.ctx.Err() != nil {
			return nil
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("reading feed: %w", err)
		}
		var wt wireTick
		if err := json.Unmarshal(data, &wt); err != nil {
			l.logger.WithError(err).Debug("Skipping malformed feed message")
			continue
		}
		if wt.Symbol == "" || wt.LTP <= 0 {
			continue
		}
		l.push(models.Tick{
			Symbol: wt.Symbol,
			TS:     time.Unix(wt.TS, 0).In(clock.IST()),
			LTP:    wt.LTP,
			Volume: wt.Volume,
		})
	}
}

// push enqueues a tick, dropping the oldest quote when the queue is full.
// Bars are rebuilt from retained ticks downstream, so quote loss under
// pressure is acceptable; stalling the reader is not.
func (l *Live) push(t models.Tick) {
	for {
		select {
		case l.queue <- t:
			return
		default:
			select {
			case <-l.queue:
			default:
			}
		}
	}
}
