package exchange

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"oracle-go/internal/metrics"
	"oracle-go/internal/signal"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
	maxMessageSize   = 1 << 20
)

// runStream keeps a websocket session open, reconnecting with capped
// exponential backoff and jitter. The delay resets after every successful open.
func (f *Feed) runStream(ctx context.Context, out chan<- signal.Tick) error {
	b := &backoff.Backoff{
		Min:    f.reconnectMin,
		Max:    f.reconnectMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.setState(StateConnecting)
		err := f.consume(ctx, out, b)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		f.setState(StateDisconnected)
		metrics.ReconnectsTotal.WithLabelValues(f.provider).Inc()
		wait := b.Duration()
		f.log.Warn().Err(err).Str("provider", f.provider).Dur("retry_in", wait).Msg("feed disconnected, retrying")
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (f *Feed) consume(ctx context.Context, out chan<- signal.Tick, b *backoff.Backoff) error {
	symbols := f.snapshotSymbols()
	if len(symbols) == 0 {
		return errors.New("feed requires at least one symbol")
	}

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", f.url, err)
	}
	defer conn.Close()

	// unblock ReadMessage on shutdown
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub, err := f.codec.SubscribeMessage(symbols)
	if err != nil {
		return fmt.Errorf("build subscribe: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	f.setState(StateConnected)
	b.Reset()
	f.log.Info().Str("provider", f.provider).Strs("symbols", symbols).Msg("connected market data feed")

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(f.readTimeout))
	})

	pingCtx, pingCancel := context.WithCancel(ctx)
	defer pingCancel()
	go f.keepalive(pingCtx, conn)

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(f.readTimeout))

		ticks, err := f.codec.Decode(message)
		if err != nil {
			metrics.DroppedMessagesTotal.WithLabelValues(f.provider).Inc()
			f.log.Debug().Err(err).Str("provider", f.provider).Msg("dropped stream message")
			continue
		}
		for _, tick := range ticks {
			if err := f.emit(ctx, out, tick); err != nil {
				return err
			}
		}
	}
}

func (f *Feed) keepalive(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(f.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(writeTimeout)
			if err := conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				f.log.Debug().Err(err).Str("provider", f.provider).Msg("ping failed")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
