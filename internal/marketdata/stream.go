package marketdata

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/websocket"

	"autotrader/internal/modules/config"
	"autotrader/pkg/logger"
)

// Stream keeps a websocket subscription to per-symbol trade ticks and
// feeds the price cache. Loss of the stream degrades price freshness but
// never stops the engine; the REST provider remains the source of candles.
type Stream struct {
	url     string
	symbols []string
	cache   *PriceCache
}

func NewStream(cfg *config.Config, symbols []string, cache *PriceCache) *Stream {
	return &Stream{url: cfg.MarketData.WSURL, symbols: symbols, cache: cache}
}

type tickMsg struct {
	Type   string  `json:"T"`
	Symbol string  `json:"S"`
	Price  float64 `json:"p"`
	Time   string  `json:"t"`
}

// Run connects and reads until ctx is canceled, reconnecting with backoff
// on any failure.
func (s *Stream) Run(ctx context.Context) {
	if s.url == "" || len(s.symbols) == 0 {
		return
	}

	backoff := time.Second
	for {
		if ctx.Err() != nil {
			return
		}
		if err := s.readLoop(ctx); err != nil && ctx.Err() == nil {
			logger.Error("price stream dropped: %v", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

func (s *Stream) readLoop(ctx context.Context) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.url, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	// watcher is tied to this connection, not to the whole run: it must exit
	// when the read loop does or every reconnect would leak one goroutine
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	sub := map[string]interface{}{
		"action": "subscribe",
		"trades": s.symbols,
	}
	raw, err := sonic.Marshal(sub)
	if err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return err
	}

	logger.Info("price stream connected: %d symbols", len(s.symbols))

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		var ticks []tickMsg
		if err := sonic.Unmarshal(msg, &ticks); err != nil {
			continue
		}
		for _, t := range ticks {
			if t.Type != "t" || t.Symbol == "" {
				continue
			}
			at, perr := time.Parse(time.RFC3339Nano, t.Time)
			if perr != nil {
				at = time.Now().UTC()
			}
			s.cache.Set(t.Symbol, t.Price, at)
		}
	}
}
