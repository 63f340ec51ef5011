package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/domain"
	"github.com/alanyoungcy/densitybot/internal/platform/bybit"
)

func testFeed(onBook BookHandler) *BybitFeed {
	return NewBybitFeed("ws://unused", 50, []string{"BTCUSDT"}, onBook,
		slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func msg(typ string, u int64, bids, asks [][]string) bybit.OrderBookMessage {
	return bybit.OrderBookMessage{
		Topic: "orderbook.50.BTCUSDT",
		Type:  typ,
		TS:    1700000000000,
		Data:  bybit.OrderBookData{Symbol: "BTCUSDT", Bids: bids, Asks: asks, UpdateID: u},
	}
}

func TestHandle_SnapshotThenDeltas(t *testing.T) {
	f := testFeed(nil)

	book, ok := f.handle(msg("snapshot", 10,
		[][]string{{"99", "2"}, {"100", "1"}},
		[][]string{{"102", "4"}, {"101", "3"}},
	))
	require.True(t, ok)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Volume: 1}, {Price: 99, Volume: 2}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 101, Volume: 3}, {Price: 102, Volume: 4}}, book.Asks)
	assert.Equal(t, time.UnixMilli(1700000000000), book.Timestamp)

	// Update 100, delete 99, add 98, delete an ask.
	book, ok = f.handle(msg("delta", 11,
		[][]string{{"100", "5"}, {"99", "0"}, {"98", "7"}},
		[][]string{{"101", "0"}},
	))
	require.True(t, ok)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Volume: 5}, {Price: 98, Volume: 7}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 102, Volume: 4}}, book.Asks)
}

func TestHandle_PriceKeysAreCanonical(t *testing.T) {
	f := testFeed(nil)
	_, _ = f.handle(msg("snapshot", 10, [][]string{{"100.50", "1"}}, nil))
	book, _ := f.handle(msg("delta", 11, [][]string{{"100.5", "0"}}, nil))
	assert.Empty(t, book.Bids)
}

func TestHandle_DropsMalformedLevelsOnly(t *testing.T) {
	f := testFeed(nil)
	book, ok := f.handle(msg("snapshot", 10,
		[][]string{{"100", "1"}, {"abc", "1"}, {"-5", "1"}, {"99"}, {"98", "-1"}, {"97", "x"}},
		[][]string{{"101", "1"}},
	))
	require.True(t, ok)
	assert.Equal(t, []domain.PriceLevel{{Price: 100, Volume: 1}}, book.Bids)
	assert.Len(t, book.Asks, 1)
}

func TestHandle_DeltaBeforeSnapshotDropped(t *testing.T) {
	f := testFeed(nil)
	_, ok := f.handle(msg("delta", 11, [][]string{{"100", "1"}}, nil))
	assert.False(t, ok)
}

func TestHandle_DeltaAfterReconnectWaitsForSnapshot(t *testing.T) {
	f := testFeed(nil)
	_, ok := f.handle(msg("snapshot", 10, [][]string{{"100", "1"}}, [][]string{{"101", "1"}}))
	require.True(t, ok)

	f.forgetBooks()
	_, ok = f.handle(msg("delta", 11, [][]string{{"99", "2"}}, nil))
	assert.False(t, ok, "a partial book must not reach the engine")

	book, ok := f.handle(msg("snapshot", 12, [][]string{{"98", "3"}}, [][]string{{"102", "1"}}))
	require.True(t, ok)
	assert.Equal(t, []domain.PriceLevel{{Price: 98, Volume: 3}}, book.Bids)
	assert.Equal(t, []domain.PriceLevel{{Price: 102, Volume: 1}}, book.Asks)
}

func TestHandle_UpdateIDOneResetsBook(t *testing.T) {
	f := testFeed(nil)
	_, _ = f.handle(msg("snapshot", 10, [][]string{{"100", "1"}}, nil))
	book, ok := f.handle(msg("delta", 1, [][]string{{"90", "1"}}, nil))
	require.True(t, ok)
	assert.Equal(t, []domain.PriceLevel{{Price: 90, Volume: 1}}, book.Bids)
}

func TestRun_DeliversBooks(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		var cmd bybit.WSCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"snapshot","ts":1700000000000,"data":{"s":"BTCUSDT","b":[["100","1"]],"a":[["101","1"]],"u":1}}`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"topic":"orderbook.50.BTCUSDT","type":"delta","ts":1700000000100,"data":{"s":"BTCUSDT","b":[["100","3"]],"a":[],"u":2}}`))
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	books := make(chan domain.OrderBook, 4)
	f := NewBybitFeed("ws"+strings.TrimPrefix(srv.URL, "http"), 50, []string{"BTCUSDT"},
		func(_ context.Context, b domain.OrderBook) { books <- b },
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- f.Run(ctx) }()

	recv := func() domain.OrderBook {
		select {
		case b := <-books:
			return b
		case <-ctx.Done():
			t.Fatal("no book delivered")
			return domain.OrderBook{}
		}
	}
	first := recv()
	require.Len(t, first.Bids, 1)
	assert.Equal(t, 1.0, first.Bids[0].Volume)
	second := recv()
	require.Len(t, second.Bids, 1)
	assert.Equal(t, 3.0, second.Bids[0].Volume)
	assert.Equal(t, 1.0, first.Bids[0].Volume, "delivered books are not mutated afterwards")

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestRun_NoSymbols(t *testing.T) {
	f := NewBybitFeed("ws://unused", 50, nil, nil, slog.New(slog.NewTextHandler(io.Discard, nil)))
	assert.NoError(t, f.Run(context.Background()))
}
