package bybit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// apiResponse is the envelope every v5 REST endpoint returns.
type apiResponse struct {
	RetCode int             `json:"retCode"`
	RetMsg  string          `json:"retMsg"`
	Result  json.RawMessage `json:"result"`
	Time    int64           `json:"time"`
}

type walletBalanceResult struct {
	List []struct {
		AccountType string `json:"accountType"`
		Coin        []struct {
			Coin          string `json:"coin"`
			WalletBalance string `json:"walletBalance"`
			Equity        string `json:"equity"`
		} `json:"coin"`
	} `json:"list"`
}

// APIPosition is one row of /v5/position/list.
type APIPosition struct {
	Symbol   string `json:"symbol"`
	Side     string `json:"side"` // "Buy", "Sell", or "" when flat
	Size     string `json:"size"`
	AvgPrice string `json:"avgPrice"`
	StopLoss string `json:"stopLoss"`
}

type positionListResult struct {
	List           []APIPosition `json:"list"`
	NextPageCursor string        `json:"nextPageCursor"`
}

// ToDomain converts the row, reporting false for flat or unparseable rows.
func (p APIPosition) ToDomain() (domain.ExchangePosition, bool) {
	size, err := decimal.NewFromString(p.Size)
	if err != nil || !size.IsPositive() {
		return domain.ExchangePosition{}, false
	}
	out := domain.ExchangePosition{
		Symbol: p.Symbol,
		Side:   domain.OrderSide(p.Side),
		Size:   size.InexactFloat64(),
	}
	if avg, err := decimal.NewFromString(p.AvgPrice); err == nil {
		out.AvgPrice = avg.InexactFloat64()
	}
	return out, true
}

// WSCommand is an outgoing websocket operation.
type WSCommand struct {
	ReqID string   `json:"req_id,omitempty"`
	Op    string   `json:"op"`
	Args  []string `json:"args,omitempty"`
}

// wsEnvelope is enough of any incoming frame to route it.
type wsEnvelope struct {
	Topic   string `json:"topic"`
	Op      string `json:"op"`
	Success *bool  `json:"success"`
	RetMsg  string `json:"ret_msg"`
}

// OrderBookMessage is an orderbook.{depth}.{symbol} push.
type OrderBookMessage struct {
	Topic string        `json:"topic"`
	Type  string        `json:"type"` // "snapshot" or "delta"
	TS    int64         `json:"ts"`
	Data  OrderBookData `json:"data"`
}

// OrderBookData carries price levels as [price, size] string pairs.
type OrderBookData struct {
	Symbol   string     `json:"s"`
	Bids     [][]string `json:"b"`
	Asks     [][]string `json:"a"`
	UpdateID int64      `json:"u"`
	Seq      int64      `json:"seq"`
}

// IsSnapshot reports whether the message replaces the whole book. An update
// ID of 1 is a snapshot sent after a service restart.
func (m OrderBookMessage) IsSnapshot() bool {
	return m.Type == "snapshot" || m.Data.UpdateID == 1
}

// OrderBookTopic returns the subscription topic for symbol at depth.
func OrderBookTopic(depth int, symbol string) string {
	return fmt.Sprintf("orderbook.%d.%s", depth, strings.ToUpper(symbol))
}
