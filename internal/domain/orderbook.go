package domain

import (
	"math"
	"time"
)

// Side identifies which side of the book a level or density sits on.
type Side string

const (
	SideBid Side = "bid"
	SideAsk Side = "ask"
)

// PriceLevel is a single price+volume entry in an orderbook. Both fields are
// strictly positive for levels accepted from the feed.
type PriceLevel struct {
	Price  float64 `json:"price"`
	Volume float64 `json:"volume"`
}

// OrderBook is a full view of one symbol's bids and asks. Bids are ordered
// best (highest) first, asks best (lowest) first. An OrderBook is never
// mutated after it is handed to the engine; updates replace it wholesale.
type OrderBook struct {
	Symbol    string       `json:"symbol"`
	Bids      []PriceLevel `json:"bids"`
	Asks      []PriceLevel `json:"asks"`
	Timestamp time.Time    `json:"timestamp"`
}

// BestBid returns the highest bid price, or false if there are no bids.
func (b *OrderBook) BestBid() (float64, bool) {
	if len(b.Bids) == 0 {
		return 0, false
	}
	best := b.Bids[0].Price
	for _, l := range b.Bids[1:] {
		best = math.Max(best, l.Price)
	}
	return best, true
}

// BestAsk returns the lowest ask price, or false if there are no asks.
func (b *OrderBook) BestAsk() (float64, bool) {
	if len(b.Asks) == 0 {
		return 0, false
	}
	best := b.Asks[0].Price
	for _, l := range b.Asks[1:] {
		best = math.Min(best, l.Price)
	}
	return best, true
}

// MidPrice is the average of best bid and best ask. It is undefined (false)
// when either side is empty.
func (b *OrderBook) MidPrice() (float64, bool) {
	bid, ok := b.BestBid()
	if !ok {
		return 0, false
	}
	ask, ok := b.BestAsk()
	if !ok {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// TotalBidVolume sums the volume of every bid level.
func (b *OrderBook) TotalBidVolume() float64 { return totalVolume(b.Bids) }

// TotalAskVolume sums the volume of every ask level.
func (b *OrderBook) TotalAskVolume() float64 { return totalVolume(b.Asks) }

// Levels returns the levels for the given side.
func (b *OrderBook) Levels(side Side) []PriceLevel {
	if side == SideBid {
		return b.Bids
	}
	return b.Asks
}

// VolumeAt returns the resting volume at exactly price on the given side, or
// 0 if no level has that price.
func (b *OrderBook) VolumeAt(side Side, price float64) float64 {
	for _, l := range b.Levels(side) {
		if l.Price == price {
			return l.Volume
		}
	}
	return 0
}

func totalVolume(levels []PriceLevel) float64 {
	var sum float64
	for _, l := range levels {
		sum += l.Volume
	}
	return sum
}
