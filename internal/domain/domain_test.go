package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestOrderBook_MidPrice(t *testing.T) {
	b := OrderBook{
		Bids: []PriceLevel{{Price: 99, Volume: 1}, {Price: 100, Volume: 2}},
		Asks: []PriceLevel{{Price: 103, Volume: 1}, {Price: 102, Volume: 4}},
	}
	mid, ok := b.MidPrice()
	assert.True(t, ok)
	assert.Equal(t, 101.0, mid)
	assert.Equal(t, 3.0, b.TotalBidVolume())
	assert.Equal(t, 5.0, b.TotalAskVolume())
	assert.Equal(t, 4.0, b.VolumeAt(SideAsk, 102))
	assert.Zero(t, b.VolumeAt(SideAsk, 102.5))

	b.Asks = nil
	_, ok = b.MidPrice()
	assert.False(t, ok)
}

func TestDensity_ErosionPercent(t *testing.T) {
	d := Density{InitialVolume: 100, Volume: 100}
	assert.Zero(t, d.ErosionPercent())

	d.Volume = 25
	assert.Equal(t, 75.0, d.ErosionPercent())

	d.Volume = 0
	assert.Equal(t, 100.0, d.ErosionPercent())

	d.InitialVolume = 0
	assert.Zero(t, d.ErosionPercent())
}

func TestPosition_ProfitPercent(t *testing.T) {
	long := Position{EntryPrice: 100, Leverage: 10, Direction: DirectionLong, Size: 2}
	assert.InDelta(t, 20.0, long.ProfitPercent(102), 1e-9)
	assert.InDelta(t, -10.0, long.ProfitPercent(99), 1e-9)
	assert.InDelta(t, 4.0, long.PnL(102), 1e-9)

	short := long
	short.Direction = DirectionShort
	assert.InDelta(t, -20.0, short.ProfitPercent(102), 1e-9)
	assert.InDelta(t, 10.0, short.ProfitPercent(99), 1e-9)
	assert.InDelta(t, 2.0, short.PnL(99), 1e-9)

	assert.Zero(t, (&Position{}).ProfitPercent(100))
}

func TestDirection_Sides(t *testing.T) {
	assert.Equal(t, SideBid, DirectionLong.DensitySide())
	assert.Equal(t, SideAsk, DirectionShort.DensitySide())
	assert.Equal(t, OrderSideSell, DirectionLong.CloseSide())
	assert.Equal(t, OrderSideBuy, DirectionShort.CloseSide())
}
