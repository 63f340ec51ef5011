package market

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

func params(abs, rel, pct, cluster float64) domain.CoinParameters {
	p := domain.DefaultCoinParameters("BTCUSDT")
	p.DensityThresholdAbs = abs
	p.DensityThresholdRelative = rel
	p.DensityThresholdPercent = pct
	p.ClusterRangePercent = cluster
	return p
}

func levels(pv ...float64) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(pv)/2)
	for i := 0; i+1 < len(pv); i += 2 {
		out = append(out, domain.PriceLevel{Price: pv[i], Volume: pv[i+1]})
	}
	return out
}

func prices(ds []domain.Density) []float64 {
	out := make([]float64, len(ds))
	for i, d := range ds {
		out[i] = d.Price
	}
	return out
}

func TestDetectDensities_ThreeLevelBook(t *testing.T) {
	book := levels(100, 5, 99, 50, 98, 4)
	now := time.Unix(1700000000, 0)

	// total=59, avg=19.67. With rel=2.0 the 50 lot clears 39.3 and the 30%
	// bar of 17.7; 5 and 4 fail relative, and 98*4=392 also fails absolute.
	ds := DetectDensities("BTCUSDT", domain.SideBid, book, params(400, 2.0, 30, 0.5), now)
	require.Len(t, ds, 1)

	d := ds[0]
	assert.Equal(t, 99.0, d.Price)
	assert.Equal(t, domain.SideBid, d.Side)
	assert.Equal(t, 50.0, d.Volume)
	assert.Equal(t, 50.0, d.InitialVolume)
	assert.Equal(t, now, d.AppearedAt)
	assert.InDelta(t, 50.0/59*100, d.VolumePercent, 1e-9)
	assert.InDelta(t, 50/(59.0/3), d.RelativeStrength, 1e-9)

	// At rel=3.0 the relative bar is 59 and nothing qualifies.
	assert.Empty(t, DetectDensities("BTCUSDT", domain.SideBid, book, params(400, 3.0, 30, 0.5), now))
}

func TestDetectDensities_EachCriterionIsABoundary(t *testing.T) {
	// total=128, avg=32. The 80 lot at price 10 sits exactly on every bar
	// below: notional 800, 2.5*avg = 80, 62.5% of total = 80.
	book := levels(10, 80, 11, 16, 12, 16, 13, 16)
	now := time.Now()

	tests := []struct {
		name string
		p    domain.CoinParameters
		want []float64
	}{
		{"all pass on the boundary", params(800, 2.5, 62.5, 0.5), []float64{10}},
		{"absolute just fails", params(800.5, 2.5, 62.5, 0.5), nil},
		{"relative just fails", params(800, 2.51, 62.5, 0.5), nil},
		{"percentage just fails", params(800, 2.5, 62.51, 0.5), nil},
		{"everything qualifies at zero thresholds", params(0, 0, 0, 0.5), []float64{10, 11, 12, 13}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := DetectDensities("X", domain.SideAsk, book, tt.p, now)
			if tt.want == nil {
				assert.Empty(t, ds)
				return
			}
			assert.Equal(t, tt.want, prices(ds))
		})
	}
}

func TestDetectDensities_EmptySide(t *testing.T) {
	assert.Nil(t, DetectDensities("X", domain.SideBid, nil, params(0, 0, 0, 0), time.Now()))
}

func densitiesAt(pxs ...float64) []domain.Density {
	out := make([]domain.Density, len(pxs))
	for i, p := range pxs {
		out[i] = domain.Density{Price: p, Side: domain.SideBid, Volume: 1}
	}
	return out
}

func clustered(ds []domain.Density) map[float64]bool {
	out := make(map[float64]bool, len(ds))
	for _, d := range ds {
		out[d.Price] = d.IsCluster
	}
	return out
}

func TestMarkClusters(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		rng  float64
		want map[float64]bool
	}{
		{
			name: "three within range",
			in:   []float64{100.2, 100, 100.4},
			rng:  0.5,
			want: map[float64]bool{100: true, 100.2: true, 100.4: true},
		},
		{
			name: "only two candidates is never a cluster",
			in:   []float64{100, 100.1},
			rng:  0.5,
			want: map[float64]bool{100: false, 100.1: false},
		},
		{
			name: "run of exactly two among spread levels",
			in:   []float64{100, 100.1, 105},
			rng:  0.5,
			want: map[float64]bool{100: false, 100.1: false, 105: false},
		},
		{
			name: "far outlier excluded",
			in:   []float64{100, 100.2, 100.4, 110},
			rng:  0.5,
			want: map[float64]bool{100: true, 100.2: true, 100.4: true, 110: false},
		},
		{
			name: "overlapping runs from different starts",
			// From 100: {100,100.3,100.5}. From 100.3: {100.3,100.5,100.8}.
			in:   []float64{100, 100.3, 100.5, 100.8, 102},
			rng:  0.6,
			want: map[float64]bool{100: true, 100.3: true, 100.5: true, 100.8: true, 102: false},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds := densitiesAt(tt.in...)
			MarkClusters(ds, tt.rng)
			assert.Equal(t, tt.want, clustered(ds))
			for i := 1; i < len(ds); i++ {
				assert.LessOrEqual(t, ds[i-1].Price, ds[i].Price)
			}
		})
	}
}
