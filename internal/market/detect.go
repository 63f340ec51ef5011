package market

import (
	"math"
	"sort"
	"time"

	"github.com/alanyoungcy/densitybot/internal/domain"
)

// minClusterSize is the smallest run of nearby densities treated as a cluster.
const minClusterSize = 3

// DetectDensities returns the levels of one book side that pass all three
// density criteria for p:
//
//	absolute:   volume*price >= DensityThresholdAbs
//	relative:   volume >= avg*DensityThresholdRelative
//	percentage: volume >= total*DensityThresholdPercent/100
//
// New densities start with InitialVolume = Volume and AppearedAt = now.
func DetectDensities(symbol string, side domain.Side, levels []domain.PriceLevel, p domain.CoinParameters, now time.Time) []domain.Density {
	if len(levels) == 0 {
		return nil
	}

	var total float64
	for _, l := range levels {
		total += l.Volume
	}
	avg := total / float64(len(levels))

	var out []domain.Density
	for _, l := range levels {
		if l.Volume*l.Price < p.DensityThresholdAbs {
			continue
		}
		if l.Volume < avg*p.DensityThresholdRelative {
			continue
		}
		if l.Volume < total*p.DensityThresholdPercent/100 {
			continue
		}

		d := domain.Density{
			Symbol:        symbol,
			Price:         l.Price,
			Side:          side,
			Volume:        l.Volume,
			InitialVolume: l.Volume,
			AppearedAt:    now,
		}
		if total > 0 {
			d.VolumePercent = l.Volume / total * 100
		}
		if avg > 0 {
			d.RelativeStrength = l.Volume / avg
		}
		out = append(out, d)
	}
	return out
}

// MarkClusters sorts ds by price ascending and flags every density that
// belongs to a run of at least three densities whose distance from the run's
// first price stays within rangePercent. All ds must be on the same side.
func MarkClusters(ds []domain.Density, rangePercent float64) {
	if len(ds) < minClusterSize {
		return
	}
	sort.Slice(ds, func(i, j int) bool { return ds[i].Price < ds[j].Price })

	for i := range ds {
		base := ds[i].Price
		if base == 0 {
			continue
		}
		end := i + 1
		for end < len(ds) {
			dist := math.Abs((ds[end].Price - base) / base * 100)
			if dist > rangePercent {
				break
			}
			end++
		}
		if end-i >= minClusterSize {
			for k := i; k < end; k++ {
				ds[k].IsCluster = true
			}
		}
	}
}
