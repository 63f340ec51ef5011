package domain

import "time"

// Density is a price level whose resting volume clears the absolute, relative
// and percentage thresholds at the same time.
type Density struct {
	Symbol           string     `json:"symbol"`
	Price            float64    `json:"price_level"`
	Side             Side       `json:"side"`
	Volume           float64    `json:"volume"`
	InitialVolume    float64    `json:"initial_volume"`
	VolumePercent    float64    `json:"volume_percent"`
	RelativeStrength float64    `json:"relative_strength"`
	IsCluster        bool       `json:"is_cluster"`
	AppearedAt       time.Time  `json:"appeared_at"`
	DisappearedAt    *time.Time `json:"disappeared_at,omitempty"`
}

// DensityKey identifies a density within one symbol. Two densities at the
// same price on opposite sides are distinct.
type DensityKey struct {
	Price float64
	Side  Side
}

// Key returns the identity key of d.
func (d *Density) Key() DensityKey {
	return DensityKey{Price: d.Price, Side: d.Side}
}

// ErosionPercent is the shrinkage of the current volume relative to the volume
// at first detection. It is 0 when the initial volume is not positive.
func (d *Density) ErosionPercent() float64 {
	if d.InitialVolume <= 0 {
		return 0
	}
	return (d.InitialVolume - d.Volume) / d.InitialVolume * 100
}

// PricePoint is one mid-price sample.
type PricePoint struct {
	Time  time.Time `json:"time"`
	Price float64   `json:"price"`
}

// VolumePoint is one total bid/ask volume sample.
type VolumePoint struct {
	Time      time.Time `json:"time"`
	BidVolume float64   `json:"bid_volume"`
	AskVolume float64   `json:"ask_volume"`
}
