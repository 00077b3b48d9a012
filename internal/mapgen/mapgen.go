// Package mapgen builds the fixed region lists the simulation runs on.
// Maps are deterministic in their options, so a seed fully describes a
// board and tests can replay it.
package mapgen

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"github.com/kmoran/regionwars/pkg/conquest"
)

// Options describes a grid map. Width and Height count regions, not
// pixels. WaterFraction is the approximate share of impassable cells.
type Options struct {
	Width         int     `json:"width" yaml:"width"`
	Height        int     `json:"height" yaml:"height"`
	Seed          int64   `json:"seed" yaml:"seed"`
	WaterFraction float64 `json:"water_fraction" yaml:"water_fraction"`
}

// DefaultOptions is the development board: big enough for a handful of
// players, small enough to read in a terminal.
func DefaultOptions() Options {
	return Options{Width: 16, Height: 16, Seed: 1, WaterFraction: 0.15}
}

// Grid builds a width x height board with 4-neighborhood adjacency and
// smooth pseudo-terrain. Cells whose terrain falls below the water line
// get a negative elevation and are impassable.
func Grid(opts Options) ([]conquest.Region, error) {
	if opts.Width < 2 || opts.Height < 2 {
		return nil, fmt.Errorf("map too small: %dx%d", opts.Width, opts.Height)
	}
	if opts.WaterFraction < 0 || opts.WaterFraction >= 1 {
		return nil, fmt.Errorf("water fraction %v out of range", opts.WaterFraction)
	}

	rng := rand.New(rand.NewSource(opts.Seed))

	// Low-frequency waves plus seeded jitter give terrain that clumps
	// without a full noise library.
	px, py := rng.Float64()*math.Pi*2, rng.Float64()*math.Pi*2
	elev := make([]float64, opts.Width*opts.Height)
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			fx := float64(x) / float64(opts.Width)
			fy := float64(y) / float64(opts.Height)
			e := 0.5 +
				0.25*math.Sin(fx*4*math.Pi+px) +
				0.25*math.Cos(fy*4*math.Pi+py) +
				0.15*(rng.Float64()-0.5)
			elev[y*opts.Width+x] = e
		}
	}

	waterline := quantile(elev, opts.WaterFraction)

	regions := make([]conquest.Region, len(elev))
	for y := 0; y < opts.Height; y++ {
		for x := 0; x < opts.Width; x++ {
			i := y*opts.Width + x
			terrain := elev[i] - waterline
			if terrain == 0 {
				terrain = math.SmallestNonzeroFloat64
			}
			cx, cy := float64(x), float64(y)
			regions[i] = conquest.Region{
				ID:       conquest.RegionID(i),
				Position: [2]float64{cx, cy},
				Polygon: [][2]float64{
					{cx - 0.5, cy - 0.5},
					{cx + 0.5, cy - 0.5},
					{cx + 0.5, cy + 0.5},
					{cx - 0.5, cy + 0.5},
				},
				Terrain:   terrain,
				Connected: gridNeighbors(x, y, opts.Width, opts.Height),
			}
		}
	}
	return regions, nil
}

// NewState is a convenience wrapper building a ready game state.
func NewState(opts Options) (*conquest.GameState, error) {
	regions, err := Grid(opts)
	if err != nil {
		return nil, err
	}
	return conquest.NewGameState(regions)
}

func gridNeighbors(x, y, w, h int) []conquest.RegionID {
	var out []conquest.RegionID
	if y > 0 {
		out = append(out, conquest.RegionID((y-1)*w+x))
	}
	if x > 0 {
		out = append(out, conquest.RegionID(y*w+x-1))
	}
	if x < w-1 {
		out = append(out, conquest.RegionID(y*w+x+1))
	}
	if y < h-1 {
		out = append(out, conquest.RegionID((y+1)*w+x))
	}
	return out
}

// quantile returns the value below which roughly frac of the samples
// fall. frac 0 returns less than the minimum so nothing is submerged.
func quantile(samples []float64, frac float64) float64 {
	if frac == 0 {
		min := samples[0]
		for _, s := range samples {
			if s < min {
				min = s
			}
		}
		return min - 1
	}
	sorted := make([]float64, len(samples))
	copy(sorted, samples)
	sort.Float64s(sorted)
	idx := int(frac * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
