package raster

// RenderStats contains statistics about one rasterization
type RenderStats struct {
	TotalPixels      int // Pixels composited
	Tiles            int // Tiles processed
	Contributions    int // Gaussian-pixel blends across the image
	MaxContributions int // Most blends into any single pixel
}

// AverageContributions returns the mean number of blends per pixel
func (s RenderStats) AverageContributions() float64 {
	if s.TotalPixels == 0 {
		return 0
	}
	return float64(s.Contributions) / float64(s.TotalPixels)
}

// Merge folds the statistics of another tile into s
func (s *RenderStats) Merge(other RenderStats) {
	s.TotalPixels += other.TotalPixels
	s.Tiles += other.Tiles
	s.Contributions += other.Contributions
	s.MaxContributions = max(s.MaxContributions, other.MaxContributions)
}

// PixelAccum accumulates front-to-back blending for a single pixel
type PixelAccum struct {
	Color         [3]float64
	DepthWeighted float64 // sum of depth * weight
	Weight        float64 // sum of alpha * transmittance
	Transmittance float64
	Count         int // Gaussians blended
}

// NewPixelAccum returns an accumulator with full transmittance
func NewPixelAccum() PixelAccum {
	return PixelAccum{Transmittance: 1}
}

// Blend composites one Gaussian with the given alpha behind what is already
// accumulated. It reports false, without blending, once the pixel is saturated.
func (pa *PixelAccum) Blend(color [3]float64, depth, alpha float64) bool {
	next := pa.Transmittance * (1 - alpha)
	if next < minTransmittance {
		return false
	}
	w := alpha * pa.Transmittance
	for c := 0; c < 3; c++ {
		pa.Color[c] += color[c] * w
	}
	pa.DepthWeighted += depth * w
	pa.Weight += w
	pa.Transmittance = next
	pa.Count++
	return true
}

// Resolve returns the final color over background and the alpha-weighted depth
func (pa *PixelAccum) Resolve(background [3]float64) ([3]float64, float64) {
	var color [3]float64
	for c := 0; c < 3; c++ {
		color[c] = pa.Color[c] + pa.Transmittance*background[c]
	}
	depth := 0.0
	if pa.Weight > 0 {
		depth = pa.DepthWeighted / pa.Weight
	}
	return color, depth
}
