package raster

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/go-gl/mathgl/mgl64"
)

const (
	nearCull         = 0.2       // view-space depth below which Gaussians are dropped
	lowPass          = 0.3       // screen-space dilation added to the 2D covariance
	maxAlpha         = 0.99      // cap so no single Gaussian is fully opaque
	minAlpha         = 1.0 / 255 // contributions below this are skipped
	minTransmittance = 1e-4      // compositing stops once a pixel is this opaque
	frustumSlack     = 1.3       // off-screen extent used when linearizing the projection
)

// Config holds the CPU backend's tiling parameters
type Config struct {
	TileSize   int // Size of each square tile in pixels
	NumWorkers int // Number of parallel workers (0 = auto-detect)
}

// DefaultConfig returns sensible defaults for the CPU backend
func DefaultConfig() Config {
	return Config{
		TileSize:   16,
		NumWorkers: 0,
	}
}

// CPU rasterizes Gaussians by EWA splatting: each primitive is projected to a
// 2D ellipse, binned into tiles, depth sorted and alpha composited front to
// back. Tiles are composited in parallel on a worker pool.
type CPU struct {
	config Config
}

// NewCPU creates a CPU rasterizer, falling back to defaults for unset fields
func NewCPU(config Config) *CPU {
	if config.TileSize <= 0 {
		config.TileSize = DefaultConfig().TileSize
	}
	return &CPU{config: config}
}

// splat2D is a primitive after projection to the image plane
type splat2D struct {
	index   int
	px, py  float64    // pixel-space center
	depth   float64    // view-space z
	conic   mgl64.Vec3 // inverse 2D covariance (a, b, c)
	opacity float64
	color   [3]float64
	radius  int
}

// Rasterize implements Rasterizer
func (r *CPU) Rasterize(ctx context.Context, settings Settings, prims Primitives) (*Result, error) {
	if err := Validate(settings, prims); err != nil {
		return nil, err
	}

	width, height := settings.Width, settings.Height
	grid := NewTileGrid(width, height, r.config.TileSize)
	result := &Result{
		Width:  width,
		Height: height,
		Color:  make([]float64, width*height*3),
		Depth:  make([]float64, width*height),
		Radii:  make([]int, prims.Len()),
	}

	splats := make([]splat2D, 0, prims.Len())
	for i := 0; i < prims.Len(); i++ {
		s, ok := preprocess(settings, prims, i, grid)
		if !ok {
			continue
		}
		result.Radii[i] = s.radius
		splats = append(splats, s)
	}
	result.Visible = len(splats)

	// front to back; ties keep input order so renders are deterministic
	sort.SliceStable(splats, func(a, b int) bool {
		return splats[a].depth < splats[b].depth
	})

	bins := make([][]int32, len(grid.Tiles))
	for k, s := range splats {
		minX, minY, maxX, maxY := grid.TileRange(s.px, s.py, s.radius)
		for ty := minY; ty < maxY; ty++ {
			for tx := minX; tx < maxX; tx++ {
				id := ty*grid.TilesX + tx
				bins[id] = append(bins[id], int32(k))
			}
		}
	}

	background := [3]float64{settings.Background[0], settings.Background[1], settings.Background[2]}
	composite := func(tile *Tile) RenderStats {
		return compositeTile(tile, splats, bins[tile.ID], background, result)
	}

	pool := NewWorkerPool(composite, len(grid.Tiles), r.config.NumWorkers)
	pool.Start(ctx)
	for _, tile := range grid.Tiles {
		pool.SubmitTask(TileTask{Tile: tile, TaskID: tile.ID})
	}

	var firstErr error
	for i := 0; i < len(grid.Tiles); i++ {
		res, ok := pool.GetResult()
		if !ok {
			break
		}
		if res.Error != nil && firstErr == nil {
			firstErr = res.Error
		}
		result.Stats.Merge(res.Stats)
	}
	pool.Stop()

	if firstErr != nil {
		return nil, fmt.Errorf("rasterization interrupted: %w", firstErr)
	}
	return result, nil
}

// preprocess projects primitive i and reports whether it touches the image
func preprocess(settings Settings, prims Primitives, i int, grid *TileGrid) (splat2D, bool) {
	mean := prims.Means[i]
	pView := settings.View.Mul4x1(mean.Vec4(1))
	if pView.Z() <= nearCull {
		return splat2D{}, false
	}

	pHom := settings.Proj.Mul4x1(mean.Vec4(1))
	invW := 1 / (pHom.W() + 1e-7)
	ndcX, ndcY := pHom.X()*invW, pHom.Y()*invW

	cov := projectCovariance(settings, pView.Vec3(), prims.Scales[i], prims.Rotations[i])
	a, b, c := cov[0], cov[1], cov[2]
	det := a*c - b*b
	if det == 0 {
		return splat2D{}, false
	}
	conic := mgl64.Vec3{c / det, -b / det, a / det}

	// extent from the larger eigenvalue of the 2D covariance
	mid := 0.5 * (a + c)
	lambda := mid + math.Sqrt(math.Max(0.1, mid*mid-det))
	radius := int(math.Ceil(3 * math.Sqrt(lambda)))

	px := ((ndcX+1)*float64(settings.Width) - 1) * 0.5
	py := ((ndcY+1)*float64(settings.Height) - 1) * 0.5

	minX, minY, maxX, maxY := grid.TileRange(px, py, radius)
	if (maxX-minX)*(maxY-minY) == 0 {
		return splat2D{}, false
	}

	col := prims.Colors[i]
	return splat2D{
		index:   i,
		px:      px,
		py:      py,
		depth:   pView.Z(),
		conic:   conic,
		opacity: prims.Opacities[i],
		color:   [3]float64{col[0], col[1], col[2]},
		radius:  radius,
	}, true
}

// projectCovariance returns the screen-space covariance (xx, xy, yy) of a
// Gaussian at view-space position t, low-pass filtered by one third of a pixel.
func projectCovariance(settings Settings, t, scale mgl64.Vec3, rotation mgl64.Quat) mgl64.Vec3 {
	focalX := float64(settings.Width) / (2 * settings.TanFovX)
	focalY := float64(settings.Height) / (2 * settings.TanFovY)

	// clamp the linearization point to just outside the frustum
	limX := frustumSlack * settings.TanFovX
	limY := frustumSlack * settings.TanFovY
	tx := math.Max(-limX, math.Min(limX, t.X()/t.Z())) * t.Z()
	ty := math.Max(-limY, math.Min(limY, t.Y()/t.Z())) * t.Z()
	tz := t.Z()

	jacobian := mgl64.Mat3FromRows(
		mgl64.Vec3{focalX / tz, 0, -focalX * tx / (tz * tz)},
		mgl64.Vec3{0, focalY / tz, -focalY * ty / (tz * tz)},
		mgl64.Vec3{0, 0, 0},
	)
	viewRot := settings.View.Mat3()
	m := jacobian.Mul3(viewRot)

	sigma := covariance3D(scale.Mul(settings.ScaleModifier), rotation)
	cov := m.Mul3(sigma).Mul3(m.Transpose())

	return mgl64.Vec3{cov.At(0, 0) + lowPass, cov.At(0, 1), cov.At(1, 1) + lowPass}
}

// covariance3D builds the world-space covariance R S Sᵀ Rᵀ
func covariance3D(scale mgl64.Vec3, rotation mgl64.Quat) mgl64.Mat3 {
	r := rotation.Normalize().Mat4().Mat3()
	s := mgl64.Diag3(scale)
	m := r.Mul3(s)
	return m.Mul3(m.Transpose())
}

// compositeTile blends the tile's binned Gaussians into every pixel it covers
func compositeTile(tile *Tile, splats []splat2D, bin []int32, background [3]float64, out *Result) RenderStats {
	stats := RenderStats{Tiles: 1}

	for y := tile.Bounds.Min.Y; y < tile.Bounds.Max.Y; y++ {
		for x := tile.Bounds.Min.X; x < tile.Bounds.Max.X; x++ {
			accum := NewPixelAccum()

			for _, k := range bin {
				s := &splats[k]
				dx := s.px - float64(x)
				dy := s.py - float64(y)
				power := -0.5*(s.conic[0]*dx*dx+s.conic[2]*dy*dy) - s.conic[1]*dx*dy
				if power > 0 {
					continue
				}
				alpha := math.Min(maxAlpha, s.opacity*math.Exp(power))
				if alpha < minAlpha {
					continue
				}
				if !accum.Blend(s.color, s.depth, alpha) {
					break
				}
			}

			color, depth := accum.Resolve(background)
			idx := y*out.Width + x
			copy(out.Color[idx*3:idx*3+3], color[:])
			out.Depth[idx] = depth

			stats.TotalPixels++
			stats.Contributions += accum.Count
			stats.MaxContributions = max(stats.MaxContributions, accum.Count)
		}
	}

	return stats
}
