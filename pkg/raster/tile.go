package raster

import (
	"image"
	"math"
)

// Tile represents a rectangular region of the image composited by one task
type Tile struct {
	ID     int             // Unique tile identifier, row-major
	Bounds image.Rectangle // Pixel bounds (x0,y0,x1,y1)
}

// NewTile creates a new tile with the specified bounds
func NewTile(id int, bounds image.Rectangle) *Tile {
	return &Tile{ID: id, Bounds: bounds}
}

// TileGrid is the fixed tiling of one image size
type TileGrid struct {
	Tiles          []*Tile
	TilesX, TilesY int
	TileSize       int
}

// NewTileGrid creates a grid of tiles covering the entire image
func NewTileGrid(width, height, tileSize int) *TileGrid {
	grid := &TileGrid{
		TilesX:   (width + tileSize - 1) / tileSize, // Ceiling division
		TilesY:   (height + tileSize - 1) / tileSize,
		TileSize: tileSize,
	}

	tileID := 0
	for tileY := 0; tileY < grid.TilesY; tileY++ {
		for tileX := 0; tileX < grid.TilesX; tileX++ {
			x0 := tileX * tileSize
			y0 := tileY * tileSize
			x1 := min(x0+tileSize, width) // Don't exceed image bounds
			y1 := min(y0+tileSize, height)

			grid.Tiles = append(grid.Tiles, NewTile(tileID, image.Rect(x0, y0, x1, y1)))
			tileID++
		}
	}

	return grid
}

// TileRange returns the half-open range of tile columns and rows touched by a
// square of the given radius around (px, py). The range is empty when the
// square misses the image.
func (g *TileGrid) TileRange(px, py float64, radius int) (minX, minY, maxX, maxY int) {
	size := float64(g.TileSize)
	r := float64(radius)
	cell := func(v float64, hi int) int {
		return max(0, min(int(math.Floor(v/size)), hi))
	}
	minX = cell(px-r, g.TilesX)
	minY = cell(py-r, g.TilesY)
	maxX = cell(px+r+size-1, g.TilesX)
	maxY = cell(py+r+size-1, g.TilesY)
	return minX, minY, maxX, maxY
}
