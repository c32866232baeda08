package domain

import (
	"math"

	"github.com/paulmach/orb"
)

const testCRS = "EPSG:3035"

var nan = math.NaN()

// testGrid is a 4x3 grid of 10 m pixels with its upper-left corner at (0, 30).
func testGrid() Grid {
	return Grid{CRS: testCRS, OriginX: 0, OriginY: 30, Scale: 10, Width: 4, Height: 3}
}

// squareAOI covers [minX,maxX] x [minY,maxY] in testCRS.
func squareAOI(minX, minY, maxX, maxY float64) AOI {
	return AOI{
		CRS: testCRS,
		Polygon: orb.Polygon{orb.Ring{
			{minX, minY}, {maxX, minY}, {maxX, maxY}, {minX, maxY}, {minX, minY},
		}},
	}
}

func band(name string, data ...float64) Band {
	return Band{Name: name, Data: data}
}
