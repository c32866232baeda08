package geotiff

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// A world file (.tfw) holds six lines: x pixel size, two rotation terms, y pixel
// size (negative for north-up), and the x/y of the centre of the upper-left pixel.

// WorldFilePath returns the .tfw path next to a .tif path.
func WorldFilePath(tifPath string) string {
	return strings.TrimSuffix(tifPath, ".tif") + ".tfw"
}

func readWorldFile(r io.Reader) (scale, originX, originY float64, err error) {
	var terms []float64
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		v, err := strconv.ParseFloat(line, 64)
		if err != nil {
			return 0, 0, 0, fmt.Errorf("world file line %d: %w", len(terms)+1, err)
		}
		terms = append(terms, v)
	}
	if err := sc.Err(); err != nil {
		return 0, 0, 0, err
	}
	if len(terms) != 6 {
		return 0, 0, 0, fmt.Errorf("world file has %d terms, want 6", len(terms))
	}
	a, d, b, e, c, f := terms[0], terms[1], terms[2], terms[3], terms[4], terms[5]
	if d != 0 || b != 0 {
		return 0, 0, 0, fmt.Errorf("rotated world files are not supported")
	}
	if a <= 0 || e != -a {
		return 0, 0, 0, fmt.Errorf("world file must describe square north-up pixels, got %v x %v", a, e)
	}
	return a, c - a/2, f + a/2, nil
}

func writeWorldFile(w io.Writer, g domain.Grid) error {
	cx, cy := g.Center(0, 0)
	_, err := fmt.Fprintf(w, "%s\n0\n0\n%s\n%s\n%s\n",
		formatFloat(g.Scale), formatFloat(-g.Scale), formatFloat(cx), formatFloat(cy))
	return err
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
