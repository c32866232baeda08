// Command validate checks an exported relative-yield raster: its value domain,
// its JSON sidecar and, when a run ledger is given, its checksum against the
// recorded run report.
//
// Usage:
//
//	go run ./cmd/validate \
//	  -raster out/relative_yield_output_0f5c2a1e-....tif \
//	  -ledger data/runs.db \
//	  -run 0f5c2a1e-...
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/couchcryptid/relative-yield-service/internal/adapter/geotiff"
	"github.com/couchcryptid/relative-yield-service/internal/adapter/sqlite"
	"github.com/couchcryptid/relative-yield-service/internal/domain"
)

// phase tracks pass/fail for a validation phase.
type phase struct {
	name   string
	errors []string
}

func (p *phase) errorf(format string, args ...any) {
	p.errors = append(p.errors, fmt.Sprintf(format, args...))
}

func (p *phase) passed() bool { return len(p.errors) == 0 }

// maxReported caps the per-pixel errors listed for one phase.
const maxReported = 20

func main() {
	rasterPath := flag.String("raster", "", "path to the exported GeoTIFF")
	ledgerPath := flag.String("ledger", "", "optional path to the SQLite run ledger")
	runID := flag.String("run", "", "run id to compare against (requires -ledger)")
	flag.Parse()

	if *rasterPath == "" || (*runID != "") != (*ledgerPath != "") {
		flag.Usage()
		os.Exit(1)
	}

	if code := run(context.Background(), *rasterPath, *ledgerPath, *runID); code != 0 {
		os.Exit(code)
	}
}

func run(ctx context.Context, rasterPath, ledgerPath, runID string) int {
	fmt.Println("=== Relative Yield Output Validation ===")
	fmt.Println()

	out, meta, err := geotiff.ReadOutput(rasterPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: read raster: %v\n", err)
		return 1
	}

	phases := []*phase{
		validateValues(out),
		validateMetadata(out, meta),
	}
	if ledgerPath != "" {
		report, err := loadReport(ctx, ledgerPath, runID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "FATAL: load run report: %v\n", err)
			return 1
		}
		phases = append(phases, validateReport(out, meta, report))
	}

	fmt.Println()
	allPassed := true
	for _, p := range phases {
		status := "\033[32mPASS\033[0m"
		if !p.passed() {
			status = fmt.Sprintf("\033[31mFAIL (%d errors)\033[0m", len(p.errors))
			allPassed = false
		}
		fmt.Printf("  %-42s %s\n", p.name, status)
	}

	fmt.Println()
	fmt.Printf("Pixels: %d total, %d observed, %dx%d at %v in %s\n",
		len(out.Values), out.Observed(), out.Grid.Width, out.Grid.Height, out.Grid.Scale, out.Grid.CRS)

	for _, p := range phases {
		if p.passed() {
			continue
		}
		fmt.Printf("\n--- %s ---\n", p.name)
		for i, e := range p.errors {
			fmt.Printf("  [%d] %s\n", i+1, e)
		}
	}

	if allPassed {
		fmt.Println("\nAll validations passed.")
		return 0
	}
	fmt.Println("\nValidation FAILED.")
	return 1
}

func loadReport(ctx context.Context, path, runID string) (domain.RunReport, error) {
	ledger, err := sqlite.Open(ctx, path)
	if err != nil {
		return domain.RunReport{}, err
	}
	defer ledger.Close()
	return ledger.Get(ctx, runID)
}

// validateValues checks that every pixel is in 0..100 or nodata.
func validateValues(out domain.OutputRaster) *phase {
	p := &phase{name: "Value domain {0..100, 999}"}
	bad := 0
	for i, v := range out.Values {
		if (v >= 0 && v <= 100) || v == domain.NodataValue {
			continue
		}
		bad++
		if bad <= maxReported {
			p.errorf("pixel (%d,%d) = %d", i%out.Grid.Width, i/out.Grid.Width, v)
		}
	}
	if bad > maxReported {
		p.errorf("... and %d more", bad-maxReported)
	}
	return p
}

// validateMetadata checks the sidecar against the raster itself.
func validateMetadata(out domain.OutputRaster, meta geotiff.Metadata) *phase {
	p := &phase{name: "Sidecar metadata"}
	if meta.Nodata != domain.NodataValue {
		p.errorf("nodata %d, want %d", meta.Nodata, domain.NodataValue)
	}
	if meta.Band != domain.BandRelativeYield {
		p.errorf("band %q, want %q", meta.Band, domain.BandRelativeYield)
	}
	if meta.CRS != meta.Grid.CRS {
		p.errorf("crs %q does not match grid crs %q", meta.CRS, meta.Grid.CRS)
	}
	if meta.Grid.Width != out.Grid.Width || meta.Grid.Height != out.Grid.Height {
		p.errorf("grid %dx%d, raster is %dx%d", meta.Grid.Width, meta.Grid.Height, out.Grid.Width, out.Grid.Height)
	}
	if meta.Grid.Scale != out.Grid.Scale {
		p.errorf("scale %v, world file says %v", meta.Grid.Scale, out.Grid.Scale)
	}
	return p
}

// validateReport checks the raster against the report recorded for its run.
func validateReport(out domain.OutputRaster, meta geotiff.Metadata, report domain.RunReport) *phase {
	p := &phase{name: "Run report " + report.RunID}
	if got := out.Observed(); got != report.Observed {
		p.errorf("observed pixels %d, report says %d", got, report.Observed)
	}
	if meta.Approximate != report.Stats.Approximate {
		p.errorf("approximate %v, report says %v", meta.Approximate, report.Stats.Approximate)
	}
	// The checksum covers the full grid geometry, which the world file carries
	// only to its printed precision, so hash against the reported grid.
	out.Grid = report.Grid
	if got := domain.Checksum(out); got != report.Checksum {
		p.errorf("checksum %s, report says %s", got, report.Checksum)
	}
	return p
}
