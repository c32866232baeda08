package netcdf

import (
	"fmt"
	"math"

	"github.com/batchatco/go-native-netcdf/netcdf/api"
)

// scalar converts a numeric attribute value. Attributes may be stored as scalars
// or as one-element slices.
func scalar(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case float32:
		return float64(x), nil
	case int8:
		return float64(x), nil
	case int16:
		return float64(x), nil
	case int32:
		return float64(x), nil
	case int64:
		return float64(x), nil
	case uint8:
		return float64(x), nil
	case uint16:
		return float64(x), nil
	case uint32:
		return float64(x), nil
	case []float64:
		if len(x) == 1 {
			return x[0], nil
		}
	case []float32:
		if len(x) == 1 {
			return float64(x[0]), nil
		}
	case []int16:
		if len(x) == 1 {
			return float64(x[0]), nil
		}
	case []int32:
		if len(x) == 1 {
			return float64(x[0]), nil
		}
	}
	return 0, fmt.Errorf("unsupported attribute value %T", v)
}

// flatten converts a 2-D variable into row-major float64 samples.
func flatten(values any) ([]float64, int, int, error) {
	var out []float64
	rows, cols := 0, -1
	add := func(n int, at func(i int) float64) error {
		if cols >= 0 && n != cols {
			return fmt.Errorf("ragged row %d: %d columns, want %d", rows, n, cols)
		}
		cols = n
		for i := 0; i < n; i++ {
			out = append(out, at(i))
		}
		rows++
		return nil
	}

	var err error
	switch v := values.(type) {
	case [][]float64:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return r[i] }); err != nil {
				break
			}
		}
	case [][]float32:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return float64(r[i]) }); err != nil {
				break
			}
		}
	case [][]int16:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return float64(r[i]) }); err != nil {
				break
			}
		}
	case [][]int32:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return float64(r[i]) }); err != nil {
				break
			}
		}
	case [][]uint16:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return float64(r[i]) }); err != nil {
				break
			}
		}
	case [][]uint8:
		for _, r := range v {
			if err = add(len(r), func(i int) float64 { return float64(r[i]) }); err != nil {
				break
			}
		}
	default:
		return nil, 0, 0, fmt.Errorf("unsupported variable type %T, want a 2-D numeric array", values)
	}
	if err != nil {
		return nil, 0, 0, err
	}
	if cols < 0 {
		cols = 0
	}
	return out, cols, rows, nil
}

// decodeVariable flattens a (y, x) variable and applies its packing attributes.
// Fill values and NaN become unobserved.
func decodeVariable(values any, attrs api.AttributeMap, width, height int) ([]float64, error) {
	data, cols, rows, err := flatten(values)
	if err != nil {
		return nil, err
	}
	if cols != width || rows != height {
		return nil, fmt.Errorf("variable is %dx%d, grid is %dx%d", cols, rows, width, height)
	}

	scale, offset := 1.0, 0.0
	fill, hasFill := math.NaN(), false
	if attrs != nil {
		if v, ok := attrs.Get("scale_factor"); ok {
			if scale, err = scalar(v); err != nil {
				return nil, fmt.Errorf("scale_factor: %w", err)
			}
		}
		if v, ok := attrs.Get("add_offset"); ok {
			if offset, err = scalar(v); err != nil {
				return nil, fmt.Errorf("add_offset: %w", err)
			}
		}
		if v, ok := attrs.Get("_FillValue"); ok {
			if fill, err = scalar(v); err != nil {
				return nil, fmt.Errorf("_FillValue: %w", err)
			}
			hasFill = true
		}
	}

	for i, v := range data {
		if math.IsNaN(v) || (hasFill && v == fill) {
			data[i] = math.NaN()
			continue
		}
		data[i] = v*scale + offset
	}
	return data, nil
}
