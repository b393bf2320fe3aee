package rap

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// sheetBracket is one carat range of a shape in the price sheet file:
//
//	- shape: round
//	  min_carat: 1.00
//	  max_carat: 1.49
//	  prices:
//	    D: {IF: 26500, VVS1: 20500}
//	    E: {IF: 20400}
type sheetBracket struct {
	Shape    string                       `yaml:"shape"`
	MinCarat string                       `yaml:"min_carat"`
	MaxCarat string                       `yaml:"max_carat"`
	Prices   map[string]map[string]string `yaml:"prices"`
}

type bracket struct {
	min, max decimal.Decimal
	prices   map[int]map[string]decimal.Decimal
}

// SheetSource answers from a rap price grid held in memory.
type SheetSource struct {
	shapes map[string][]bracket
}

// LoadSheetFile reads a YAML price sheet from path.
func LoadSheetFile(path string) (*SheetSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open rap sheet: %w", err)
	}
	defer f.Close()
	return LoadSheet(f)
}

// LoadSheet parses a YAML price sheet. Grades are converted to codes at load
// time, so an unknown grade or malformed number fails the whole sheet.
func LoadSheet(r io.Reader) (*SheetSource, error) {
	var raw []sheetBracket
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode rap sheet: %w", err)
	}

	s := &SheetSource{shapes: make(map[string][]bracket)}
	for i, rb := range raw {
		shape := strings.ToLower(strings.TrimSpace(rb.Shape))
		if shape == "" {
			return nil, fmt.Errorf("rap sheet entry %d: shape is required", i)
		}
		b := bracket{prices: make(map[int]map[string]decimal.Decimal)}
		var err error
		if b.min, err = decimal.NewFromString(rb.MinCarat); err != nil {
			return nil, fmt.Errorf("rap sheet entry %d: min_carat: %w", i, err)
		}
		if b.max, err = decimal.NewFromString(rb.MaxCarat); err != nil {
			return nil, fmt.Errorf("rap sheet entry %d: max_carat: %w", i, err)
		}
		if b.max.LessThan(b.min) {
			return nil, fmt.Errorf("rap sheet entry %d: max_carat below min_carat", i)
		}
		for color, row := range rb.Prices {
			colorCode, ok := ColorCode(color)
			if !ok {
				return nil, fmt.Errorf("rap sheet entry %d: unknown color %q", i, color)
			}
			codes := make(map[string]decimal.Decimal, len(row))
			for clarity, rawPrice := range row {
				clarityCode, ok := ClarityCode(clarity)
				if !ok {
					return nil, fmt.Errorf("rap sheet entry %d: unknown clarity %q", i, clarity)
				}
				price, err := decimal.NewFromString(rawPrice)
				if err != nil {
					return nil, fmt.Errorf("rap sheet entry %d: price %s/%s: %w", i, color, clarity, err)
				}
				codes[clarityCode] = price
			}
			b.prices[colorCode] = codes
		}
		s.shapes[shape] = append(s.shapes[shape], b)
	}
	return s, nil
}

// Price implements Source.
func (s *SheetSource) Price(_ context.Context, req Request) (decimal.Decimal, error) {
	for _, b := range s.shapes[req.Shape] {
		if req.Carat.LessThan(b.min) || req.Carat.GreaterThan(b.max) {
			continue
		}
		if price, ok := b.prices[req.ColorCode][req.ClarityCode]; ok {
			return price, nil
		}
	}
	return decimal.Zero, ErrNoPrice
}
