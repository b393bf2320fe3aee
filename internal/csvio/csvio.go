// Package csvio reads and writes the diamond inventory as CSV spreadsheets.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/Simplici0/gemledger/internal/money"
	"github.com/Simplici0/gemledger/internal/store"
)

// Columns is the export header and the set of names understood on import.
var Columns = []string{
	"stock_id", "shape", "carat", "color", "clarity", "cut", "lab", "certificate_no",
	"rap_rate", "discount_percent", "price", "discounted_price", "seller_id", "status", "notes",
}

var required = []string{"stock_id", "shape", "carat", "color", "clarity"}

// Header aliases seen in supplier sheets.
var aliases = map[string]string{
	"stock":        "stock_id",
	"stock_no":     "stock_id",
	"stock_number": "stock_id",
	"weight":       "carat",
	"carats":       "carat",
	"cts":          "carat",
	"colour":       "color",
	"purity":       "clarity",
	"cert":         "certificate_no",
	"cert_no":      "certificate_no",
	"certificate":  "certificate_no",
	"rap":          "rap_rate",
	"rate":         "rap_rate",
	"discount":     "discount_percent",
	"disc":         "discount_percent",
	"seller":       "seller_id",
	"remarks":      "notes",
}

// RowError reports a skipped row. Row is the 1-based line number in the file.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ExportDiamonds writes stones with a header row.
func ExportDiamonds(w io.Writer, diamonds []store.Diamond) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, d := range diamonds {
		seller := ""
		if d.SellerID != nil {
			seller = strconv.FormatInt(*d.SellerID, 10)
		}
		record := []string{
			d.StockID, d.Shape, d.Carat.String(), d.Color, d.Clarity, d.Cut, d.Lab, d.CertificateNo,
			d.RapRate.String(), d.DiscountPercent.String(), d.Price.StringFixed(2), d.DiscountedPrice.StringFixed(2),
			seller, d.Status, d.Notes,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %s: %w", d.StockID, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

// ImportDiamonds parses a sheet into inputs. Columns are matched by header
// name; price columns are ignored since prices are derived. Invalid rows are
// skipped and reported. The returned error is only for unreadable files or a
// header missing required columns.
func ImportDiamonds(r io.Reader) ([]store.DiamondInput, []RowError, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil, errors.New("csv file is empty")
	}
	if err != nil {
		return nil, nil, fmt.Errorf("read csv header: %w", err)
	}
	index := mapHeader(header)
	var missing []string
	for _, name := range required {
		if _, ok := index[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, nil, fmt.Errorf("csv header is missing %s", strings.Join(missing, ", "))
	}

	inputs := make([]store.DiamondInput, 0)
	rowErrors := make([]RowError, 0)
	seen := make(map[string]int)
	for {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				rowErrors = append(rowErrors, RowError{Row: parseErr.Line, Message: parseErr.Err.Error()})
				continue
			}
			return nil, nil, fmt.Errorf("read csv: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		line, _ := cr.FieldPos(0)

		in, err := parseRow(record, index)
		if err == nil {
			in.Normalize()
			err = in.Validate()
		}
		if err == nil {
			if first, dup := seen[in.StockID]; dup {
				err = fmt.Errorf("stock_id %s repeats row %d", in.StockID, first)
			}
		}
		if err != nil {
			rowErrors = append(rowErrors, RowError{Row: line, Message: strings.TrimPrefix(err.Error(), store.ErrInvalid.Error()+": ")})
			continue
		}
		seen[in.StockID] = line
		inputs = append(inputs, in)
	}
	return inputs, rowErrors, nil
}

func mapHeader(header []string) map[string]int {
	index := make(map[string]int, len(header))
	for i, name := range header {
		key := strings.ToLower(strings.TrimSpace(name))
		key = strings.TrimPrefix(key, "\ufeff")
		key = strings.NewReplacer(" ", "_", "-", "_", ".", "", "%", "percent").Replace(key)
		key = strings.TrimSuffix(key, "_")
		if alias, ok := aliases[key]; ok {
			key = alias
		}
		if _, dup := index[key]; !dup {
			index[key] = i
		}
	}
	return index
}

func blankRecord(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func parseRow(record []string, index map[string]int) (store.DiamondInput, error) {
	get := func(name string) string {
		i, ok := index[name]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}
	number := func(name string) (decimal.Decimal, error) {
		raw := strings.ReplaceAll(get(name), ",", "")
		raw = strings.TrimSuffix(raw, "%")
		if raw == "" {
			return decimal.Zero, nil
		}
		d, err := money.ParseStrict(raw)
		if err != nil {
			return decimal.Zero, fmt.Errorf("%s %q is not a number", name, get(name))
		}
		return d, nil
	}

	carat, err := number("carat")
	if err != nil {
		return store.DiamondInput{}, err
	}
	rate, err := number("rap_rate")
	if err != nil {
		return store.DiamondInput{}, err
	}
	discount, err := number("discount_percent")
	if err != nil {
		return store.DiamondInput{}, err
	}
	// Supplier sheets often carry the rap discount as a negative number.
	discount = discount.Abs()

	in := store.DiamondInput{
		StockID:         get("stock_id"),
		Shape:           get("shape"),
		Carat:           carat,
		Color:           get("color"),
		Clarity:         get("clarity"),
		Cut:             get("cut"),
		Lab:             get("lab"),
		CertificateNo:   get("certificate_no"),
		RapRate:         rate,
		DiscountPercent: discount,
		Status:          get("status"),
		Notes:           get("notes"),
	}
	if raw := get("seller_id"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id <= 0 {
			return store.DiamondInput{}, fmt.Errorf("seller_id %q is not an id", raw)
		}
		in.SellerID = &id
	}
	return in, nil
}
