package backfill

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// Row is one historical sale line as found in a branch ledger export.
type Row struct {
	Line          int              `json:"line"`
	BranchID      int64            `json:"branch_id"`
	DateSold      time.Time        `json:"date_sold"`
	BuyerName     string           `json:"buyer_name,omitempty"`
	BuyerAddress  string           `json:"buyer_address,omitempty"`
	DRNo          string           `json:"dr_no,omitempty"`
	SINo          string           `json:"si_no,omitempty"`
	Brand         string           `json:"brand,omitempty"`
	ModelText     string           `json:"model"`
	EngineNo      string           `json:"engine_no,omitempty"`
	ChassisNo     string           `json:"chassis_no,omitempty"`
	Color         string           `json:"color,omitempty"`
	UnitPrice     decimal.Decimal  `json:"unit_price"`
	Total         *decimal.Decimal `json:"total,omitempty"`
	PaymentMethod string           `json:"payment_method,omitempty"`
	Category      string           `json:"category,omitempty"`
	// Err holds a parse failure; the importer reports such rows as failed.
	Err error `json:"-"`
}

// ErrMissingColumns is returned when the header lacks branch, date or model.
var ErrMissingColumns = errors.New("backfill: missing required columns (need branch, date, model)")

var columnAliases = map[string]string{
	"branch":         "branch",
	"branch_id":      "branch",
	"branch_no":      "branch",
	"date":           "date",
	"date_sold":      "date",
	"sold_date":      "date",
	"buyer":          "buyer",
	"buyer_name":     "buyer",
	"customer":       "buyer",
	"customer_name":  "buyer",
	"address":        "address",
	"buyer_address":  "address",
	"dr":             "dr",
	"dr_no":          "dr",
	"dr_number":      "dr",
	"si":             "si",
	"si_no":          "si",
	"si_number":      "si",
	"brand":          "brand",
	"make":           "brand",
	"model":          "model",
	"unit":           "model",
	"description":    "model",
	"engine":         "engine",
	"engine_no":      "engine",
	"engine_number":  "engine",
	"chassis":        "chassis",
	"chassis_no":     "chassis",
	"chassis_number": "chassis",
	"frame_no":       "chassis",
	"color":          "color",
	"colour":         "color",
	"price":          "price",
	"unit_price":     "price",
	"selling_price":  "price",
	"total":          "total",
	"total_amount":   "total",
	"amount":         "total",
	"payment":        "payment",
	"payment_method": "payment",
	"terms":          "payment",
	"category":       "category",
}

var dateLayouts = []string{
	"2006-01-02",
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
	"01-02-06",
	"Jan 2, 2006",
	"January 2, 2006",
	"02-Jan-06",
	"2-Jan-2006",
	time.RFC3339,
}

// ReadCSV parses a comma separated export. Blank and "#" comment lines are ignored.
func ReadCSV(r io.Reader) ([]Row, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1
	var (
		records [][]string
		lines   []int
	)
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("backfill: read csv: %w", err)
		}
		if blankRecord(record) {
			continue
		}
		line, _ := reader.FieldPos(0)
		records = append(records, record)
		lines = append(lines, line)
	}
	return parseRecords(records, lines)
}

// ReadXLSX parses one worksheet of a workbook. A blank sheet name selects the first sheet.
func ReadXLSX(r io.Reader, sheet string) ([]Row, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("backfill: open workbook: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	if sheet == "" {
		sheets := f.GetSheetList()
		if len(sheets) == 0 {
			return nil, fmt.Errorf("backfill: workbook has no sheets")
		}
		sheet = sheets[0]
	}
	all, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("backfill: read sheet %q: %w", sheet, err)
	}
	var (
		records [][]string
		lines   []int
	)
	for i, record := range all {
		if blankRecord(record) {
			continue
		}
		records = append(records, record)
		lines = append(lines, i+1)
	}
	return parseRecords(records, lines)
}

func parseRecords(records [][]string, lines []int) ([]Row, error) {
	if len(records) == 0 {
		return nil, nil
	}
	index := map[string]int{}
	for i, col := range records[0] {
		key := strings.ToLower(strings.TrimSpace(col))
		key = strings.NewReplacer(" ", "_", ".", "", "#", "no").Replace(key)
		if canonical, ok := columnAliases[key]; ok {
			if _, dup := index[canonical]; !dup {
				index[canonical] = i
			}
		}
	}
	for _, required := range []string{"branch", "date", "model"} {
		if _, ok := index[required]; !ok {
			return nil, ErrMissingColumns
		}
	}

	rows := make([]Row, 0, len(records)-1)
	for i, record := range records[1:] {
		get := func(col string) string {
			idx, ok := index[col]
			if !ok || idx >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[idx])
		}
		row := Row{
			Line:          lines[i+1],
			BuyerName:     get("buyer"),
			BuyerAddress:  get("address"),
			DRNo:          get("dr"),
			SINo:          get("si"),
			Brand:         get("brand"),
			ModelText:     get("model"),
			EngineNo:      get("engine"),
			ChassisNo:     get("chassis"),
			Color:         get("color"),
			PaymentMethod: get("payment"),
			Category:      get("category"),
		}
		row.Err = parseRowFields(&row, get)
		rows = append(rows, row)
	}
	return rows, nil
}

func parseRowFields(row *Row, get func(string) string) error {
	branch, err := strconv.ParseInt(get("branch"), 10, 64)
	if err != nil || branch <= 0 {
		return fmt.Errorf("invalid branch %q", get("branch"))
	}
	row.BranchID = branch

	date, err := ParseDate(get("date"))
	if err != nil {
		return err
	}
	row.DateSold = date

	if row.ModelText == "" {
		return fmt.Errorf("model is blank")
	}
	if raw := get("price"); raw != "" {
		price, err := ParseAmount(raw)
		if err != nil {
			return fmt.Errorf("invalid price %q", raw)
		}
		row.UnitPrice = price
	}
	if raw := get("total"); raw != "" {
		total, err := ParseAmount(raw)
		if err != nil {
			return fmt.Errorf("invalid total %q", raw)
		}
		row.Total = &total
	}
	return nil
}

// ParseDate accepts the date spellings seen in branch ledgers.
func ParseDate(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date %q", raw)
}

// ParseAmount strips currency symbols and thousands separators.
func ParseAmount(raw string) (decimal.Decimal, error) {
	cleaned := strings.NewReplacer("₱", "", "PHP", "", "Php", "", ",", "", " ", "").Replace(strings.TrimSpace(raw))
	if cleaned == "" || cleaned == "-" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(cleaned)
}

func blankRecord(record []string) bool {
	for _, field := range record {
		trimmed := strings.TrimSpace(field)
		if trimmed != "" && !strings.HasPrefix(trimmed, "#") {
			return false
		}
	}
	return true
}
