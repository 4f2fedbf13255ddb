package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// ErrMalformedCSV reports a file that cannot be read as market data.
var ErrMalformedCSV = errors.New("malformed market data csv")

var requiredColumns = []string{"symbol", "timestamp", "price"}

// LoadCSV reads market data from the file at path.
func LoadCSV(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	records, err := ReadCSV(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return records, nil
}

// ReadCSV parses market data. The first row is a header naming the columns
// symbol, timestamp, price and optionally volume, in any order and any case.
// UTF-8 and UTF-16 input with a byte order mark is accepted. Rows are
// returned in file order.
func ReadCSV(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(transform.NewReader(r, unicode.BOMOverride(unicode.UTF8.NewDecoder())))
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: empty input", ErrMalformedCSV)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: header: %w", ErrMalformedCSV, err)
	}
	cols, err := columnIndex(header)
	if err != nil {
		return nil, err
	}

	var out []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrMalformedCSV, err)
		}
		line, _ := cr.FieldPos(0)
		rec, err := parseRow(row, cols)
		if err != nil {
			return nil, fmt.Errorf("%w: line %d: %w", ErrMalformedCSV, line, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

type columns struct {
	symbol, timestamp, price, volume int
}

func columnIndex(header []string) (columns, error) {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := idx[name]; !ok {
			return columns{}, fmt.Errorf("%w: missing %q column", ErrMalformedCSV, name)
		}
	}
	c := columns{symbol: idx["symbol"], timestamp: idx["timestamp"], price: idx["price"], volume: -1}
	if v, ok := idx["volume"]; ok {
		c.volume = v
	}
	return c, nil
}

func parseRow(row []string, c columns) (Record, error) {
	field := func(i int) string {
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	rec := Record{Symbol: field(c.symbol)}
	if rec.Symbol == "" {
		return Record{}, errors.New("empty symbol")
	}
	ts, err := strconv.ParseInt(field(c.timestamp), 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp: %w", err)
	}
	rec.Timestamp = ts

	price, err := strconv.ParseFloat(field(c.price), 64)
	if err != nil {
		return Record{}, fmt.Errorf("price: %w", err)
	}
	if !(price > 0) || math.IsInf(price, 0) {
		return Record{}, fmt.Errorf("price %v must be positive", price)
	}
	rec.Price = price

	if v := field(c.volume); v != "" {
		vol, err := parseVolume(v)
		if err != nil {
			return Record{}, err
		}
		rec.Volume = vol
	}
	return rec, nil
}

// parseVolume accepts integral values written as floats ("1200.0").
func parseVolume(s string) (int64, error) {
	if v, err := strconv.ParseInt(s, 10, 64); err == nil {
		if v < 0 {
			return 0, fmt.Errorf("volume %d must not be negative", v)
		}
		return v, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("volume: %w", err)
	}
	if f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return 0, fmt.Errorf("volume %v must be a non-negative integer", f)
	}
	return int64(f), nil
}

// WriteCSV writes records with a symbol,timestamp,price,volume header.
func WriteCSV(w io.Writer, records []Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"symbol", "timestamp", "price", "volume"}); err != nil {
		return err
	}
	for _, r := range records {
		if err := cw.Write([]string{
			r.Symbol,
			strconv.FormatInt(r.Timestamp, 10),
			strconv.FormatFloat(r.Price, 'f', -1, 64),
			strconv.FormatInt(r.Volume, 10),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}
