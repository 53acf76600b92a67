package market

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Timestamp layouts accepted in bar files, tried in order.
var csvTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadBarsCSV reads one bar series from a CSV file with columns
// timestamp,open,high,low,close,volume (header row optional).
func LoadBarsCSV(path string) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open bars file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	bars := make([]Bar, 0, len(records))
	for i, rec := range records {
		if len(rec) < 6 {
			return nil, fmt.Errorf("%s line %d: want 6 columns, got %d", path, i+1, len(rec))
		}
		if i == 0 && isHeader(rec) {
			continue
		}
		ts, err := parseCSVTime(rec[0])
		if err != nil {
			return nil, fmt.Errorf("%s line %d: %w", path, i+1, err)
		}
		vals := make([]float64, 5)
		for j := 1; j <= 5; j++ {
			v, err := strconv.ParseFloat(strings.TrimSpace(rec[j]), 64)
			if err != nil {
				return nil, fmt.Errorf("%s line %d col %d: %w", path, i+1, j+1, err)
			}
			vals[j-1] = v
		}
		bars = append(bars, Bar{
			Timestamp: ts,
			Open:      vals[0],
			High:      vals[1],
			Low:       vals[2],
			Close:     vals[3],
			Volume:    vals[4],
		})
	}
	return bars, nil
}

// LoadBarsDir loads <SYMBOL>.csv files from dir. With an empty symbol list it
// loads every .csv, using the uppercased file stem as the symbol.
func LoadBarsDir(dir string, symbols []string) (map[string][]Bar, error) {
	out := make(map[string][]Bar)

	if len(symbols) > 0 {
		for _, sym := range symbols {
			bars, err := LoadBarsCSV(filepath.Join(dir, sym+".csv"))
			if err != nil {
				return nil, err
			}
			out[sym] = bars
		}
		return out, nil
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read bars dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		sym := strings.ToUpper(strings.TrimSuffix(e.Name(), ".csv"))
		bars, err := LoadBarsCSV(filepath.Join(dir, e.Name()))
		if err != nil {
			return nil, err
		}
		out[sym] = bars
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no .csv bar files in %s", dir)
	}
	return out, nil
}

// ClipSeries trims every series to the [start, end] date window. Dates are
// YYYY-MM-DD; an empty bound leaves that side open. The end date is
// inclusive through its last second.
func ClipSeries(series map[string][]Bar, start, end string) map[string][]Bar {
	if start == "" && end == "" {
		return series
	}
	var from, to time.Time
	if t, err := time.Parse("2006-01-02", start); err == nil && start != "" {
		from = t
	}
	if t, err := time.Parse("2006-01-02", end); err == nil && end != "" {
		to = t.Add(24*time.Hour - time.Second)
	}

	out := make(map[string][]Bar, len(series))
	for sym, bars := range series {
		clipped := make([]Bar, 0, len(bars))
		for _, b := range bars {
			if !from.IsZero() && b.Timestamp.Before(from) {
				continue
			}
			if !to.IsZero() && b.Timestamp.After(to) {
				continue
			}
			clipped = append(clipped, b)
		}
		out[sym] = clipped
	}
	return out
}

func isHeader(rec []string) bool {
	first := strings.ToLower(strings.TrimSpace(rec[0]))
	return first == "timestamp" || first == "datetime" || first == "date" || first == "time"
}

func parseCSVTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range csvTimeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	// epoch seconds fallback
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
