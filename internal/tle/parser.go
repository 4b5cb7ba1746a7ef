package tle

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// ParseBatch reads NORAD element sets from r. Groups may be three lines
// (name, line 1, line 2) or two lines without a name. Malformed groups are
// skipped with a warning; only read errors fail the batch.
func ParseBatch(r io.Reader, logger *slog.Logger) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var records []Record
	for i := 0; i < len(lines); {
		var name, line1, line2 string
		switch {
		case i+1 < len(lines) && isLine(lines[i], '1') && isLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isLine(lines[i+1], '1') && isLine(lines[i+2], '2'):
			name, line1, line2 = lines[i], lines[i+1], lines[i+2]
			i += 3
		default:
			// Resynchronise on the next line.
			logger.Warn("skipping malformed TLE entry", "line_index", i, "line", truncate(lines[i], 24))
			i++
			continue
		}

		rec, err := NewRecord(name, line1, line2)
		if err != nil {
			logger.Warn("skipping invalid TLE entry", "name", strings.TrimSpace(name), "error", err)
			continue
		}
		records = append(records, rec)
	}

	return records, nil
}

// gpRecord is the subset of a CelesTrak GP JSON record that carries the
// element set as TLE lines.
type gpRecord struct {
	ObjectName string `json:"OBJECT_NAME"`
	NoradCatID int    `json:"NORAD_CAT_ID"`
	Line1      string `json:"TLE_LINE1"`
	Line2      string `json:"TLE_LINE2"`
}

// ParseJSON decodes a JSON array of GP records. Entries without valid TLE
// lines, or whose catalog number disagrees with the lines, are skipped.
func ParseJSON(data []byte, logger *slog.Logger) ([]Record, error) {
	var raw []gpRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decoding GP JSON: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for i, gp := range raw {
		rec, err := NewRecord(gp.ObjectName, gp.Line1, gp.Line2)
		if err != nil {
			logger.Warn("skipping invalid GP record", "index", i, "name", gp.ObjectName, "error", err)
			continue
		}
		if gp.NoradCatID != 0 && gp.NoradCatID != rec.NORADID {
			logger.Warn("skipping GP record with mismatched catalog number",
				"index", i, "norad_cat_id", gp.NoradCatID, "line_norad_id", rec.NORADID)
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

// Parse detects the payload format from its first non-space byte and
// dispatches to ParseJSON or ParseBatch.
func Parse(data []byte, logger *slog.Logger) ([]Record, error) {
	trimmed := strings.TrimLeft(string(data), " \t\r\n")
	if strings.HasPrefix(trimmed, "[") {
		return ParseJSON(data, logger)
	}
	return ParseBatch(strings.NewReader(string(data)), logger)
}

func isLine(s string, n byte) bool {
	return len(s) >= 2 && s[0] == n && s[1] == ' '
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// parseEpoch converts a TLE epoch string in YYDDD.DDDDDDDD format to time.Time.
// Year 00-56 → 2000s, 57-99 → 1900s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	yearStr := s[:2]
	dayStr := s[2:]

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", yearStr, err)
	}

	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	dayOfYear, err := strconv.ParseFloat(dayStr, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", dayStr, err)
	}
	if dayOfYear < 1 || dayOfYear >= 367 {
		return time.Time{}, fmt.Errorf("epoch day %v out of range", dayOfYear)
	}

	// dayOfYear is 1-based: day 1 = Jan 1.
	t := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	t = t.Add(time.Duration((dayOfYear - 1) * float64(24*time.Hour)))

	return t, nil
}
