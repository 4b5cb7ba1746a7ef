package tle

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// LineLength is the fixed width of a TLE line including the checksum column.
const LineLength = 69

var (
	ErrEmptyLine         = errors.New("empty TLE line")
	ErrLineTooShort      = errors.New("TLE line too short")
	ErrInvalidLineNumber = errors.New("invalid TLE line number")
	ErrCatalogMismatch   = errors.New("catalog number mismatch between lines")
	ErrInvalidChecksum   = errors.New("invalid TLE checksum")
	ErrInvalidField      = errors.New("invalid TLE field")
	ErrNotFound          = errors.New("element set not found")
)

// catalogPattern extracts the catalog number from columns 3-7. The first
// character may be a letter for Alpha-5 numbers.
var catalogPattern = regexp.MustCompile(`^[12] ([0-9A-Z][0-9 ]{4})`)

// Checksum computes the mod-10 checksum over the first 68 columns of a line.
// Digits add their value, '-' adds one, everything else adds nothing.
func Checksum(line string) int {
	n := len(line)
	if n > LineLength-1 {
		n = LineLength - 1
	}
	sum := 0
	for i := 0; i < n; i++ {
		c := line[i]
		switch {
		case c >= '0' && c <= '9':
			sum += int(c - '0')
		case c == '-':
			sum++
		}
	}
	return sum % 10
}

// Validate checks both lines of an element set: presence, width, leading
// line numbers, matching catalog numbers and both checksums.
func Validate(line1, line2 string) error {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")

	if line1 == "" || line2 == "" {
		return ErrEmptyLine
	}
	if len(line1) < LineLength {
		return fmt.Errorf("%w: line1 length %d, need %d", ErrLineTooShort, len(line1), LineLength)
	}
	if len(line2) < LineLength {
		return fmt.Errorf("%w: line2 length %d, need %d", ErrLineTooShort, len(line2), LineLength)
	}
	if line1[0] != '1' {
		return fmt.Errorf("%w: line1 starts with %q", ErrInvalidLineNumber, line1[0])
	}
	if line2[0] != '2' {
		return fmt.Errorf("%w: line2 starts with %q", ErrInvalidLineNumber, line2[0])
	}

	cat1 := catalogPattern.FindStringSubmatch(line1)
	cat2 := catalogPattern.FindStringSubmatch(line2)
	if cat1 == nil || cat2 == nil {
		return fmt.Errorf("%w: catalog number not found", ErrInvalidField)
	}
	if cat1[1] != cat2[1] {
		return fmt.Errorf("%w: %q vs %q", ErrCatalogMismatch, cat1[1], cat2[1])
	}

	if err := checkLine(line1); err != nil {
		return fmt.Errorf("line1: %w", err)
	}
	if err := checkLine(line2); err != nil {
		return fmt.Errorf("line2: %w", err)
	}
	return nil
}

// Valid reports whether the two lines form a valid element set.
func Valid(line1, line2 string) bool {
	return Validate(line1, line2) == nil
}

func checkLine(line string) error {
	last := line[LineLength-1]
	if last < '0' || last > '9' {
		return fmt.Errorf("%w: checksum column %q is not a digit", ErrInvalidChecksum, last)
	}
	if want, got := int(last-'0'), Checksum(line); want != got {
		return fmt.Errorf("%w: computed %d, stored %d", ErrInvalidChecksum, got, want)
	}
	return nil
}

// NewRecord validates the lines and extracts the catalog number and epoch.
func NewRecord(name, line1, line2 string) (Record, error) {
	line1 = strings.TrimRight(line1, "\r\n ")
	line2 = strings.TrimRight(line2, "\r\n ")
	if err := Validate(line1, line2); err != nil {
		return Record{}, err
	}

	noradID, err := parseCatalogNumber(strings.TrimSpace(line1[2:7]))
	if err != nil {
		return Record{}, err
	}

	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return Record{}, fmt.Errorf("%w: epoch: %v", ErrInvalidField, err)
	}

	return Record{
		NORADID: noradID,
		Name:    strings.TrimSpace(name),
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// alpha5 maps the leading letter of an Alpha-5 catalog number to its
// numeric prefix. I and O are skipped.
const alpha5 = "ABCDEFGHJKLMNPQRSTUVWXYZ"

func parseCatalogNumber(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty catalog number", ErrInvalidField)
	}
	if c := s[0]; c >= 'A' && c <= 'Z' {
		idx := strings.IndexByte(alpha5, c)
		if idx < 0 || len(s) != 5 {
			return 0, fmt.Errorf("%w: bad Alpha-5 catalog number %q", ErrInvalidField, s)
		}
		rest, err := strconv.Atoi(s[1:])
		if err != nil {
			return 0, fmt.Errorf("%w: bad Alpha-5 catalog number %q", ErrInvalidField, s)
		}
		return (idx+10)*10000 + rest, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("%w: catalog number %q", ErrInvalidField, s)
	}
	return n, nil
}
