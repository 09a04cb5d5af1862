package netharness

//
// Numeric series loading
//

import (
	"fmt"
	"io"
	"strconv"
	"strings"
)

// ParseSeries parses whitespace delimited numbers. Lines starting
// with '#' are comments. Any invalid token fails the whole parse.
func ParseSeries(r io.Reader) ([]float64, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	out := []float64{}
	for lineno, line := range strings.Split(string(data), "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), "#") {
			continue
		}
		for _, token := range strings.FieldsFunc(line, isSeriesSeparator) {
			value, err := strconv.ParseFloat(token, 64)
			if err != nil {
				return nil, fmt.Errorf("line %d: invalid value %q", lineno+1, token)
			}
			out = append(out, value)
		}
	}
	return out, nil
}

// isSeriesSeparator returns whether r separates values in a series file.
func isSeriesSeparator(r rune) bool {
	switch r {
	case ' ', '\t', '\r', '\n', ',':
		return true
	default:
		return false
	}
}

// LoadSeries loads a numeric series from the given file. On failure, it
// logs a warning and returns a copy of fallback, or a single zero value
// when fallback is empty.
func LoadSeries(logger Logger, path string, fallback []float64) []float64 {
	defaultSeries := func() []float64 {
		if len(fallback) <= 0 {
			return []float64{0}
		}
		return append([]float64{}, fallback...)
	}
	fp, err := openInput(path)
	if err != nil {
		logger.Warnf("netharness: cannot load series: %s", err.Error())
		return defaultSeries()
	}
	defer fp.Close()
	values, err := ParseSeries(fp)
	if err != nil {
		logger.Warnf("netharness: cannot parse series %s: %s", path, err.Error())
		return defaultSeries()
	}
	return values
}

// ZeroSeries returns a zero-filled series of the given length.
func ZeroSeries(length int) []float64 {
	return make([]float64, max(length, 0))
}
