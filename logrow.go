package netharness

//
// Structured event log loading
//

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// ErrMissingInputFile indicates that an input file does not exist.
var ErrMissingInputFile = errors.New("netharness: missing input file")

// ErrBadHeader indicates that a table lacks a mandatory column.
var ErrBadHeader = errors.New("netharness: bad table header")

// logTableColumns are the mandatory columns of a structured event log.
var logTableColumns = []string{"Timestamp", "NodeID", "Event", "Details"}

// openInput opens an input file mapping a nonexistent file
// to [ErrMissingInputFile].
func openInput(path string) (*os.File, error) {
	fp, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrMissingInputFile, path)
	}
	return fp, err
}

// columnIndex maps the header names to their position and fails with
// [ErrBadHeader] when a mandatory column is missing. Columns may
// appear in any order and extra columns are ignored.
func columnIndex(header []string, mandatory ...string) (map[string]int, error) {
	index := map[string]int{}
	for idx, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = idx
	}
	for _, name := range mandatory {
		if _, found := index[name]; !found {
			return nil, fmt.Errorf("%w: missing %q column", ErrBadHeader, name)
		}
	}
	return index, nil
}

// newTableReader returns a CSV reader tolerating ragged rows.
func newTableReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = false
	return reader
}

// ReadLogTable reads a structured event log from a CSV file. Malformed
// rows are skipped with a warning. The error wraps [ErrMissingInputFile]
// when the file does not exist and [ErrBadHeader] when the header lacks a
// mandatory column.
func ReadLogTable(logger Logger, path string) ([]LogRow, error) {
	fp, err := openInput(path)
	if err != nil {
		return nil, err
	}
	defer fp.Close()
	return ParseLogTable(logger, fp)
}

// ParseLogTable is like [ReadLogTable] but reads from an [io.Reader].
func ParseLogTable(logger Logger, r io.Reader) ([]LogRow, error) {
	reader := newTableReader(r)
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty table", ErrBadHeader)
		}
		return nil, err
	}
	index, err := columnIndex(header, logTableColumns...)
	if err != nil {
		return nil, err
	}

	out := []LogRow{}
	for line := 2; ; line++ {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !isMalformedRow(err) {
			return nil, fmt.Errorf("netharness: reading log table: %w", err)
		}
		if err != nil {
			logger.Warnf("netharness: log table line %d: %s", line, err.Error())
			continue
		}
		row, err := parseLogRecord(record, index)
		if err != nil {
			logger.Warnf("netharness: log table line %d: %s", line, err.Error())
			continue
		}
		out = append(out, row)
	}
	return out, nil
}

// isMalformedRow tells whether a CSV read error only concerns the current
// row, in which case the reader can continue with the next one.
func isMalformedRow(err error) bool {
	var parseErr *csv.ParseError
	return errors.As(err, &parseErr)
}

// parseLogRecord converts a CSV record into a [LogRow].
func parseLogRecord(record []string, index map[string]int) (LogRow, error) {
	field := func(name string) (string, error) {
		idx := index[name]
		if idx >= len(record) {
			return "", fmt.Errorf("missing %s field", name)
		}
		return strings.TrimSpace(record[idx]), nil
	}

	var row LogRow
	value, err := field("Timestamp")
	if err != nil {
		return row, err
	}
	if row.Timestamp, err = strconv.ParseFloat(value, 64); err != nil {
		return row, fmt.Errorf("invalid Timestamp: %w", err)
	}

	if value, err = field("NodeID"); err != nil {
		return row, err
	}
	if row.NodeID, err = strconv.Atoi(value); err != nil {
		return row, fmt.Errorf("invalid NodeID: %w", err)
	}

	if value, err = field("Event"); err != nil {
		return row, err
	}
	row.Event = LogEvent(value)

	// the details may legitimately be empty
	if value, err = field("Details"); err == nil {
		row.Details = value
	}
	return row, nil
}

// LoadLogTable is like [ReadLogTable] but degrades any failure to an
// empty table and a logged warning, so that extraction can proceed.
func LoadLogTable(logger Logger, path string) []LogRow {
	rows, err := ReadLogTable(logger, path)
	if err != nil {
		logger.Warnf("netharness: cannot load log table: %s", err.Error())
		return []LogRow{}
	}
	return rows
}
