package linesource

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	errs "twcrawl/pkg/errors"
)

// ErrEndOfInput is returned once no further complete row is available
var ErrEndOfInput = errors.New("end of input")

// Row is one tweet record of the input log
type Row struct {
	// Line is the 1-based line number, which is also the number of lines
	// consumed once this row has been read
	Line      int64
	ItemID    string
	OwnerID   string
	Timestamp string
	Geo       string
}

// Reader reads tweet rows from an append-only CSV log. A line is only
// consumed once it is terminated by a newline, so a row that is still being
// written is never read half-way.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	line   int64
	ended  bool
}

// NewReader reads rows from r
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReader(r)}
}

// Open opens the log at path
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open input: %w", err)
	}
	rd := NewReader(f)
	rd.closer = f
	return rd, nil
}

// Close closes the underlying file when the reader was created with Open
func (rd *Reader) Close() error {
	if rd.closer == nil {
		return nil
	}
	err := rd.closer.Close()
	rd.closer = nil
	return err
}

// Line returns the number of lines consumed so far
func (rd *Reader) Line() int64 {
	return rd.line
}

// AdvanceTo discards lines until n lines have been consumed. Calling it again
// with the same n is a no-op. Moving backwards is an error, and input shorter
// than n lines returns an error wrapping ErrEndOfInput.
func (rd *Reader) AdvanceTo(n int64) error {
	if n < rd.line {
		return fmt.Errorf("cannot rewind from line %d to %d", rd.line, n)
	}
	for rd.line < n {
		if _, err := rd.readLine(); err != nil {
			return fmt.Errorf("advance to line %d stopped at %d: %w", n, rd.line, err)
		}
	}
	return nil
}

// ReadNext returns the next row. A row that does not parse is consumed and
// reported as a *errors.MalformedInputError.
func (rd *Reader) ReadNext() (Row, error) {
	text, err := rd.readLine()
	if err != nil {
		return Row{}, err
	}
	return parseRow(rd.line, text)
}

func (rd *Reader) readLine() (string, error) {
	if rd.ended {
		return "", ErrEndOfInput
	}

	text, err := rd.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			// a trailing fragment without newline is a row still being written
			rd.ended = true
			return "", ErrEndOfInput
		}
		return "", fmt.Errorf("failed to read input: %w", err)
	}

	text = strings.TrimRight(text, "\r\n")
	if len(strings.TrimSpace(text)) <= 1 {
		rd.ended = true
		return "", ErrEndOfInput
	}

	rd.line++
	return text, nil
}

func parseRow(line int64, text string) (Row, error) {
	cr := csv.NewReader(strings.NewReader(text))
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	fields, err := cr.Read()
	if err != nil {
		return Row{}, &errs.MalformedInputError{Line: line, Row: text, Reason: err.Error()}
	}
	if len(fields) < 2 {
		return Row{}, &errs.MalformedInputError{Line: line, Row: text, Reason: "fewer than 2 fields"}
	}

	row := Row{
		Line:    line,
		ItemID:  strings.TrimSpace(fields[0]),
		OwnerID: strings.TrimSpace(fields[1]),
	}
	if row.OwnerID == "" {
		return Row{}, &errs.MalformedInputError{Line: line, Row: text, Reason: "empty owner id"}
	}
	if len(fields) > 2 {
		row.Timestamp = fields[2]
	}
	if len(fields) > 3 {
		// unquoted geo payloads may have been split on their own commas
		row.Geo = strings.Join(fields[3:], ",")
	}
	return row, nil
}

// FormatRow renders a row the way it is appended to the log
func FormatRow(itemID, ownerID, timestamp, geo string) (string, error) {
	var b strings.Builder
	w := csv.NewWriter(&b)
	if err := w.Write([]string{itemID, ownerID, timestamp, geo}); err != nil {
		return "", err
	}
	w.Flush()
	return b.String(), w.Error()
}
