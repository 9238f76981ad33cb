// Package results keeps the append-only robustness results table.
package results

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Header is the column layout of the results file. The leading empty column
// carries the row index.
var Header = []string{"", "Model", "Attacker", "Epsilon", "Test_acc", "Test_att_acc"}

// Row is one (architecture, epsilon) evaluation.
type Row struct {
	Model      string
	Attacker   string
	Epsilon    float64
	TestAcc    float64
	TestAttAcc float64
}

// Table appends rows to a CSV file. It owns the row index counter, which
// starts after any data rows already in the file.
type Table struct {
	path   string
	next   int
	primed bool
}

// NewTable returns a Table backed by path. The file is not touched until
// the first Append or NextIndex.
func NewTable(path string) *Table {
	return &Table{path: path}
}

// Path returns the backing file.
func (t *Table) Path() string { return t.path }

// NextIndex returns the index the next appended row will get.
func (t *Table) NextIndex() (int, error) {
	if err := t.prime(); err != nil {
		return 0, err
	}
	return t.next, nil
}

// Append writes rows, preceded by the header only when the file does not
// exist yet.
func (t *Table) Append(rows []Row) error {
	if err := t.prime(); err != nil {
		return err
	}
	_, err := os.Stat(t.path)
	writeHeader := errors.Is(err, fs.ErrNotExist)
	if err != nil && !writeHeader {
		return fmt.Errorf("stat results: %w", err)
	}
	if dir := filepath.Dir(t.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create results dir: %w", err)
		}
	}
	f, err := os.OpenFile(t.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(Header); err != nil {
			return err
		}
	}
	for _, r := range rows {
		record := []string{
			strconv.Itoa(t.next),
			r.Model,
			r.Attacker,
			FormatEpsilon(r.Epsilon),
			formatFloat(r.TestAcc),
			formatFloat(r.TestAttAcc),
		}
		if err := w.Write(record); err != nil {
			return err
		}
		t.next++
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	return f.Close()
}

// prime counts the data rows already present the first time it runs.
func (t *Table) prime() error {
	if t.primed {
		return nil
	}
	f, err := os.Open(t.path)
	if errors.Is(err, fs.ErrNotExist) {
		t.primed = true
		return nil
	}
	if err != nil {
		return fmt.Errorf("open results: %w", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		if len(scanner.Bytes()) > 0 {
			lines++
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scan results: %w", err)
	}
	if lines > 0 {
		t.next = lines - 1
	}
	t.primed = true
	return nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// FormatEpsilon renders eps with the shortest exact digits but always keeps
// a fractional part, so 0 is "0.0" and 0.2 is "0.2".
func FormatEpsilon(eps float64) string {
	s := formatFloat(eps)
	if !strings.ContainsAny(s, ".NI") {
		s += ".0"
	}
	return s
}

// ReadAll parses every data row of the results file at path.
func ReadAll(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	records, err := csv.NewReader(f).ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	rows := make([]Row, 0, len(records)-1)
	for i, rec := range records[1:] {
		if len(rec) != len(Header) {
			return nil, fmt.Errorf("results line %d: %d columns", i+2, len(rec))
		}
		var row Row
		row.Model, row.Attacker = rec[1], rec[2]
		for j, dst := range []*float64{&row.Epsilon, &row.TestAcc, &row.TestAttAcc} {
			if *dst, err = strconv.ParseFloat(rec[3+j], 64); err != nil {
				return nil, fmt.Errorf("results line %d: %w", i+2, err)
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
