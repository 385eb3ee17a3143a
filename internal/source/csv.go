// Package source loads record batches from external collaborators: CSV
// files and Postgres tables.
package source

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/specific-affinity/affinity/internal/engine"
)

// ReadCSV loads records from a CSV file with a header row. The id and text
// columns are required; every other column becomes a passthrough attribute.
func ReadCSV(path, idField, textField string) ([]engine.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return readCSV(f, idField, textField)
}

func readCSV(r io.Reader, idField, textField string) ([]engine.Record, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	idCol, textCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(name) {
		case idField:
			idCol = i
		case textField:
			textCol = i
		}
	}
	if idCol < 0 {
		return nil, fmt.Errorf("id column %q not found in CSV header %v", idField, header)
	}
	if textCol < 0 {
		return nil, fmt.Errorf("text column %q not found in CSV header %v", textField, header)
	}

	var records []engine.Record
	line := 1
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV row: %w", err)
		}
		line++

		id, err := strconv.ParseInt(strings.TrimSpace(row[idCol]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: invalid record id %q: %w", line, row[idCol], err)
		}

		rec := engine.Record{ID: id, Text: row[textCol]}
		for i, val := range row {
			if i == idCol || i == textCol || i >= len(header) {
				continue
			}
			if rec.Attrs == nil {
				rec.Attrs = make(map[string]string)
			}
			rec.Attrs[strings.TrimSpace(header[i])] = val
		}
		records = append(records, rec)
	}
	return records, nil
}
