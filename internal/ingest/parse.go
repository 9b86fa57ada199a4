package ingest

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// ParseTSV streams a tab-delimited extract row by row, calling fn with each
// row as a header-keyed map. The extracts run to hundreds of megabytes, so
// rows are never accumulated here.
func ParseTSV(path string, fn func(row map[string]string) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	return parseTSV(f, fn)
}

func parseTSV(r io.Reader, fn func(row map[string]string) error) error {
	br := bufio.NewReaderSize(r, 1<<20)
	stripBOM(br)

	cr := csv.NewReader(br)
	cr.Comma = '\t'
	cr.LazyQuotes = true
	cr.FieldsPerRecord = -1

	header, err := cr.Read()
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	for {
		record, err := cr.Read()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read record: %w", err)
		}

		row := make(map[string]string, len(header))
		for i, col := range header {
			if i < len(record) {
				row[col] = record[i]
			}
		}

		if err := fn(row); err != nil {
			return err
		}
	}
}

func stripBOM(br *bufio.Reader) {
	bom, err := br.Peek(3)
	if err == nil && bom[0] == 0xEF && bom[1] == 0xBB && bom[2] == 0xBF {
		_, _ = br.Discard(3)
	}
}

// SafeFloat coerces the money and count strings found in the extracts.
// Currency symbols, thousands separators and the various "no value" markers
// all resolve to the default.
func SafeFloat(val string, def float64) float64 {
	cleaned := strings.TrimSpace(val)
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimPrefix(cleaned, "£")

	switch cleaned {
	case "", "-", "N/A", "None":
		return def
	}

	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return def
	}
	return f
}

// SafeInt is SafeFloat truncated to an int.
func SafeInt(val string, def int) int {
	return int(SafeFloat(val, float64(def)))
}
