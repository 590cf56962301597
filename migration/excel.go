package migration

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Chunk payload formats. File sources upload xlsx or csv; server-side
// extraction materializes "rows" chunks (JSON pages of already-keyed rows).
const (
	ChunkFormatXlsx = "xlsx"
	ChunkFormatCsv  = "csv"
	ChunkFormatRows = "rows"
)

func IsSupportedChunkFormat(format string) bool {
	switch format {
	case ChunkFormatXlsx, ChunkFormatCsv, ChunkFormatRows:
		return true
	}
	return false
}

// DecodeChunkRows turns a raw chunk payload into keyed rows. For xlsx/csv the
// first row is the header; header cells are trimmed and lowercased so that
// "Kod", "KOD " and "kod" all map to the same column.
func DecodeChunkRows(format string, payload []byte) ([]RawRow, error) {
	switch format {
	case ChunkFormatXlsx:
		return decodeXlsxRows(payload)
	case ChunkFormatCsv:
		return decodeCsvRows(payload)
	case ChunkFormatRows:
		return decodeJsonRows(payload)
	}
	return nil, fmt.Errorf("unsupported chunk format %q", format)
}

func normalizeHeader(cell string) string {
	return strings.ToLower(strings.TrimSpace(cell))
}

func rowsFromTable(table [][]string) []RawRow {
	if len(table) == 0 {
		return nil
	}
	header := make([]string, len(table[0]))
	for i, cell := range table[0] {
		header[i] = normalizeHeader(cell)
	}

	rows := make([]RawRow, 0, len(table)-1)
	for _, line := range table[1:] {
		row := RawRow{}
		empty := true
		for i, cell := range line {
			if i >= len(header) || header[i] == "" {
				continue
			}
			row[header[i]] = cell
			if strings.TrimSpace(cell) != "" {
				empty = false
			}
		}
		// trailing blank spreadsheet rows are not data
		if empty {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func decodeXlsxRows(payload []byte) ([]RawRow, error) {
	f, err := excelize.OpenReader(bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("xlsx has no sheets")
	}
	// One chunk carries one entity type, so only the first sheet is read.
	table, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("read xlsx rows: %w", err)
	}
	return rowsFromTable(table), nil
}

func decodeCsvRows(payload []byte) ([]RawRow, error) {
	reader := csv.NewReader(bytes.NewReader(payload))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var table [][]string
	for {
		line, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv: %w", err)
		}
		table = append(table, line)
	}
	return rowsFromTable(table), nil
}

func decodeJsonRows(payload []byte) ([]RawRow, error) {
	var rows []RawRow
	if err := json.Unmarshal(payload, &rows); err != nil {
		return nil, fmt.Errorf("decode rows payload: %w", err)
	}
	return rows, nil
}

// EncodeRowsPayload is the inverse of decodeJsonRows, used when server-side
// extraction materializes a page of adapter rows into a chunk.
func EncodeRowsPayload(rows []RawRow) ([]byte, error) {
	return json.Marshal(rows)
}
