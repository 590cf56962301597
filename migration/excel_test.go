package migration

import (
	"testing"
)

func TestDecodeChunkRows_CsvHeadersAreNormalized(t *testing.T) {
	// header cells with stray whitespace and mixed case
	payload := []byte(" Kod ,AD\nC-1,Hirdavat\nC-2,Elektrik\n")
	rows, err := DecodeChunkRows(ChunkFormatCsv, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if rows[0]["kod"] != "C-1" || rows[0]["ad"] != "Hirdavat" {
		t.Fatalf("row 0 = %+v", rows[0])
	}
	if rows[1]["kod"] != "C-2" {
		t.Fatalf("row 1 = %+v", rows[1])
	}
}

func TestDecodeChunkRows_CsvSkipsBlankRows(t *testing.T) {
	payload := []byte("kod,ad\nC-1,Hirdavat\n,\nC-2,Elektrik\n")
	rows, err := DecodeChunkRows(ChunkFormatCsv, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2 (blank row must be dropped)", len(rows))
	}
}

func TestDecodeChunkRows_CsvRaggedRowsKeepRecognizedColumns(t *testing.T) {
	// second data row misses the trailing column; exports do this constantly
	payload := []byte("kod,ad,aciklama\nC-1,Hirdavat,genel\nC-2,Elektrik\n")
	rows, err := DecodeChunkRows(ChunkFormatCsv, payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("got %d rows, want 2", len(rows))
	}
	if _, ok := rows[1]["aciklama"]; ok {
		t.Fatalf("row 1 should not carry the missing column, got %+v", rows[1])
	}
}

func TestRowsPayload_RoundTrip(t *testing.T) {
	in := []RawRow{
		{"code": "P-1", "name": "Vida"},
		{"code": "P-2", "name": "Somun"},
	}
	payload, err := EncodeRowsPayload(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := DecodeChunkRows(ChunkFormatRows, payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(out) != 2 || out[0]["code"] != "P-1" || out[1]["name"] != "Somun" {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestDecodeChunkRows_UnsupportedFormat(t *testing.T) {
	if _, err := DecodeChunkRows("pdf", []byte("x")); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}

func TestIsSupportedChunkFormat(t *testing.T) {
	for _, format := range []string{ChunkFormatXlsx, ChunkFormatCsv, ChunkFormatRows} {
		if !IsSupportedChunkFormat(format) {
			t.Fatalf("%s must be supported", format)
		}
	}
	if IsSupportedChunkFormat("pdf") {
		t.Fatal("pdf must not be supported")
	}
}
