package ingestion

import (
	"errors"
	"testing"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/encoding/charmap"
)

func TestReadTableCSVStripsBOMAndBlanks(t *testing.T) {
	data := "\xEF\xBB\xBFContainer No,Carrier,  ETA \nMSKU1234567,Maersk,\n,,\nTGHU7654321,,2024-03-01\n"

	table, err := ReadTable("carrier.csv", []byte(data))
	if err != nil {
		t.Fatalf("read table returned error: %v", err)
	}

	if got := table.Headers; len(got) != 3 || got[0] != "Container No" || got[2] != "ETA" {
		t.Fatalf("unexpected headers: %#v", got)
	}
	if len(table.Rows) != 2 {
		t.Fatalf("expected 2 data rows, got %d", len(table.Rows))
	}
	if _, ok := table.Rows[0]["ETA"]; ok {
		t.Fatalf("blank cell should be absent, got %#v", table.Rows[0])
	}
	if table.Rows[1]["ETA"] != "2024-03-01" {
		t.Fatalf("unexpected eta: %#v", table.Rows[1]["ETA"])
	}
}

func TestReadTableDisambiguatesHeaders(t *testing.T) {
	table, err := ReadTable("dup.csv", []byte("Date,Date,\n1,2,3\n"))
	if err != nil {
		t.Fatalf("read table returned error: %v", err)
	}
	want := []string{"Date", "Date_2", "column_3"}
	for i, h := range want {
		if table.Headers[i] != h {
			t.Fatalf("header %d: want %q, got %q", i, h, table.Headers[i])
		}
	}
}

func TestReadTableDecodesLegacyCharset(t *testing.T) {
	encoded, err := charmap.Windows1252.NewEncoder().String("Container;Consignee\nMSKU1234567;Müller GmbH\n")
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	table, err := ReadTable("legacy.csv", []byte(encoded))
	if err != nil {
		t.Fatalf("read table returned error: %v", err)
	}
	if table.Rows[0]["Consignee"] != "Müller GmbH" {
		t.Fatalf("unexpected consignee: %#v", table.Rows[0]["Consignee"])
	}
}

func TestReadTableExcelFirstSheet(t *testing.T) {
	f := excelize.NewFile()
	sheet := f.GetSheetName(0)
	_ = f.SetSheetRow(sheet, "A1", &[]any{"Container", "ATA"})
	_ = f.SetSheetRow(sheet, "A2", &[]any{"MSKU1234567", 45292})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("write xlsx: %v", err)
	}

	table, err := ReadTable("report.xlsx", buf.Bytes())
	if err != nil {
		t.Fatalf("read table returned error: %v", err)
	}
	if len(table.Rows) != 1 || table.Rows[0]["ATA"] != "45292" {
		t.Fatalf("unexpected rows: %#v", table.Rows)
	}
}

func TestReadTableRejectsUnknownFormat(t *testing.T) {
	_, err := ReadTable("data.pdf", []byte("x"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestTableLimit(t *testing.T) {
	table := Table{Headers: []string{"a"}, Rows: []map[string]any{{"a": "1"}, {"a": "2"}, {"a": "3"}}}
	if got := len(table.Limit(2).Rows); got != 2 {
		t.Fatalf("expected 2 rows, got %d", got)
	}
	if got := len(table.Limit(0).Rows); got != 3 {
		t.Fatalf("expected all rows, got %d", got)
	}
}
