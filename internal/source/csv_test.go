package source

import (
	"strings"
	"testing"
)

func TestReadCSV(t *testing.T) {
	data := `txn_id,description,amount,txn_date
1,NETFLIX.COM,15.99,2026-01-03
2,"SPOTIFY, USA",9.99,2026-01-05
3,ACME WIDGETS,120.00,2026-01-07
`

	records, err := readCSV(strings.NewReader(data), "txn_id", "description")
	if err != nil {
		t.Fatalf("readCSV: %v", err)
	}

	if len(records) != 3 {
		t.Fatalf("record count = %d, want 3", len(records))
	}
	if records[0].ID != 1 || records[0].Text != "NETFLIX.COM" {
		t.Errorf("record 0 = %+v", records[0])
	}
	if records[1].Text != "SPOTIFY, USA" {
		t.Errorf("quoted field mishandled: %q", records[1].Text)
	}
	if got := records[0].Attr("amount"); got != "15.99" {
		t.Errorf("passthrough amount = %q, want 15.99", got)
	}
	if got := records[2].Attr("txn_date"); got != "2026-01-07" {
		t.Errorf("passthrough txn_date = %q, want 2026-01-07", got)
	}
}

func TestReadCSVMissingColumns(t *testing.T) {
	data := "a,b\n1,x\n"

	if _, err := readCSV(strings.NewReader(data), "txn_id", "b"); err == nil {
		t.Error("expected error for missing id column")
	}
	if _, err := readCSV(strings.NewReader(data), "a", "description"); err == nil {
		t.Error("expected error for missing text column")
	}
}

func TestReadCSVBadID(t *testing.T) {
	data := "id,text\nnot-a-number,hello\n"
	if _, err := readCSV(strings.NewReader(data), "id", "text"); err == nil {
		t.Error("expected error for non-numeric id")
	}
}
