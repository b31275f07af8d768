package builtin

import (
	"strings"
	"testing"
)

func TestStooqSymbol(t *testing.T) {
	cases := map[string]string{
		"AAPL":   "aapl.us",
		"msft":   "msft.us",
		" TSLA ": "tsla.us",
		"vod.uk": "vod.uk",
		"SAP.de": "sap.de",
	}
	for in, want := range cases {
		if got := stooqSymbol(in); got != want {
			t.Errorf("stooqSymbol(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestFormatQuote(t *testing.T) {
	row := []string{"aapl.us", "2025-06-02", "22:00:07", "229.0", "231.5", "228.1", "230.2", "51234567"}
	text, err := formatQuote(row)
	if err != nil {
		t.Fatalf("formatQuote: %v", err)
	}
	for _, want := range []string{"AAPL.US", "Open: 229.0", "Close: 230.2", "Volume: 51234567"} {
		if !strings.Contains(text, want) {
			t.Errorf("quote output missing %q:\n%s", want, text)
		}
	}
}

func TestFormatQuoteUnknownSymbol(t *testing.T) {
	row := []string{"xxxx.us", "N/D", "N/D", "N/D", "N/D", "N/D", "N/D", "N/D"}
	if _, err := formatQuote(row); err == nil {
		t.Fatal("N/D quote should be an error")
	}
}

func TestFormatHistoryTruncates(t *testing.T) {
	rows := [][]string{
		{"Date", "Open", "High", "Low", "Close", "Volume"},
		{"2025-05-28", "1", "2", "1", "2", "100"},
		{"2025-05-29", "2", "3", "2", "3", "200"},
		{"2025-05-30", "3", "4", "3", "4", "300"},
	}
	text := formatHistory("aapl", rows, 2)
	if strings.Contains(text, "2025-05-28") {
		t.Error("history not truncated to the newest rows")
	}
	if !strings.Contains(text, "2025-05-29") || !strings.Contains(text, "2025-05-30") {
		t.Errorf("history missing expected rows:\n%s", text)
	}
}

func TestMarketDataToolDefs(t *testing.T) {
	m := NewMarketData()
	defs := m.ToolDefs()
	if len(defs) != 2 {
		t.Fatalf("got %d tool defs, want 2", len(defs))
	}
	names := map[string]bool{}
	for _, def := range defs {
		names[def.Name] = true
	}
	if !names["stock_quote"] || !names["stock_history"] {
		t.Errorf("unexpected tool names: %v", names)
	}
}
