package builtin

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/jmorgan/crucible/internal/llm"
	"github.com/jmorgan/crucible/internal/tools"
)

// MarketData exposes stock quotes and daily history from the Stooq CSV
// endpoints, which serve delayed market data without an API key.
type MarketData struct {
	quoteURL   string
	historyURL string
}

func NewMarketData() *MarketData {
	return &MarketData{
		quoteURL:   "https://stooq.com/q/l/",
		historyURL: "https://stooq.com/q/d/l/",
	}
}

var _ tools.Runtime = (*MarketData)(nil)

func (m *MarketData) Name() string { return "MarketDataTools" }

func (m *MarketData) ToolDefs() []llm.ToolDef {
	symbolParam := map[string]any{
		"type":        "string",
		"description": "Ticker symbol, e.g. AAPL or MSFT. US stocks are assumed unless an exchange suffix is given.",
	}
	return []llm.ToolDef{
		{
			Name:        "stock_quote",
			Description: "Get the latest quote for a stock symbol: open, high, low, close and volume.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{"symbol": symbolParam},
				"required":   []string{"symbol"},
			},
		},
		{
			Name:        "stock_history",
			Description: "Get recent daily price history for a stock symbol as a table of date, open, high, low, close, volume.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"symbol": symbolParam,
					"days": map[string]any{
						"type":        "integer",
						"description": "Number of most recent trading days to return (default 10, max 60)",
					},
				},
				"required": []string{"symbol"},
			},
		},
	}
}

func (m *MarketData) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	symbol, _ := args["symbol"].(string)
	if symbol == "" {
		return "error: 'symbol' is required", nil
	}
	switch name {
	case "stock_quote":
		return m.quote(ctx, symbol)
	case "stock_history":
		days := 10
		if v, ok := args["days"].(float64); ok && v > 0 {
			days = int(v)
		}
		if days > 60 {
			days = 60
		}
		return m.history(ctx, symbol, days)
	default:
		return "", &tools.UnknownToolError{ServerID: m.Name(), Tool: name}
	}
}

func (m *MarketData) Release() {}

// stooqSymbol normalizes a ticker for Stooq: bare US tickers get a .us
// suffix, symbols that already carry an exchange suffix pass through.
func stooqSymbol(symbol string) string {
	s := strings.ToLower(strings.TrimSpace(symbol))
	if !strings.Contains(s, ".") {
		s += ".us"
	}
	return s
}

func (m *MarketData) quote(ctx context.Context, symbol string) (string, error) {
	u := fmt.Sprintf("%s?s=%s&f=sd2t2ohlcv&h&e=csv", m.quoteURL, stooqSymbol(symbol))
	rows, err := m.fetchCSV(ctx, u)
	if err != nil {
		return "", err
	}
	if len(rows) < 2 {
		return "", fmt.Errorf("no quote data for %s", symbol)
	}
	text, err := formatQuote(rows[1])
	if err != nil {
		return "", fmt.Errorf("quote for %s: %w", symbol, err)
	}
	return text, nil
}

func (m *MarketData) history(ctx context.Context, symbol string, days int) (string, error) {
	u := fmt.Sprintf("%s?s=%s&i=d", m.historyURL, stooqSymbol(symbol))
	rows, err := m.fetchCSV(ctx, u)
	if err != nil {
		return "", err
	}
	if len(rows) < 2 {
		return "", fmt.Errorf("no history data for %s", symbol)
	}
	return formatHistory(symbol, rows, days), nil
}

func (m *MarketData) fetchCSV(ctx context.Context, url string) ([][]string, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Crucible/0.1")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("stooq request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("stooq returned %d", resp.StatusCode)
	}

	r := csv.NewReader(io.LimitReader(resp.Body, 1<<20))
	r.FieldsPerRecord = -1
	rows, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parsing stooq csv: %w", err)
	}
	return rows, nil
}

// formatQuote renders one data row of the quote endpoint, whose columns are
// Symbol,Date,Time,Open,High,Low,Close,Volume. Stooq reports "N/D" in every
// value column for unknown symbols.
func formatQuote(row []string) (string, error) {
	if len(row) < 8 {
		return "", fmt.Errorf("malformed quote row with %d columns", len(row))
	}
	if row[3] == "N/D" || row[6] == "N/D" {
		return "", fmt.Errorf("unknown symbol %s", row[0])
	}
	return fmt.Sprintf(
		"%s (%s %s)\nOpen: %s  High: %s  Low: %s  Close: %s\nVolume: %s",
		strings.ToUpper(row[0]), row[1], row[2], row[3], row[4], row[5], row[6], row[7],
	), nil
}

// formatHistory renders the last n data rows of the daily history endpoint
// (Date,Open,High,Low,Close,Volume), newest last.
func formatHistory(symbol string, rows [][]string, n int) string {
	data := rows[1:]
	if len(data) > n {
		data = data[len(data)-n:]
	}

	var sb strings.Builder
	sb.WriteString(strings.ToUpper(symbol) + " daily history\n")
	sb.WriteString("Date        Open      High      Low       Close     Volume\n")
	for _, row := range data {
		if len(row) < 6 {
			continue
		}
		sb.WriteString(fmt.Sprintf("%-11s %-9s %-9s %-9s %-9s %s\n",
			row[0], row[1], row[2], row[3], row[4], row[5]))
	}
	return sb.String()
}
