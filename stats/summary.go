package stats

import "strings"

// Summary is the immutable view model of the products page.
type Summary struct {
	Products int      `json:"total_products"`
	Clients  int      `json:"total_clients"`
	Top      []Ranked `json:"top"`
	Chart    Chart    `json:"chart"`
}

// Chart carries the bar chart series, in rank order.
type Chart struct {
	Labels []string `json:"labels"`
	Data   []int    `json:"data"`
}

// Empty reports whether there is nothing to rank; callers render a
// placeholder row instead of a table.
func (s Summary) Empty() bool { return len(s.Top) == 0 }

// Summarize builds the products page view from the full record set.
func Summarize(records []Record, topN int) Summary {
	top := Rank(records, topN)
	chart := Chart{
		Labels: make([]string, len(top)),
		Data:   make([]int, len(top)),
	}
	for i, r := range top {
		chart.Labels[i] = r.Name
		chart.Data[i] = r.Count
	}
	return Summary{
		Products: Count(records),
		Clients:  Total(records),
		Top:      top,
		Chart:    chart,
	}
}

// Filter keeps the rows whose name or code contains term, ignoring case.
// An empty term keeps every row.
func Filter[T any](rows []T, term string, fields func(T) (name, code string)) []T {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return rows
	}
	out := make([]T, 0, len(rows))
	for _, row := range rows {
		name, code := fields(row)
		if strings.Contains(strings.ToLower(name), term) || strings.Contains(strings.ToLower(code), term) {
			out = append(out, row)
		}
	}
	return out
}
