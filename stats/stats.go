// Package stats turns the backend's flat (label, count) statistics into the
// ranked views the dashboard renders. Everything here is pure.
package stats

import (
	"sort"
	"strings"
)

// NoCode is the code reported for labels without a "(CODE)" suffix.
const NoCode = "N/A"

// Record is one (label, count) pair. Label encodes "Name (CODE)".
type Record struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

// Ranked is a Record after parsing and descending sort by count.
type Ranked struct {
	Rank  int    `json:"rank"`
	Name  string `json:"name"`
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// ParseLabel splits "Widget A (W123)" into ("Widget A", "W123").
// The name is the trimmed text before the first '('; the code is the text
// after it with a trailing ')' removed. Without '(' the code is NoCode.
func ParseLabel(label string) (name, code string) {
	i := strings.Index(label, "(")
	if i < 0 {
		return strings.TrimSpace(label), NoCode
	}
	name = strings.TrimSpace(label[:i])
	code = strings.TrimSuffix(strings.TrimSpace(label[i+1:]), ")")
	return name, strings.TrimSpace(code)
}

// Pair zips the parallel label/count arrays. When the arrays differ in
// length the extra entries are dropped; dropped reports how many.
func Pair(labels []string, counts []int) (records []Record, dropped int) {
	n := len(labels)
	if len(counts) < n {
		n = len(counts)
	}
	records = make([]Record, n)
	for i := 0; i < n; i++ {
		records[i] = Record{Label: labels[i], Count: counts[i]}
	}
	return records, len(labels) + len(counts) - 2*n
}

// Rank sorts all records by count descending, keeping input order for equal
// counts, and returns at most limit of them with 1-based ranks.
func Rank(records []Record, limit int) []Ranked {
	if limit <= 0 || len(records) == 0 {
		return []Ranked{}
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Count > sorted[j].Count
	})

	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	out := make([]Ranked, len(sorted))
	for i, r := range sorted {
		name, code := ParseLabel(r.Label)
		out[i] = Ranked{Rank: i + 1, Name: name, Code: code, Count: r.Count}
	}
	return out
}

// Total is the sum of all counts.
func Total(records []Record) int {
	total := 0
	for _, r := range records {
		total += r.Count
	}
	return total
}

// Count is the number of records.
func Count(records []Record) int {
	return len(records)
}
