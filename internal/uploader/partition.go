package uploader

import (
	"strings"
)

// SplitRecords splits a raw newline-delimited stream into records.
// Carriage returns before the line break are dropped, and so are blank lines.
func SplitRecords(raw string) []string {
	if raw == "" {
		return nil
	}
	lines := strings.Split(raw, "\n")
	records := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSuffix(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		records = append(records, line)
	}
	return records
}

// Partition groups records into batches of at most size records, in order.
// The last batch may be shorter; an empty input yields no batches.
func Partition(records []string, size int) []RecordBatch {
	if size <= 0 || len(records) == 0 {
		return nil
	}

	out := make([]RecordBatch, 0, (len(records)+size-1)/size)
	idx := 0
	for start := 0; start < len(records); {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		out = append(out, RecordBatch{
			Index:   idx,
			Records: records[start:end:end],
		})
		idx++
		start = end
	}
	return out
}
