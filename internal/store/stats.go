package store

import (
	"bytes"

	"github.com/sourcegraph/go-diff/diff"
)

// DiffStats counts added and deleted lines for a history entry.
// Blobs that parse as unified diffs are counted from their hunks, a changed
// line counting once on each side. Other blobs are compared line by line
// against the previous content.
func DiffStats(previous, blob []byte) (additions, deletions int32) {
	if files, err := diff.ParseMultiFileDiff(blob); err == nil && len(files) > 0 {
		for _, f := range files {
			st := f.Stat()
			additions += st.Added + st.Changed
			deletions += st.Deleted + st.Changed
		}
		return additions, deletions
	}
	return lineDelta(previous, blob)
}

func lineDelta(previous, blob []byte) (additions, deletions int32) {
	counts := make(map[string]int32)
	for _, line := range splitLines(previous) {
		counts[string(line)]--
	}
	for _, line := range splitLines(blob) {
		counts[string(line)]++
	}
	for _, n := range counts {
		if n > 0 {
			additions += n
		} else {
			deletions -= n
		}
	}
	return additions, deletions
}

func splitLines(b []byte) [][]byte {
	if len(b) == 0 {
		return nil
	}
	return bytes.Split(bytes.TrimSuffix(b, []byte("\n")), []byte("\n"))
}
