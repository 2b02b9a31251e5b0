// Package rewrite applies span-based text edits to file content.
//
// Edits within one file are applied in a single right-to-left pass ordered
// by descending byte offset, so earlier substitutions never invalidate the
// offsets of later ones.
package rewrite

import (
	"fmt"
	"sort"

	"github.com/remodel-labs/remodel/pkg/tmd"
)

// Edit replaces one byte span of a file with new text.
type Edit struct {
	Span tmd.Span
	Text string
}

// ReferenceIntegrityError reports an edit set that cannot be applied
// safely: overlapping spans or a span outside the file. It aborts the
// batch; the transaction layer rolls the filesystem back.
type ReferenceIntegrityError struct {
	File    string
	Span    tmd.Span
	Message string
}

func (e *ReferenceIntegrityError) Error() string {
	return fmt.Sprintf("reference integrity violation in %s at [%d,%d): %s", e.File, e.Span.Start, e.Span.End, e.Message)
}

// Apply splices edits into content. The input edit slice is not modified.
func Apply(file, content string, edits []Edit) (string, error) {
	if len(edits) == 0 {
		return content, nil
	}

	sorted := make([]Edit, len(edits))
	copy(sorted, edits)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Span.Start > sorted[j].Span.Start
	})

	out := content
	prevStart := len(content) + 1
	for _, e := range sorted {
		if e.Span.Start < 0 || e.Span.End > len(content) || e.Span.Start > e.Span.End {
			return "", &ReferenceIntegrityError{File: file, Span: e.Span, Message: "edit span out of range"}
		}
		if e.Span.End > prevStart {
			return "", &ReferenceIntegrityError{File: file, Span: e.Span, Message: "overlapping edit spans"}
		}
		prevStart = e.Span.Start
		out = out[:e.Span.Start] + e.Text + out[e.Span.End:]
	}
	return out, nil
}
