package rule

import "fmt"

// Source records where an issue came from. It is provenance, not identity.
type Source string

const (
	SourceBuiltIn  Source = "BUILT_IN"
	SourceExternal Source = "EXTERNAL"
)

// LineRange is a span in a source file. Lines are 1-based, offsets are
// 0-based columns, and the end position is exclusive.
type LineRange struct {
	StartLine   int `json:"startLine"`
	StartOffset int `json:"startLineOffset"`
	EndLine     int `json:"endLine"`
	EndOffset   int `json:"endLineOffset"`
}

// Validate rejects ranges that run backwards or start before line 1.
func (r LineRange) Validate() error {
	if r.StartLine < 1 || r.EndLine < 1 {
		return fmt.Errorf("line range %v: lines must be >= 1", r)
	}
	if r.StartOffset < 0 || r.EndOffset < 0 {
		return fmt.Errorf("line range %v: offsets must be >= 0", r)
	}
	if r.EndLine < r.StartLine || (r.EndLine == r.StartLine && r.EndOffset < r.StartOffset) {
		return fmt.Errorf("line range %v: end precedes start", r)
	}
	return nil
}

func (r LineRange) String() string {
	return fmt.Sprintf("(%d:%d,%d:%d)", r.StartLine, r.StartOffset, r.EndLine, r.EndOffset)
}

// Location points at a range inside one file.
type Location struct {
	FileName string    `json:"fileName"`
	FilePath string    `json:"filePath"`
	Range    LineRange `json:"range"`
}

// Validate checks the location carries a file and a sane range.
func (l Location) Validate() error {
	if l.FilePath == "" {
		return fmt.Errorf("location %s: missing file path", l.Range)
	}
	return l.Range.Validate()
}

// Issue is one finding. Issues are values and are never mutated after
// analysis, only filtered or serialized.
type Issue struct {
	Rule     Rule     `json:"rule"`
	Source   Source   `json:"source"`
	Location Location `json:"location"`
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s%s %s", i.Rule.ID, i.Location.FileName, i.Location.Range, i.Rule.Description)
}
