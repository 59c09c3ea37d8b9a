package provider

import (
	"context"
	"strings"

	"github.com/yairfalse/balscan/internal/project"
	"github.com/yairfalse/balscan/pkg/rule"
)

// Core rule numeric ids. These are a compatibility contract with external
// tooling and never change once released.
const (
	AvoidCheckpanic = 1
)

var coreRules = []rule.Rule{
	rule.New(rule.CoreIdentity(), AvoidCheckpanic, rule.KindCodeSmell, "Avoid checkpanic"),
}

// Core is the built-in provider.
type Core struct{}

// NewCore returns the built-in provider.
func NewCore() *Core {
	return &Core{}
}

func (c *Core) Identity() rule.Identity {
	return rule.CoreIdentity()
}

func (c *Core) Rules() []rule.Rule {
	out := make([]rule.Rule, len(coreRules))
	copy(out, coreRules)
	return out
}

func (c *Core) Analyze(ctx context.Context, p *project.Project, rules []rule.Rule) ([]rule.Issue, error) {
	var checkpanic *rule.Rule
	for i := range rules {
		if rules[i].NumericID == AvoidCheckpanic && rules[i].Qualifier() == rule.CoreQualifier {
			checkpanic = &rules[i]
		}
	}
	if checkpanic == nil {
		return nil, nil
	}

	var issues []rule.Issue
	for _, doc := range p.Documents {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		for _, r := range checkpanicRanges(doc.Content) {
			issues = append(issues, rule.Issue{
				Rule:   *checkpanic,
				Source: rule.SourceBuiltIn,
				Location: rule.Location{
					FileName: doc.Name,
					FilePath: doc.Path,
					Range:    r,
				},
			})
		}
	}
	return issues, nil
}

const checkpanicKeyword = "checkpanic"

// checkpanicRanges finds checkpanic expressions outside comments and
// string literals. A range ends at the terminating semicolon, or at the
// end of the line for expressions that continue.
func checkpanicRanges(content string) []rule.LineRange {
	var out []rule.LineRange
	for n, line := range strings.Split(content, "\n") {
		line = strings.TrimRight(line, "\r")
		inString := false
		for i := 0; i < len(line); i++ {
			switch {
			case line[i] == '"' && !escaped(line, i):
				inString = !inString
				continue
			case inString:
				continue
			case strings.HasPrefix(line[i:], "//"):
				i = len(line)
				continue
			}
			if !isKeywordAt(line, i, checkpanicKeyword) {
				continue
			}
			end := strings.IndexByte(line[i:], ';')
			if end < 0 {
				end = len(strings.TrimRight(line, " \t"))
			} else {
				end += i
			}
			out = append(out, rule.LineRange{
				StartLine:   n + 1,
				StartOffset: i,
				EndLine:     n + 1,
				EndOffset:   end,
			})
			i = end
		}
	}
	return out
}

// escaped reports whether the byte at i follows an odd run of backslashes.
func escaped(line string, i int) bool {
	n := 0
	for j := i - 1; j >= 0 && line[j] == '\\'; j-- {
		n++
	}
	return n%2 == 1
}

func isKeywordAt(line string, i int, kw string) bool {
	if !strings.HasPrefix(line[i:], kw) {
		return false
	}
	if i > 0 && isIdentByte(line[i-1]) {
		return false
	}
	after := i + len(kw)
	return after == len(line) || !isIdentByte(line[after])
}

func isIdentByte(b byte) bool {
	return b == '_' || b >= '0' && b <= '9' || b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z'
}
