package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/fatih/color"
	"gopkg.in/yaml.v3"

	"github.com/yairfalse/balscan/pkg/rule"
)

// Rule listing formats.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

var kindColors = map[rule.Kind]*color.Color{
	rule.KindCodeSmell:     color.New(color.FgYellow),
	rule.KindBug:           color.New(color.FgRed, color.Bold),
	rule.KindVulnerability: color.New(color.FgMagenta, color.Bold),
}

func colorKind(k rule.Kind, width int) string {
	text := fmt.Sprintf("%-*s", width, k)
	if c, ok := kindColors[k]; ok {
		return c.Sprint(text)
	}
	return text
}

// PrintRules renders rules in the given order.
func PrintRules(w io.Writer, rules []rule.Rule, format string) error {
	switch format {
	case "", FormatText:
		return printRulesText(w, rules)
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if rules == nil {
			rules = []rule.Rule{}
		}
		return enc.Encode(rules)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(rules); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("invalid format: %s (must be one of: %s, %s, %s)", format, FormatText, FormatJSON, FormatYAML)
	}
}

// Columns are padded by hand so color codes do not skew alignment.
func printRulesText(w io.Writer, rules []rule.Rule) error {
	idWidth, kindWidth := len("RULE ID"), len("KIND")
	for _, r := range rules {
		idWidth = max(idWidth, len(r.ID))
		kindWidth = max(kindWidth, len(r.Kind))
	}

	var b strings.Builder
	b.WriteString("Loaded scanner rules:\n")
	fmt.Fprintf(&b, "  %-*s  %-*s  %s\n", idWidth, "RULE ID", kindWidth, "KIND", "DESCRIPTION")
	fmt.Fprintf(&b, "  %s  %s  %s\n",
		strings.Repeat("-", idWidth), strings.Repeat("-", kindWidth), strings.Repeat("-", len("DESCRIPTION")))
	for _, r := range rules {
		fmt.Fprintf(&b, "  %-*s  %s  %s\n", idWidth, r.ID, colorKind(r.Kind, kindWidth), r.Description)
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write rules: %w", err)
	}
	return nil
}

// PrintSummary writes a one-line count of issues per kind, followed by the
// report locations that were written.
func PrintSummary(w io.Writer, issues []rule.Issue, paths ...string) {
	counts := make(map[rule.Kind]int)
	for _, i := range issues {
		counts[i.Rule.Kind]++
	}

	kinds := make([]rule.Kind, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })

	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], colorKind(k, 0)))
	}

	_, _ = fmt.Fprintf(w, "\nScan Summary:\n")
	if len(parts) == 0 {
		_, _ = fmt.Fprintf(w, "   Issues: 0\n")
	} else {
		_, _ = fmt.Fprintf(w, "   Issues: %d (%s)\n", len(issues), strings.Join(parts, ", "))
	}
	for _, p := range paths {
		_, _ = fmt.Fprintf(w, "   Report: %s\n", p)
	}
}
