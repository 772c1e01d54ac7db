package history

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"github.com/raysh454/zapctl/internal/zap"
)

// RunDiff describes how the findings of head differ from base.
type RunDiff struct {
	BaseID    string      `json:"base_id"`
	HeadID    string      `json:"head_id"`
	Added     []zap.Alert `json:"added"`
	Removed   []zap.Alert `json:"removed"`
	Unchanged int         `json:"unchanged"`

	// Text is a line diff of both rendered alert lists; lines start with
	// "+ ", "- " or "  ".
	Text string `json:"text"`
}

// alertKey identifies the same finding across runs.
func alertKey(a zap.Alert) string {
	return strings.Join([]string{a.Title(), a.Risk, a.URL, a.Param}, "\x00")
}

func alertText(a zap.Alert) string {
	line := fmt.Sprintf("%s (Risk: %s)", a.Title(), a.Risk)
	if a.URL != "" {
		line += " " + a.URL
	}
	if a.Param != "" {
		line += " [" + a.Param + "]"
	}
	return line
}

// DiffRuns compares the alerts of two stored runs.
func (s *Store) DiffRuns(ctx context.Context, baseID, headID string) (*RunDiff, error) {
	base, err := s.GetRun(ctx, baseID)
	if err != nil {
		return nil, fmt.Errorf("load base run: %w", err)
	}
	head, err := s.GetRun(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("load head run: %w", err)
	}
	return DiffAlerts(base.ID, head.ID, base.Alerts, head.Alerts), nil
}

// DiffWithPrevious compares headID against the newest other completed run of
// the same target.
func (s *Store) DiffWithPrevious(ctx context.Context, headID string) (*RunDiff, error) {
	head, err := s.GetRun(ctx, headID)
	if err != nil {
		return nil, fmt.Errorf("load head run: %w", err)
	}
	base, err := s.LatestRun(ctx, head.Target, head.ID)
	if err != nil {
		return nil, err
	}
	return DiffAlerts(base.ID, head.ID, base.Alerts, head.Alerts), nil
}

// DiffAlerts compares two alert lists. Duplicate findings are matched one
// for one.
func DiffAlerts(baseID, headID string, base, head []zap.Alert) *RunDiff {
	d := &RunDiff{BaseID: baseID, HeadID: headID, Added: []zap.Alert{}, Removed: []zap.Alert{}}

	remaining := map[string]int{}
	for _, a := range base {
		remaining[alertKey(a)]++
	}
	for _, a := range head {
		k := alertKey(a)
		if remaining[k] > 0 {
			remaining[k]--
			d.Unchanged++
			continue
		}
		d.Added = append(d.Added, a)
	}

	inHead := map[string]int{}
	for _, a := range head {
		inHead[alertKey(a)]++
	}
	for _, a := range base {
		k := alertKey(a)
		if inHead[k] > 0 {
			inHead[k]--
			continue
		}
		d.Removed = append(d.Removed, a)
	}

	d.Text = lineDiff(renderSorted(base), renderSorted(head))
	return d
}

func renderSorted(alerts []zap.Alert) string {
	lines := make([]string, 0, len(alerts))
	for _, a := range alerts {
		lines = append(lines, alertText(a))
	}
	sort.Strings(lines)
	if len(lines) == 0 {
		return ""
	}
	return strings.Join(lines, "\n") + "\n"
}

func lineDiff(base, head string) string {
	dmp := diffmatchpatch.New()
	a, b, lineArray := dmp.DiffLinesToChars(base, head)
	diffs := dmp.DiffMain(a, b, false)
	diffs = dmp.DiffCharsToLines(diffs, lineArray)

	var out strings.Builder
	for _, d := range diffs {
		var prefix string
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			prefix = "+ "
		case diffmatchpatch.DiffDelete:
			prefix = "- "
		case diffmatchpatch.DiffEqual:
			prefix = "  "
		}
		for _, line := range strings.SplitAfter(d.Text, "\n") {
			if line == "" {
				continue
			}
			out.WriteString(prefix)
			out.WriteString(line)
			if !strings.HasSuffix(line, "\n") {
				out.WriteString("\n")
			}
		}
	}
	return out.String()
}
