// Package report renders scan results for the console.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/raysh454/zapctl/internal/zap"
)

type Options struct {
	// Color styles the risk of each alert line.
	Color bool

	// SortByRisk lists the highest risks first; otherwise the scanner's
	// order is kept.
	SortByRisk bool
}

var riskStyles = map[string]lipgloss.Style{
	zap.RiskHigh:          lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true),
	zap.RiskMedium:        lipgloss.NewStyle().Foreground(lipgloss.Color("#FFD93D")),
	zap.RiskLow:           lipgloss.NewStyle().Foreground(lipgloss.Color("#6BCB77")),
	zap.RiskInformational: lipgloss.NewStyle().Foreground(lipgloss.Color("#4D96FF")),
}

// HostsLine formats the discovered hosts comma-joined.
func HostsLine(hosts []string) string {
	return "Hosts: " + strings.Join(hosts, ", ")
}

// AlertLine formats one alert as "- <name> (Risk: <risk>)".
func AlertLine(a zap.Alert, color bool) string {
	risk := a.Risk
	if color {
		if st, ok := riskStyles[risk]; ok {
			risk = st.Render(risk)
		}
	}
	return fmt.Sprintf("- %s (Risk: %s)", a.Title(), risk)
}

// WriteSummary prints the host line followed by one line per alert.
func WriteSummary(w io.Writer, hosts []string, alerts []zap.Alert, opts Options) error {
	if opts.SortByRisk {
		alerts = SortByRisk(alerts)
	}

	var b strings.Builder
	b.WriteString(HostsLine(hosts))
	b.WriteString("\n")
	b.WriteString("Alerts: \n")
	for _, a := range alerts {
		b.WriteString(AlertLine(a, opts.Color))
		b.WriteString("\n")
	}

	if _, err := io.WriteString(w, b.String()); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// WriteJSON writes v as indented JSON.
func WriteJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write json: %w", err)
	}
	return nil
}

// CountByRisk tallies alerts per risk level.
func CountByRisk(alerts []zap.Alert) map[string]int {
	out := make(map[string]int, 4)
	for _, a := range alerts {
		out[a.Risk]++
	}
	return out
}

// SortByRisk returns a copy ordered from highest to lowest risk, stable
// within a level.
func SortByRisk(alerts []zap.Alert) []zap.Alert {
	out := append([]zap.Alert(nil), alerts...)
	sort.SliceStable(out, func(i, j int) bool {
		return zap.RiskRank(out[i].Risk) > zap.RiskRank(out[j].Risk)
	})
	return out
}
