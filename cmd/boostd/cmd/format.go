package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"gopkg.in/yaml.v3"

	"github.com/Dicklesworthstone/boostd/internal/coordinator"
)

var (
	colorPurple = lipgloss.Color("#bd93f9")
	colorGreen  = lipgloss.Color("#50fa7b")
	colorYellow = lipgloss.Color("#f1fa8c")
	colorRed    = lipgloss.Color("#ff5555")
	colorGray   = lipgloss.Color("#6272a4")

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(colorPurple).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	emptyStyle  = lipgloss.NewStyle().Foreground(colorGray).Italic(true)
)

// formatDurationShort renders a duration with compact hours/minutes for CLI output.
func formatDurationShort(d time.Duration) string {
	if d <= 0 {
		return "0m"
	}

	d = d.Round(time.Minute)
	if d < time.Minute {
		return "<1m"
	}

	hours := int(d.Hours())
	mins := int(d.Minutes()) % 60
	switch {
	case hours <= 0:
		return fmt.Sprintf("%dm", mins)
	case mins == 0:
		return fmt.Sprintf("%dh", hours)
	default:
		return fmt.Sprintf("%dh%dm", hours, mins)
	}
}

// formatIDs renders an activity set as "730,440", or "-" when empty.
func formatIDs(ids []int) string {
	if len(ids) == 0 {
		return "-"
	}
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ",")
}

func stateColor(state coordinator.SessionState) lipgloss.Color {
	switch state {
	case coordinator.StateActive:
		return colorGreen
	case coordinator.StateConnecting, coordinator.StateAwaitingChallenge:
		return colorYellow
	default:
		return colorRed
	}
}

// renderSessions draws the session table.
func renderSessions(sessions []coordinator.Snapshot) string {
	if len(sessions) == 0 {
		return emptyStyle.Render("No live sessions.")
	}

	rows := make([][]string, 0, len(sessions))
	for _, s := range sessions {
		identity := s.Identity
		if identity == "" {
			identity = "-"
		}
		state := s.State.String()
		if s.ChallengeKind != "" {
			state += " (" + string(s.ChallengeKind) + ")"
		}
		rows = append(rows, []string{
			s.AccountID,
			state,
			identity,
			formatIDs(s.Activity),
			formatDurationShort(s.Uptime),
		})
	}

	t := table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(colorGray)).
		Headers("ACCOUNT", "STATE", "IDENTITY", "ACTIVITY", "UPTIME").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			if col == 1 && row >= 0 && row < len(sessions) {
				return cellStyle.Foreground(stateColor(sessions[row].State))
			}
			return cellStyle
		})
	return t.Render()
}

// writeFormatted writes v as JSON or YAML.
func writeFormatted(w io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q (want table, json or yaml)", format)
	}
}
