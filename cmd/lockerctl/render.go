package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/devghori1264/aerophoenix/lockerd/internal/models"
)

var (
	labelStyle = lipgloss.NewStyle().Faint(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)

	statusStyles = map[models.Status]lipgloss.Style{
		models.StatusAvailable:       lipgloss.NewStyle().Foreground(lipgloss.Color("10")),
		models.StatusAwaitingDropoff: lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		models.StatusRunning:         lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		models.StatusError:           lipgloss.NewStyle().Foreground(lipgloss.Color("9")),
	}
)

func renderStatus(s models.Status) string {
	style, ok := statusStyles[s]
	if !ok {
		return string(s)
	}
	return style.Render(string(s))
}

func renderMachine(m *models.Machine) string {
	rows := [][2]string{
		{"id", m.ID},
		{"location", m.LocationID},
		{"status", renderStatus(m.Status)},
		{"job", m.JobID},
		{"version", fmt.Sprint(m.Version)},
	}
	var b strings.Builder
	for i, r := range rows {
		if r[1] == "" {
			continue
		}
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(labelStyle.Render(fmt.Sprintf("%-9s", r[0])))
		b.WriteString(r[1])
	}
	return b.String()
}

func renderResult(res *result) string {
	var parts []string
	if res.body.Error != "" {
		parts = append(parts, errorStyle.Render(fmt.Sprintf("%d %s", res.code, res.body.Error)))
	}
	if res.body.Machine != nil {
		parts = append(parts, renderMachine(res.body.Machine))
	}
	return strings.Join(parts, "\n")
}

func renderEvent(ev models.MachineEvent) string {
	return fmt.Sprintf("%s  %-18s %s %s",
		labelStyle.Render(ev.Time.Format("15:04:05")),
		ev.Event,
		ev.MachineID,
		renderStatus(ev.Status))
}
