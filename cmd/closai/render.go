package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ybdigitall/closai/internal/outfit"
	"github.com/ybdigitall/closai/pkg/entitlement"
)

type styles struct {
	title  lipgloss.Style
	panel  lipgloss.Style
	label  lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	accent lipgloss.Style
	dim    lipgloss.Style
}

var ui = newStyles()

func newStyles() styles {
	return styles{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("230")).Background(lipgloss.Color("24")).Padding(0, 1),
		panel:  lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).Padding(0, 1).BorderForeground(lipgloss.Color("61")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("109")),
		ok:     lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("42")),
		warn:   lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		accent: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("81")),
		dim:    lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}

func row(label, value string) string {
	return ui.label.Render(fmt.Sprintf("%-14s", label)) + " " + value
}

func panel(title string, rows ...string) string {
	body := lipgloss.JoinVertical(lipgloss.Left, rows...)
	return lipgloss.JoinVertical(lipgloss.Left, ui.title.Render(title), ui.panel.Render(body)) + "\n"
}

func renderStatus(status entitlement.SubscriptionStatus) string {
	switch status.Kind {
	case entitlement.StatusPremium:
		s := ui.ok.Render("Premium")
		if status.Plan != "" {
			s += " (" + string(status.Plan) + ")"
		}
		if !status.Expiry.IsZero() {
			s += ui.dim.Render(" until " + status.Expiry.Format("2006-01-02"))
		}
		return s
	case entitlement.StatusError:
		return ui.warn.Render("Unavailable") + ui.dim.Render(" "+status.Message)
	case entitlement.StatusFree:
		return ui.accent.Render("Free")
	default:
		return ui.dim.Render("Checking…")
	}
}

func renderSuggestion(s outfit.Suggestion, lang entitlement.Language) string {
	rows := make([]string, 0, len(s.Items)+2)
	for _, it := range s.Items {
		name := it.Name
		if it.Color != "" {
			name += ui.dim.Render(" · " + it.Color)
		}
		rows = append(rows, row(it.Type.DisplayName(lang), name))
	}
	rows = append(rows, "", s.Description, ui.dim.Render(fmt.Sprintf("confidence %.0f%%", s.Confidence*100)))
	return panel("Outfit", rows...)
}

func renderDenied(d entitlement.GateDecision, lang entitlement.Language) string {
	return ui.warn.Render(d.Message(lang)) + "\n" + ui.dim.Render("Run `closai plans` to see premium options.") + "\n"
}

func renderReasons(reasons []entitlement.ReasonEntry, lang entitlement.Language) string {
	lines := make([]string, 0, len(reasons))
	for _, r := range reasons {
		lines = append(lines, "• "+r.Text(lang))
	}
	return strings.Join(lines, "\n")
}
