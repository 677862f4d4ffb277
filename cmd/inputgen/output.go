// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInputGen/services/inputgen/stats"
)

var (
	colorTeal    = lipgloss.Color("#2CD7C7")
	colorWarning = lipgloss.Color("#F4D03F")
	colorError   = lipgloss.Color("#E74C3C")
	colorSlate   = lipgloss.Color("#2C4A54")

	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(colorTeal)
	mutedStyle = lipgloss.NewStyle().Foreground(colorSlate)
	okStyle    = lipgloss.NewStyle().Foreground(colorTeal)
	warnStyle  = lipgloss.NewStyle().Foreground(colorWarning)
	errStyle   = lipgloss.NewStyle().Foreground(colorError)
	boxStyle   = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#16858E")).
			Padding(0, 1)
)

// styled reports whether w is a terminal that can show colors.
func styled(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0600)
}

func writeYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// renderReport prints the language-wise and overall summaries followed by
// the failed modules.
func renderReport(w io.Writer, r *stats.BatchReport, color bool) {
	paint := func(s lipgloss.Style, text string) string {
		if !color {
			return text
		}
		return s.Render(text)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s %s\n", paint(titleStyle, "Batch"), paint(mutedStyle, r.RunID))
	fmt.Fprintf(&b, "modules %d  failed %s  retries %d\n\n",
		r.All.Num, failedText(r.Failed, paint), r.Retries)

	fmt.Fprintf(&b, "%-12s %6s %8s %8s %8s %8s  %s\n",
		"language", "mods", "funcs", "instr", "gen", "ran", "gen by seed")
	for _, lang := range r.LanguageNames() {
		writeSummaryRow(&b, lang, r.Languages[lang])
	}
	writeSummaryRow(&b, paint(titleStyle, "all"), r.All)
	if bbs := r.All.Stats.NumBBs; bbs != nil && r.All.Stats.NumBBsExecuted != nil {
		fmt.Fprintf(&b, "\nbasic blocks executed %d of %d\n", *r.All.Stats.NumBBsExecuted, *bbs)
	}

	var failed []stats.ModuleResult
	for _, m := range r.Modules {
		if m.Status != stats.StatusOK {
			failed = append(failed, m)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\n" + paint(errStyle, "Failed modules") + "\n")
		for _, m := range failed {
			fmt.Fprintf(&b, "  %5d %-30s attempts %d  %s\n", m.Index, m.Name, m.Attempts, m.Error)
		}
	}

	out := strings.TrimRight(b.String(), "\n")
	if color {
		out = boxStyle.Render(out)
	}
	fmt.Fprintln(w, out)
}

func failedText(n int, paint func(lipgloss.Style, string) string) string {
	text := fmt.Sprintf("%d", n)
	if n == 0 {
		return paint(okStyle, text)
	}
	return paint(warnStyle, text)
}

func writeSummaryRow(b *strings.Builder, name string, s stats.Summary) {
	fmt.Fprintf(b, "%-12s %6d %8d %8d %8d %8d  %v\n",
		name, s.Num,
		s.Stats.NumFuncs,
		s.Stats.NumInstrumentedFuncs,
		s.Stats.NumInputGeneratedFuncs,
		s.Stats.NumInputRanFuncs,
		s.Stats.InputGenBySeed,
	)
}
