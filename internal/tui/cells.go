package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/lipgloss"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
)

const (
	glyphDone   = "✔"
	glyphFailed = "✖"
	glyphIdle   = "."
	glyphSkip   = "-"
)

// rowRenderer draws one table row. spin is the current spinner frame.
type rowRenderer struct {
	bar       progress.Model
	spin      string
	buildOnly bool
}

func newBar() progress.Model {
	return progress.New(
		progress.WithSolidFill(string(colorGreen)),
		progress.WithWidth(barWidth),
		progress.WithoutPercentage(),
	)
}

func cell(width int, content string) string {
	return lipgloss.NewStyle().Width(width).MaxWidth(width).MarginRight(1).Render(content)
}

func failedIn(s pipeline.ContractStatus, phase pipeline.Phase) bool {
	return s.State == pipeline.StateError && s.FailedPhase == phase
}

func (r rowRenderer) row(name string, s pipeline.ContractStatus) string {
	cells := []string{
		cell(colContract, nameStyle.Render(truncate(name, colContract))),
		cell(colBuild, r.buildCell(s)),
	}
	if !r.buildOnly {
		cells = append(cells,
			cell(colPhase, r.phaseCell(s.DeployInProgress, failedIn(s, pipeline.PhaseDeploy), s.Address != "")),
			cell(colPhase, r.phaseCell(s.PublishInProgress, failedIn(s, pipeline.PhasePublish), s.CID != "")),
			cell(colPhase, r.phaseCell(s.RegisterInProgress, failedIn(s, pipeline.PhaseRegister), s.State == pipeline.StateDone && s.CID != "")),
			cell(colAddress, addressCell(s.Address)),
		)
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cells...)
}

func (r rowRenderer) buildCell(s pipeline.ContractStatus) string {
	p := s.BuildProgress
	switch {
	case s.State == pipeline.StateWaiting:
		return idleStyle.Render(r.bar.ViewAs(0))
	case s.State == pipeline.StateBuilding && p.Total > 0:
		return r.progress(p.Compiled, p.Total)
	case s.State == pipeline.StateBuilding:
		return r.spin
	case failedIn(s, pipeline.PhaseDependency):
		return idleStyle.Render(glyphSkip + " skipped")
	case failedIn(s, pipeline.PhaseBuild):
		return failedStyle.Render(glyphFailed)
	case p.Total > 0:
		return r.progress(p.Total, p.Total)
	default:
		return doneStyle.Render(glyphDone)
	}
}

func (r rowRenderer) progress(compiled, total int) string {
	percent := float64(compiled) / float64(total)
	if percent > 1 {
		percent = 1
	}
	return fmt.Sprintf("%s %d/%d", r.bar.ViewAs(percent), compiled, total)
}

func (r rowRenderer) phaseCell(active, failed, done bool) string {
	switch {
	case active:
		return r.spin
	case failed:
		return failedStyle.Render(glyphFailed)
	case done:
		return doneStyle.Render(glyphDone)
	default:
		return idleStyle.Render(glyphIdle)
	}
}

func addressCell(address string) string {
	if address == "" {
		return idleStyle.Render(glyphIdle)
	}
	return detailStyle.Render(shortAddress(address))
}

func shortAddress(address string) string {
	if len(address) <= colAddress {
		return address
	}
	return address[:6] + "…" + address[len(address)-4:]
}

func truncate(value string, width int) string {
	runes := []rune(value)
	if len(runes) <= width {
		return value
	}
	return string(runes[:width-1]) + "…"
}

func firstLine(value string) string {
	if idx := strings.IndexByte(value, '\n'); idx >= 0 {
		return value[:idx]
	}
	return value
}
