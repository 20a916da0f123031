package tui

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/paritytech/contract-dependency-manager-sub000/internal/pipeline"
)

// Plain is a pipeline observer writing one line per state change. It is used
// when stdout is not a terminal.
type Plain struct {
	mu      sync.Mutex
	w       io.Writer
	display map[string]string
	last    map[string]pipeline.State
}

// NewPlain writes to w, labelling artifacts with displayNames where present.
func NewPlain(w io.Writer, displayNames map[string]string) *Plain {
	display := make(map[string]string, len(displayNames))
	for name, label := range displayNames {
		display[name] = label
	}
	return &Plain{w: w, display: display, last: map[string]pipeline.State{}}
}

// OnStatusChange implements pipeline.Observer.
func (p *Plain) OnStatusChange(name string, status pipeline.ContractStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last[name] == status.State {
		return
	}
	p.last[name] = status.State
	label := p.label(name)
	switch status.State {
	case pipeline.StateBuilt:
		fmt.Fprintf(p.w, "%s: built in %s\n", label, status.Duration.Round(time.Millisecond))
	case pipeline.StateDone:
		if status.Address != "" {
			fmt.Fprintf(p.w, "%s: done %s\n", label, status.Address)
			return
		}
		fmt.Fprintf(p.w, "%s: done\n", label)
	case pipeline.StateError:
		fmt.Fprintf(p.w, "%s: %s failed: %s\n", label, status.FailedPhase, firstLine(status.Error))
	default:
		fmt.Fprintf(p.w, "%s: %s\n", label, status.State)
	}
}

// OnPackageNameDiscovered implements pipeline.Observer.
func (p *Plain) OnPackageNameDiscovered(name, packageName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.display[name] = packageName
}

func (p *Plain) label(name string) string {
	if label := p.display[name]; label != "" {
		return label
	}
	return name
}

// WriteSummary prints the final outcome of a run: addresses of released
// artifacts followed by full error text of failed ones.
func WriteSummary(w io.Writer, result pipeline.Result, displayNames map[string]string) {
	label := func(name string) string {
		if l := displayNames[name]; l != "" {
			return l
		}
		return name
	}
	names := make([]string, 0, len(result.Statuses))
	for name := range result.Statuses {
		names = append(names, name)
	}
	sort.Strings(names)

	var done, failed int
	for _, name := range names {
		switch result.Statuses[name].State {
		case pipeline.StateDone:
			done++
		case pipeline.StateError:
			failed++
		}
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, headingStyle.Render(fmt.Sprintf("%d done, %d failed (%s)", done, failed, result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond))))
	for _, name := range names {
		if address, ok := result.Addresses[name]; ok {
			fmt.Fprintf(w, "  %-*s %s\n", colContract, label(name), address)
		}
	}
	for _, name := range names {
		status := result.Statuses[name]
		if status.State != pipeline.StateError {
			continue
		}
		fmt.Fprintln(w, failedStyle.Render(label(name)+":"))
		if status.Deployed() {
			fmt.Fprintf(w, "  deployed at %s but not registered\n", status.Address)
		}
		fmt.Fprintln(w, indent(strings.TrimRight(status.Error, "\n"), "  "))
	}
}

// RenderLayers formats the execution plan, one layer per line.
func RenderLayers(layers [][]string, displayNames map[string]string) string {
	if len(layers) == 0 {
		return idleStyle.Render("no contracts") + "\n"
	}
	var b strings.Builder
	for i, layer := range layers {
		labels := make([]string, len(layer))
		for j, name := range layer {
			labels[j] = name
			if l := displayNames[name]; l != "" && l != name {
				labels[j] = fmt.Sprintf("%s (%s)", name, l)
			}
		}
		fmt.Fprintf(&b, "%s %s\n", headingStyle.Render(fmt.Sprintf("layer %d:", i)), strings.Join(labels, ", "))
	}
	return b.String()
}

func indent(text, prefix string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = prefix + line
	}
	return strings.Join(lines, "\n")
}
