package main

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dbehnke/btbb-nexus/pkg/btbb"
	"github.com/dbehnke/btbb-nexus/pkg/piconet"
	"github.com/dbehnke/btbb-nexus/pkg/sniffer"
	"golang.org/x/term"
)

// printer renders decode results, styled when stdout is a terminal
type printer struct {
	out    io.Writer
	styled bool
	width  int

	titleStyle lipgloss.Style
	labelStyle lipgloss.Style
	valueStyle lipgloss.Style
	warnStyle  lipgloss.Style
	dimStyle   lipgloss.Style
	boxStyle   lipgloss.Style
}

func newPrinter(out *os.File) *printer {
	p := &printer{out: out, width: 80}
	fd := int(out.Fd())
	if term.IsTerminal(fd) {
		p.styled = true
		if w, _, err := term.GetSize(fd); err == nil && w > 0 {
			p.width = w
		}
	}

	p.titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("12"))
	p.labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("12")).
		Bold(true)
	p.valueStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("10"))
	p.warnStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("11"))
	p.dimStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("241"))
	p.boxStyle = lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
	return p
}

func (p *printer) render(style lipgloss.Style, s string) string {
	if !p.styled {
		return s
	}
	return style.Render(s)
}

// Result prints one line per packet carrying a header
func (p *printer) Result(r sniffer.Result) {
	obs := r.Observation
	pkt := r.Detection.Packet
	if !obs.HeaderPresent {
		return
	}

	prefix := fmt.Sprintf("ch %2d clkn %07x ", pkt.Channel(), pkt.CLKN())
	switch {
	case obs.Discovered:
		fmt.Fprintf(p.out, "%s%s\n", p.render(p.dimStyle, prefix),
			p.render(p.titleStyle, fmt.Sprintf("LAP %06x UAP %02x found, clock offset %02x",
				obs.Info.LAP, obs.Info.UAP, obs.Info.ClockOffset)))
	case obs.Err != nil:
		fmt.Fprintf(p.out, "%s%s\n", p.render(p.dimStyle, prefix),
			p.render(p.warnStyle, fmt.Sprintf("LAP %06x %v", pkt.LAP(), obs.Err)))
		return
	case !obs.Decoded:
		fmt.Fprintf(p.out, "%s%s\n", p.render(p.dimStyle, prefix),
			p.render(p.dimStyle, fmt.Sprintf("LAP %06x discovering, %d candidates", pkt.LAP(), obs.Info.Candidates)))
		return
	}

	payload, conf := pkt.Payload()
	line := fmt.Sprintf("%s %s", pkt.String(), p.render(p.labelStyle, conf.String()))
	fmt.Fprintf(p.out, "%s%s\n", p.render(p.dimStyle, prefix), line)

	if body := payload.Body(pkt.Type().HasCRC()); len(body) > 0 {
		hexWidth := max((p.width-len(prefix))/3, 8)
		fmt.Fprintf(p.out, "%s%s\n", strings.Repeat(" ", len(prefix)),
			p.render(p.valueStyle, truncate(fmt.Sprintf("% x", body), hexWidth*3)))
	}
	if obs.FHS != nil {
		fmt.Fprintf(p.out, "%s%s\n", strings.Repeat(" ", len(prefix)),
			p.render(p.valueStyle, fhsLine(*obs.FHS)))
	}
}

func fhsLine(f btbb.FHSInfo) string {
	return fmt.Sprintf("FHS address %02x:%02x:%02x:%02x:%02x:%02x clock %07x",
		f.NAP>>8, f.NAP&0xff, f.UAP, (f.LAP>>16)&0xff, (f.LAP>>8)&0xff, f.LAP&0xff, f.Clock)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}

// Summary prints the tracked piconets in a box
func (p *printer) Summary(piconets []piconet.Info, frames, accessCodes, dropped uint64) {
	var b strings.Builder
	b.WriteString(p.render(p.titleStyle, "Piconets"))
	b.WriteString("\n")
	for _, info := range piconets {
		addr := fmt.Sprintf("??:??:??:%02x:%02x:%02x", (info.LAP>>16)&0xff, (info.LAP>>8)&0xff, info.LAP&0xff)
		if info.UAPKnown {
			addr = fmt.Sprintf("??:??:%02x:%s", info.UAP, addr[9:])
		}
		if info.NAPKnown {
			addr = fmt.Sprintf("%02x:%02x:%s", info.NAP>>8, info.NAP&0xff, addr[6:])
		}
		fmt.Fprintf(&b, "%s  %s  %s\n",
			p.render(p.valueStyle, addr),
			p.render(p.labelStyle, fmt.Sprintf("%-11s", info.State)),
			fmt.Sprintf("%d/%d decoded", info.Decoded, info.Packets))
	}
	if len(piconets) == 0 {
		b.WriteString(p.render(p.dimStyle, "none"))
		b.WriteString("\n")
	}
	fmt.Fprintf(&b, "%s %d  %s %d  %s %d",
		p.render(p.labelStyle, "frames"), frames,
		p.render(p.labelStyle, "access codes"), accessCodes,
		p.render(p.labelStyle, "dropped"), dropped)

	if p.styled {
		fmt.Fprintln(p.out, p.boxStyle.Render(b.String()))
		return
	}
	fmt.Fprintln(p.out, b.String())
}
