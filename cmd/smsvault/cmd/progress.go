package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/wesm/smsvault/internal/imessage"
	"github.com/wesm/smsvault/internal/textutil"
)

const (
	ttyInterval   = 250 * time.Millisecond
	plainInterval = 5 * time.Second
	maxItemRunes  = 40
)

var phaseLabels = map[imessage.Phase]string{
	imessage.PhaseFetching:    "Reading backup",
	imessage.PhaseAttachments: "Attachments",
	imessage.PhaseChats:       "Chats",
	imessage.PhaseArchiving:   "Archiving",
}

// ExportCLIProgress implements imessage.ExportProgress for terminal output.
// On a terminal it redraws a single status line; otherwise (piped to a file
// or CI log) it prints a plain line per phase and at most one update every
// few seconds. The exporter serializes calls, so no locking is needed.
type ExportCLIProgress struct {
	out      io.Writer
	tty      bool
	interval time.Duration

	startTime time.Time
	lastPrint time.Time
	lineOpen  bool // a \r status line is on screen without a trailing newline
}

// NewExportCLIProgress returns a progress renderer writing to out.
func NewExportCLIProgress(out io.Writer) *ExportCLIProgress {
	tty := false
	if f, ok := out.(*os.File); ok {
		tty = isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	p := &ExportCLIProgress{out: out, tty: tty, interval: plainInterval}
	if tty {
		p.interval = ttyInterval
	}
	return p
}

func (p *ExportCLIProgress) OnStart() {
	p.startTime = time.Now()
	p.lastPrint = time.Time{}
	p.lineOpen = false
}

func (p *ExportCLIProgress) OnPhase(phase imessage.Phase, total int) {
	p.ensureStarted()
	p.endLine()
	if p.tty {
		p.render(phase, 0, total, "")
		return
	}
	fmt.Fprintf(p.out, "  %s: %d\n", phaseLabel(phase), total)
	p.lastPrint = time.Now()
}

func (p *ExportCLIProgress) OnItem(phase imessage.Phase, done, total int, current string) {
	p.ensureStarted()
	// Always show the last item of a phase so the final count is visible.
	if done < total && time.Since(p.lastPrint) < p.interval {
		return
	}
	if p.tty {
		p.render(phase, done, total, current)
		return
	}
	fmt.Fprintf(p.out, "  %s: %d/%d | Elapsed: %s\n",
		phaseLabel(phase), done, total, formatDuration(time.Since(p.startTime)))
	p.lastPrint = time.Now()
}

func (p *ExportCLIProgress) OnError(err error) {
	p.endLine()
	fmt.Fprintf(p.out, "Warning: %s\n", textutil.SanitizeTerminal(err.Error()))
}

func (p *ExportCLIProgress) OnComplete(summary *imessage.ExportSummary) {
	p.endLine()
}

func (p *ExportCLIProgress) ensureStarted() {
	if p.startTime.IsZero() {
		p.startTime = time.Now()
	}
}

func (p *ExportCLIProgress) render(phase imessage.Phase, done, total int, current string) {
	pct := 100.0
	if total > 0 {
		pct = float64(done) * 100 / float64(total)
	}
	item := ""
	if current != "" {
		// Sanitize to prevent terminal injection from file and chat names.
		item = " | " + textutil.TruncateRunes(textutil.SanitizeTerminal(current), maxItemRunes)
	}
	fmt.Fprintf(p.out, "\r  %s: %d/%d (%.0f%%) | Elapsed: %s%s    ",
		phaseLabel(phase), done, total, pct, formatDuration(time.Since(p.startTime)), item)
	p.lastPrint = time.Now()
	p.lineOpen = true
}

// endLine terminates an open status line.
func (p *ExportCLIProgress) endLine() {
	if p.lineOpen {
		fmt.Fprintln(p.out)
		p.lineOpen = false
	}
}

func phaseLabel(phase imessage.Phase) string {
	if l, ok := phaseLabels[phase]; ok {
		return l
	}
	return string(phase)
}

// formatDuration formats a duration as "Xm Ys" or "Xh Ym" for readability.
func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
