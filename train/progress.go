package train

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/ollama/noisyclip/envconfig"
)

// Progress schreibt eine ueberschriebene Statuszeile, nur auf einem Terminal
type Progress struct {
	w       io.Writer
	label   string
	total   int
	start   time.Time
	enabled bool
}

// NewProgress aktiviert die Ausgabe, wenn w ein Terminal ist und NOISYCLIP_NO_PROGRESS nicht gesetzt ist
func NewProgress(w io.Writer, label string, total int) *Progress {
	enabled := false
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		enabled = !envconfig.NoProgress()
	}
	return &Progress{w: w, label: label, total: total, start: time.Now(), enabled: enabled}
}

// Update zeichnet den Stand neu, kv sind abwechselnd Schluessel und Werte
func (p *Progress) Update(done int, kv ...any) {
	if p == nil || !p.enabled {
		return
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "\r%s %d/%d", p.label, done, p.total)
	for i := 0; i+1 < len(kv); i += 2 {
		fmt.Fprintf(&sb, " %v=%v", kv[i], kv[i+1])
	}
	fmt.Fprintf(&sb, " [%s]\x1b[K", time.Since(p.start).Round(time.Second))
	io.WriteString(p.w, sb.String())
}

// Done beendet die Zeile
func (p *Progress) Done() {
	if p == nil || !p.enabled {
		return
	}
	io.WriteString(p.w, "\n")
}
