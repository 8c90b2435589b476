package cli

import (
	"fmt"
	"io"
	"sync"

	"github.com/brewtune/brewtune/internal/uploader"
)

// NewProgressPrinter returns an observer that renders upload progress to w,
// one line per event. Repeated events with the same label and percentage are
// collapsed so the transfer phase does not flood the terminal.
func NewProgressPrinter(w io.Writer) uploader.Observer {
	var mu sync.Mutex
	lastLine := ""
	return func(e uploader.Event) {
		line := fmt.Sprintf("[%3.0f%%] %s", e.Fraction*100, e.Label)
		mu.Lock()
		defer mu.Unlock()
		if line == lastLine {
			return
		}
		lastLine = line
		fmt.Fprintln(w, line)
	}
}
