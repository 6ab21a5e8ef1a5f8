package anthropic

import (
	"bufio"
	"io"
	"strings"
)

// sseEvent is a single Server-Sent Event.
type sseEvent struct {
	Event string
	Data  string
}

// sseReader yields SSE events from a response body one at a time, so the
// caller can forward deltas as they arrive instead of buffering the whole
// stream.
type sseReader struct {
	scanner *bufio.Scanner
}

func newSSEReader(r io.Reader) *sseReader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &sseReader{scanner: sc}
}

// next returns the next event. ok is false at end of stream; check err for
// a read failure.
func (r *sseReader) next() (evt sseEvent, ok bool) {
	pending := false

	for r.scanner.Scan() {
		line := r.scanner.Text()

		// Blank line terminates the current event.
		if line == "" {
			if pending {
				return evt, true
			}
			continue
		}

		// SSE comment lines start with a colon.
		if strings.HasPrefix(line, ":") {
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			evt.Event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			pending = true
		case strings.HasPrefix(line, "data:"):
			data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if evt.Data != "" {
				evt.Data += "\n"
			}
			evt.Data += data
			pending = true
		}
	}

	// A final event without a trailing blank line still counts.
	if pending {
		return evt, true
	}
	return sseEvent{}, false
}

func (r *sseReader) err() error {
	return r.scanner.Err()
}
