package rpc

import "bytes"

// MaxLineSize bounds a single inbound frame. A partial line that grows past
// it is dropped along with the rest of that line.
const MaxLineSize = 10 * 1024 * 1024

// Framer splits a byte stream into newline-terminated lines. Bytes after the
// last newline are held until a later chunk completes them.
type Framer struct {
	buf      []byte
	max      int
	skipping bool // discarding an oversize line until its newline
	dropped  int
}

// NewFramer returns a Framer that drops lines longer than max bytes.
// A max of zero or less means MaxLineSize.
func NewFramer(max int) *Framer {
	if max <= 0 {
		max = MaxLineSize
	}
	return &Framer{max: max}
}

// Feed appends chunk and returns every complete line it now holds, in
// order, without the trailing newline (or carriage return). Blank lines are
// skipped. The returned slices are owned by the caller.
func (f *Framer) Feed(chunk []byte) [][]byte {
	var lines [][]byte

	for len(chunk) > 0 {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			if !f.skipping {
				f.buf = append(f.buf, chunk...)
				if len(f.buf) > f.max {
					f.buf = nil
					f.skipping = true
					f.dropped++
				}
			}
			break
		}

		if f.skipping {
			f.skipping = false
		} else {
			var line []byte
			if len(f.buf) > 0 {
				line = append(f.buf, chunk[:i]...)
				f.buf = nil
			} else {
				line = append([]byte(nil), chunk[:i]...)
			}
			line = bytes.TrimSuffix(line, []byte("\r"))
			if len(bytes.TrimSpace(line)) > 0 {
				if len(line) > f.max {
					f.dropped++
				} else {
					lines = append(lines, line)
				}
			}
		}
		chunk = chunk[i+1:]
	}

	return lines
}

// Pending returns the number of buffered bytes not yet terminated.
func (f *Framer) Pending() int {
	return len(f.buf)
}

// Dropped returns how many oversize lines have been discarded.
func (f *Framer) Dropped() int {
	return f.dropped
}
