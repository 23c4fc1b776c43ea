package engine

import "strings"

// stopScanner watches streamed text for the first occurrence of any stop
// word. Text that cannot yet be ruled out as the beginning of a stop word
// is held back, so emitted text never has to be retracted.
type stopScanner struct {
	stops   []string
	buf     string
	matched bool
}

func newStopScanner(stops []string) *stopScanner {
	return &stopScanner{stops: stops}
}

// Feed appends text and returns the part that is now safe to emit.
// After a match, the scanner swallows everything.
func (s *stopScanner) Feed(text string) (emit string, matched bool) {
	if s.matched {
		return "", true
	}
	if len(s.stops) == 0 {
		return text, false
	}
	s.buf += text

	cut := -1
	for _, stop := range s.stops {
		if i := strings.Index(s.buf, stop); i >= 0 && (cut < 0 || i < cut) {
			cut = i
		}
	}
	if cut >= 0 {
		emit = s.buf[:cut]
		s.buf = ""
		s.matched = true
		return emit, true
	}

	hold := s.holdback()
	emit = s.buf[:len(s.buf)-hold]
	s.buf = s.buf[len(s.buf)-hold:]
	return emit, false
}

// holdback is the length of the longest tail of buf that is a proper
// prefix of some stop word.
func (s *stopScanner) holdback() int {
	longest := 0
	for _, stop := range s.stops {
		max := len(stop) - 1
		if max > len(s.buf) {
			max = len(s.buf)
		}
		for l := max; l > longest; l-- {
			if strings.HasPrefix(stop, s.buf[len(s.buf)-l:]) {
				longest = l
				break
			}
		}
	}
	return longest
}

// Flush releases held-back text at natural end of stream.
func (s *stopScanner) Flush() string {
	if s.matched {
		return ""
	}
	out := s.buf
	s.buf = ""
	return out
}
