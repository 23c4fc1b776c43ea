package engine

import "testing"

func feedAll(s *stopScanner, parts ...string) (string, bool) {
	var out string
	for _, p := range parts {
		emit, matched := s.Feed(p)
		out += emit
		if matched {
			return out, true
		}
	}
	return out + s.Flush(), false
}

func TestStopScannerTruncatesAtMatch(t *testing.T) {
	s := newStopScanner([]string{"<|im_end|>"})
	out, matched := feedAll(s, "Hello<|im_end|> world")
	if !matched {
		t.Fatal("stop word must match")
	}
	if out != "Hello" {
		t.Fatalf("out = %q, want %q", out, "Hello")
	}
}

func TestStopScannerSplitAcrossChunks(t *testing.T) {
	s := newStopScanner([]string{"<|im_end|>"})
	out, matched := feedAll(s, "Hel", "lo<|im_", "end|> world")
	if !matched {
		t.Fatal("stop word split across chunks must still match")
	}
	if out != "Hello" {
		t.Fatalf("out = %q, want %q", out, "Hello")
	}
}

func TestStopScannerFalseAlarmReleased(t *testing.T) {
	s := newStopScanner([]string{"<|im_end|>"})
	out, matched := feedAll(s, "a < b <|im", "aginary number")
	if matched {
		t.Fatal("no stop word present")
	}
	if out != "a < b <|imaginary number" {
		t.Fatalf("out = %q", out)
	}
}

func TestStopScannerHoldsPossiblePrefix(t *testing.T) {
	s := newStopScanner([]string{"STOP"})
	emit, matched := s.Feed("abcST")
	if matched {
		t.Fatal("no match yet")
	}
	// "ST" could start "STOP" and must be withheld.
	if emit != "abc" {
		t.Fatalf("emit = %q, want %q", emit, "abc")
	}
	if got := s.Flush(); got != "ST" {
		t.Fatalf("flush = %q, want %q", got, "ST")
	}
}

func TestStopScannerEarliestOfSeveral(t *testing.T) {
	s := newStopScanner([]string{"YY", "X"})
	out, matched := feedAll(s, "abXcdYY")
	if !matched || out != "ab" {
		t.Fatalf("out = %q matched = %v, want %q at earliest stop", out, matched, "ab")
	}
}

func TestStopScannerNoStops(t *testing.T) {
	s := newStopScanner(nil)
	out, matched := feedAll(s, "anything", " goes")
	if matched || out != "anything goes" {
		t.Fatalf("out = %q matched = %v", out, matched)
	}
}

func TestStopScannerSwallowsAfterMatch(t *testing.T) {
	s := newStopScanner([]string{"X"})
	s.Feed("aX")
	emit, matched := s.Feed("more")
	if !matched || emit != "" {
		t.Fatalf("post-match feed: emit = %q matched = %v", emit, matched)
	}
	if s.Flush() != "" {
		t.Fatal("flush after match must be empty")
	}
}
