package gpt

import "strings"

// ResultSentinel marks the start of the structured verdict payload inside the
// generator's output stream.
const ResultSentinel = "[R]"

// splitter separates live narration from the embedded verdict payload while
// the generator output is still streaming.
//
// The sentinel can be split across fragment boundaries by the generator's
// tokenizer, so the splitter always withholds one fragment as lookahead: a
// fragment is only released together with its successor, after checking that
// the combined buffer does not start with the sentinel. The cost is a
// one-fragment display latency, and the trailing fragment of a non-terminal
// stream is never flushed. A sentinel that first appears mid-buffer rather
// than at the start of the pending buffer is not detected.
type splitter struct {
	pending    string
	resultMode bool
	full       strings.Builder
	emit       func(text string)
}

func newSplitter(emit func(text string)) *splitter {
	return &splitter{emit: emit}
}

// Feed consumes the next stream fragment, emitting narration when the
// lookahead check passes.
func (s *splitter) Feed(fragment string) {
	if s.pending == "" && !s.resultMode {
		s.pending = fragment
		return
	}
	s.pending += fragment
	if s.resultMode || strings.HasPrefix(s.pending, ResultSentinel) {
		s.resultMode = true
		return
	}
	if s.emit != nil {
		s.emit(s.pending)
	}
	s.full.WriteString(s.pending)
	s.pending = ""
}

// Close signals end of stream. In result mode it returns the
// sentinel-stripped payload; otherwise the final withheld fragment is
// dropped and the stream is treated as non-terminal.
func (s *splitter) Close() (payload string, isResult bool) {
	if s.resultMode {
		return strings.TrimPrefix(s.pending, ResultSentinel), true
	}
	return "", false
}

// FullText returns all narration emitted so far.
func (s *splitter) FullText() string {
	return s.full.String()
}
