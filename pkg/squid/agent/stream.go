package agent

import "strings"

const (
	thinkOpen  = "<think>"
	thinkClose = "</think>"
)

// StreamSegment is one classified slice of streamed model output.
type StreamSegment struct {
	Text      string
	Reasoning bool
}

// ThinkParser incrementally splits streamed model text into visible content
// and reasoning spans delimited by <think>...</think>. Markers are single
// tokens for most models but nothing guarantees chunk alignment, so a
// potential marker prefix at the end of a chunk is carried over until the
// next chunk disambiguates it. The parser's state survives between Feed
// calls, which means a turn interrupted mid-reasoning resumes correctly.
type ThinkParser struct {
	inReasoning bool
	carry       string
}

// InReasoning reports whether the parser is currently inside a <think> span.
func (p *ThinkParser) InReasoning() bool { return p.inReasoning }

// Feed consumes one chunk of streamed text and returns the classified
// segments it completes. Segments preserve input order.
func (p *ThinkParser) Feed(chunk string) []StreamSegment {
	if chunk == "" {
		return nil
	}
	text := p.carry + chunk
	p.carry = ""

	var segs []StreamSegment
	emit := func(s string, reasoning bool) {
		if s == "" {
			return
		}
		// Merge with the previous segment when the mode is unchanged.
		if n := len(segs); n > 0 && segs[n-1].Reasoning == reasoning {
			segs[n-1].Text += s
			return
		}
		segs = append(segs, StreamSegment{Text: s, Reasoning: reasoning})
	}

	for text != "" {
		marker := thinkOpen
		if p.inReasoning {
			marker = thinkClose
		}
		idx := strings.Index(text, marker)
		if idx >= 0 {
			emit(text[:idx], p.inReasoning)
			p.inReasoning = !p.inReasoning
			text = text[idx+len(marker):]
			continue
		}
		// No full marker. Hold back a trailing partial marker so a tag
		// split across chunks is still recognized.
		keep := len(text) - partialMarkerLen(text, marker)
		emit(text[:keep], p.inReasoning)
		p.carry = text[keep:]
		break
	}
	return segs
}

// Flush returns the final segment at end of stream. Any held-back partial
// marker turns out to be literal text, and an unterminated reasoning span is
// closed implicitly.
func (p *ThinkParser) Flush() []StreamSegment {
	var segs []StreamSegment
	if p.carry != "" {
		segs = append(segs, StreamSegment{Text: p.carry, Reasoning: p.inReasoning})
		p.carry = ""
	}
	p.inReasoning = false
	return segs
}

// partialMarkerLen returns the length of the longest proper marker prefix
// that the text ends with, or 0 if it ends cleanly.
func partialMarkerLen(text, marker string) int {
	max := len(marker) - 1
	if max > len(text) {
		max = len(text)
	}
	for n := max; n > 0; n-- {
		if strings.HasSuffix(text, marker[:n]) {
			return n
		}
	}
	return 0
}

// ToolCallAccumulator assembles a streamed tool call from provider deltas.
// OpenAI-style APIs deliver the call id and name once and the JSON arguments
// in fragments.
type ToolCallAccumulator struct {
	id   string
	name string
	args strings.Builder
}

func (a *ToolCallAccumulator) Apply(d ToolCallDelta) {
	if d.ID != "" {
		a.id = d.ID
	}
	if d.Name != "" {
		a.name = d.Name
	}
	a.args.WriteString(d.ArgumentsDelta)
}

func (a *ToolCallAccumulator) Empty() bool { return a.name == "" }

// Call returns the assembled invocation skeleton. Arguments parsing is left
// to the caller so malformed JSON surfaces as a turn error, not a panic.
func (a *ToolCallAccumulator) Call() (id, name, arguments string) {
	return a.id, a.name, a.args.String()
}
