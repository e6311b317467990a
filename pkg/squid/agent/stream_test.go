package agent

import (
	"strings"
	"testing"
)

// feedAll runs the parser over the chunks and returns the concatenated
// content and reasoning texts.
func feedAll(t *testing.T, chunks []string) (content, reasoning string) {
	t.Helper()
	p := &ThinkParser{}
	collect := func(segs []StreamSegment) {
		for _, s := range segs {
			if s.Reasoning {
				reasoning += s.Text
			} else {
				content += s.Text
			}
		}
	}
	for _, c := range chunks {
		collect(p.Feed(c))
	}
	collect(p.Flush())
	return content, reasoning
}

func TestThinkParserBasic(t *testing.T) {
	content, reasoning := feedAll(t, []string{"Hello <think>private thoughts</think> world"})
	if content != "Hello  world" {
		t.Errorf("content = %q", content)
	}
	if reasoning != "private thoughts" {
		t.Errorf("reasoning = %q", reasoning)
	}
}

func TestThinkParserArbitraryChunking(t *testing.T) {
	full := "abc<think>hidden stuff</think>def<think>more</think>ghi"
	wantContent := "abcdefghi"
	wantReasoning := "hidden stuffmore"

	// Every chunk size from 1 byte up must classify identically.
	for size := 1; size <= len(full); size++ {
		var chunks []string
		for i := 0; i < len(full); i += size {
			end := i + size
			if end > len(full) {
				end = len(full)
			}
			chunks = append(chunks, full[i:end])
		}
		content, reasoning := feedAll(t, chunks)
		if content != wantContent || reasoning != wantReasoning {
			t.Fatalf("chunk size %d: content=%q reasoning=%q", size, content, reasoning)
		}
	}
}

func TestThinkParserMarkerSplitAcrossChunks(t *testing.T) {
	content, reasoning := feedAll(t, []string{"a<thi", "nk>b</th", "ink>c"})
	if content != "ac" || reasoning != "b" {
		t.Fatalf("content=%q reasoning=%q", content, reasoning)
	}
}

func TestThinkParserFalseMarkerPrefix(t *testing.T) {
	// "<th" at end of stream is literal text, not a swallowed marker.
	content, reasoning := feedAll(t, []string{"x < y and <th"})
	if content != "x < y and <th" {
		t.Errorf("content = %q", content)
	}
	if reasoning != "" {
		t.Errorf("reasoning = %q", reasoning)
	}
}

func TestThinkParserUnterminatedSpan(t *testing.T) {
	content, reasoning := feedAll(t, []string{"before<think>never closed"})
	if content != "before" {
		t.Errorf("content = %q", content)
	}
	if reasoning != "never closed" {
		t.Errorf("unterminated span must still classify as reasoning, got %q", reasoning)
	}

	// State resets after Flush.
	p := &ThinkParser{}
	p.Feed("<think>open")
	p.Flush()
	if p.InReasoning() {
		t.Error("Flush must close the span")
	}
}

func TestThinkParserStatePersistsBetweenFeeds(t *testing.T) {
	p := &ThinkParser{}
	p.Feed("<think>still ")
	if !p.InReasoning() {
		t.Fatal("parser should be inside the span")
	}
	segs := p.Feed("going</think>done")
	var content string
	for _, s := range segs {
		if !s.Reasoning {
			content += s.Text
		}
	}
	if content != "done" {
		t.Errorf("content = %q", content)
	}
}

func TestToolCallAccumulator(t *testing.T) {
	var acc ToolCallAccumulator
	if !acc.Empty() {
		t.Fatal("fresh accumulator must be empty")
	}

	acc.Apply(ToolCallDelta{ID: "call_1", Name: "bash"})
	acc.Apply(ToolCallDelta{ArgumentsDelta: `{"comm`})
	acc.Apply(ToolCallDelta{ArgumentsDelta: `and":"ls"}`})

	if acc.Empty() {
		t.Fatal("accumulator with a name is not empty")
	}
	id, name, args := acc.Call()
	if id != "call_1" || name != "bash" {
		t.Errorf("id=%q name=%q", id, name)
	}
	if !strings.Contains(args, `"command":"ls"`) {
		t.Errorf("args = %q", args)
	}
}
