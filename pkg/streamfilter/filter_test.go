package streamfilter

import (
	"testing"
	"unicode/utf8"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func feed(f *Filter, chunks []string) []Segment {
	var out []Segment
	for _, c := range chunks {
		out = append(out, f.Push(c)...)
	}
	return append(out, f.Flush()...)
}

// merge joins adjacent segments of the same kind so results from different
// chunkings can be compared directly.
func merge(segments []Segment) []Segment {
	var out []Segment
	for _, s := range segments {
		if s.Text == "" {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Reasoning == s.Reasoning {
			out[n-1].Text += s.Text
			continue
		}
		out = append(out, s)
	}
	return out
}

func splitEvery(s string, n int) []string {
	var chunks []string
	for len(s) > n {
		chunks = append(chunks, s[:n])
		s = s[n:]
	}
	return append(chunks, s)
}

func TestFilter_SplitDelimiter(t *testing.T) {
	t.Run("should handle a delimiter split across chunks", func(t *testing.T) {
		got := merge(feed(New("", ""), []string{"<th", "ink>hi</think>ok"}))
		want := []Segment{{Reasoning: true, Text: "hi"}, {Text: "ok"}}
		assert.Empty(t, cmp.Diff(want, got))
	})

	t.Run("should match the single chunk result when fed byte by byte", func(t *testing.T) {
		input := "<think>hi</think>ok"
		whole := merge(feed(New("", ""), []string{input}))
		bytewise := merge(feed(New("", ""), splitEvery(input, 1)))
		assert.Empty(t, cmp.Diff(whole, bytewise))
		assert.Equal(t, []Segment{{Reasoning: true, Text: "hi"}, {Text: "ok"}}, whole)
	})
}

func TestFilter_ChunkingIndependence(t *testing.T) {
	inputs := []string{
		"plain answer without tags",
		"<think>reason</think>answer",
		"before<think>a</think>mid<think>b</think>after",
		"<think>unterminated reasoning",
		"a < b and c > d </thin not a tag",
		"<think>naïve café ☕ 思考</think>résumé ✓",
		"<think></think>",
		"<<think>>x<</think>>",
	}

	for _, input := range inputs {
		reference := merge(feed(New("", ""), []string{input}))
		for size := 1; size <= len(input); size++ {
			got := merge(feed(New("", ""), splitEvery(input, size)))
			if diff := cmp.Diff(reference, got); diff != "" {
				t.Fatalf("input %q chunk size %d: (-want +got)\n%s", input, size, diff)
			}
		}
	}
}

func TestFilter_NoDelimiterFragments(t *testing.T) {
	input := "x<think>one</think>y<think>two</think>z"
	for size := 1; size <= len(input); size++ {
		f := New("", "")
		for _, seg := range feed(f, splitEvery(input, size)) {
			assert.NotContains(t, seg.Text, "<")
			assert.NotContains(t, seg.Text, ">")
		}
	}
}

func TestFilter_UTF8Boundaries(t *testing.T) {
	input := "<think>日本語のテキスト</think>émoji 🎉 done"
	f := New("", "")
	for _, chunk := range splitEvery(input, 1) {
		for _, seg := range f.Push(chunk) {
			assert.True(t, utf8.ValidString(seg.Text), "segment %q splits a code point", seg.Text)
		}
	}
	for _, seg := range f.Flush() {
		assert.True(t, utf8.ValidString(seg.Text))
	}
}

func TestFilter_MultipleTogglesInOneChunk(t *testing.T) {
	f := New("", "")
	out := f.Push("a<think>b</think>c<think>d</think>e")
	out = append(out, f.Flush()...)

	require.Len(t, out, 5)
	reasoning, answer := Split(out)
	assert.Equal(t, "bd", reasoning)
	assert.Equal(t, "ace", answer)
	assert.False(t, f.InReasoning())
}

func TestFilter_FlushKeepsRemainder(t *testing.T) {
	t.Run("should flush held back bytes", func(t *testing.T) {
		f := New("", "")
		out := f.Push("answer <thi")
		_, answer := Split(out)
		assert.NotContains(t, answer, "<")

		_, rest := Split(f.Flush())
		assert.Equal(t, "answer <thi", answer+rest)
		assert.Len(t, rest, len("<think>")-1)
	})

	t.Run("should flush unterminated reasoning as reasoning", func(t *testing.T) {
		f := New("", "")
		out := feed(f, []string{"<think>still going"})
		reasoning, answer := Split(out)
		assert.Equal(t, "still going", reasoning)
		assert.Empty(t, answer)
		assert.True(t, f.InReasoning())
	})
}

func TestFilter_CustomDelimiters(t *testing.T) {
	f := New("[[", "]]")
	out := feed(f, splitEvery("[[plan]]run it", 1))
	reasoning, answer := Split(out)
	assert.Equal(t, "plan", reasoning)
	assert.Equal(t, "run it", answer)
}

func TestPassthrough(t *testing.T) {
	f := NewPassthrough()
	assert.True(t, f.Passthrough())

	out := f.Push("<think>not scanned</think>")
	assert.Equal(t, []Segment{{Text: "<think>not scanned</think>"}}, out)

	out = f.PushFields("deliberation", "answer")
	assert.Equal(t, []Segment{{Reasoning: true, Text: "deliberation"}, {Text: "answer"}}, out)

	assert.Nil(t, f.Push(""))
	assert.Nil(t, f.Flush())
}
