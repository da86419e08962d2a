// Package chunker splits markdown documents into overlapping, size-bounded
// chunks. Sizes and positions are counted in characters (runes).
package chunker

import (
	"math"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200

	// IntroductionHeading names the content found before the first heading.
	IntroductionHeading = "Introduction"
)

var headerRe = regexp.MustCompile(`(?m)^(#{1,6})[ \t]+(.+)$`)

type Chunk struct {
	Content        string
	StartPosition  int
	EndPosition    int
	TokenCount     int
	SectionHeading string
}

type Chunker struct {
	size    int
	overlap int
}

func New(size, overlap int) *Chunker {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = min(DefaultChunkOverlap, size/2)
	}
	return &Chunker{size: size, overlap: overlap}
}

type section struct {
	heading string
	content string
	start   int
}

// ChunkMarkdown splits text on ATX headings and then chunks every section.
// A section that fits in the chunk size becomes exactly one chunk.
func (c *Chunker) ChunkMarkdown(text string) []Chunk {
	var chunks []Chunk
	for _, s := range splitSections(text) {
		n := utf8.RuneCountInString(s.content)
		if n <= c.size {
			chunks = append(chunks, Chunk{
				Content:        s.content,
				StartPosition:  s.start,
				EndPosition:    s.start + n,
				TokenCount:     EstimateTokens(s.content),
				SectionHeading: s.heading,
			})
			continue
		}
		for _, ch := range c.ChunkText(s.content) {
			ch.StartPosition += s.start
			ch.EndPosition += s.start
			ch.SectionHeading = s.heading
			chunks = append(chunks, ch)
		}
	}
	return chunks
}

// ChunkText packs whole lines into chunks of at most the configured size.
// Leading lines of the text, blank or not, belong to the first chunk.
// When a chunk is emitted, the next one starts with an overlap cut from its
// tail at a sentence end or line break.
func (c *Chunker) ChunkText(text string) []Chunk {
	var (
		chunks   []Chunk
		cur      strings.Builder
		curLen   int
		curStart int
		pos      int
	)

	emit := func() {
		content := strings.TrimRightFunc(cur.String(), unicode.IsSpace)
		chunks = append(chunks, Chunk{
			Content:       content,
			StartPosition: curStart,
			EndPosition:   pos,
			TokenCount:    EstimateTokens(content),
		})
	}

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		piece := line
		if i < len(lines)-1 {
			piece += "\n"
		}
		n := utf8.RuneCountInString(piece)

		if curLen+n > c.size && !isBlank(cur.String()) {
			emit()
			ov := overlapText(cur.String(), c.overlap)
			if isBlank(ov) {
				ov = ""
			}
			cur.Reset()
			cur.WriteString(ov)
			curLen = utf8.RuneCountInString(ov)
			curStart = pos - curLen
		}

		cur.WriteString(piece)
		curLen += n
		pos += n
	}

	if !isBlank(cur.String()) {
		emit()
	}
	return chunks
}

// overlapText returns a suffix of text no longer than size runes, starting
// after the last sentence end or line break of the tail when there is one.
func overlapText(text string, size int) string {
	if size <= 0 {
		return ""
	}
	runes := []rune(text)
	if len(runes) <= size {
		return text
	}
	tail := string(runes[len(runes)-size:])
	body := strings.TrimRightFunc(tail, unicode.IsSpace)

	if i := strings.LastIndexAny(body, ".!?"); i > 0 && i < len(body)-1 {
		return strings.TrimLeftFunc(tail[i+1:], unicode.IsSpace)
	}
	if i := strings.LastIndex(body, "\n"); i > 0 {
		return strings.TrimLeftFunc(tail[i+1:], unicode.IsSpace)
	}
	return tail
}

func splitSections(text string) []section {
	matches := headerRe.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		if s, ok := trimmedSection("", text, 0); ok {
			return []section{s}
		}
		return nil
	}

	var sections []section
	if matches[0][0] > 0 {
		if s, ok := trimmedSection(IntroductionHeading, text[:matches[0][0]], 0); ok {
			sections = append(sections, s)
		}
	}
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		heading := strings.TrimSpace(text[m[4]:m[5]])
		start := utf8.RuneCountInString(text[:m[0]])
		if s, ok := trimmedSection(heading, text[m[0]:end], start); ok {
			sections = append(sections, s)
		}
	}
	return sections
}

// trimmedSection trims raw and moves start past the removed leading space.
func trimmedSection(heading, raw string, start int) (section, bool) {
	lead := len(raw) - len(strings.TrimLeftFunc(raw, unicode.IsSpace))
	content := strings.TrimSpace(raw)
	if content == "" {
		return section{}, false
	}
	return section{
		heading: heading,
		content: content,
		start:   start + utf8.RuneCountInString(raw[:lead]),
	}, true
}

// EstimateTokens approximates a token count as one token per four characters.
func EstimateTokens(text string) int {
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / 4))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
