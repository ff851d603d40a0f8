// Package segmenter turns extracted document text into translation segments.
package segmenter

import (
	"bufio"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// minBlockRunes drops headers, footers and other fragments.
const minBlockRunes = 5

type Options struct {
	// Sentences splits every block further at sentence boundaries.
	Sentences bool
}

// Segment reads name's content and returns its segments in document order.
// .srt files yield one segment per cue; anything else is read as plain text
// with blank lines between paragraphs.
func Segment(name string, r io.Reader, opts Options) ([]string, error) {
	var (
		blocks []string
		err    error
	)
	if strings.EqualFold(filepath.Ext(name), ".srt") {
		blocks, err = SRT(r)
	} else {
		blocks, err = Paragraphs(r)
	}
	if err != nil {
		return nil, err
	}
	if opts.Sentences {
		blocks = Sentences(blocks)
	}
	return blocks, nil
}

// Paragraphs joins the lines of each paragraph with single spaces. Page
// numbers and blocks shorter than five characters are skipped.
func Paragraphs(r io.Reader) ([]string, error) {
	var blocks []string
	var lines []string
	flush := func() {
		text := strings.TrimSpace(strings.Join(lines, " "))
		lines = lines[:0]
		if text == "" || isDigits(text) || utf8.RuneCountInString(text) < minBlockRunes {
			return
		}
		blocks = append(blocks, text)
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			flush()
			continue
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read text: %w", err)
	}
	flush()
	return blocks, nil
}

// Sentences splits each block after '.', '!' or '?' when whitespace and an
// upper-case or Hangul letter follow.
func Sentences(blocks []string) []string {
	out := make([]string, 0, len(blocks))
	for _, block := range blocks {
		out = append(out, splitSentences(block)...)
	}
	return out
}

func splitSentences(text string) []string {
	var out []string
	runes := []rune(text)
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isTerminator(runes[i]) {
			continue
		}
		j := i + 1
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		if j == i+1 || j == len(runes) || !startsSentence(runes[j]) {
			continue
		}
		if s := strings.TrimSpace(string(runes[start : i+1])); s != "" {
			out = append(out, s)
		}
		start = j
		i = j - 1
	}
	if s := strings.TrimSpace(string(runes[start:])); s != "" {
		out = append(out, s)
	}
	return out
}

func isTerminator(r rune) bool {
	return r == '.' || r == '!' || r == '?'
}

func startsSentence(r rune) bool {
	return unicode.IsUpper(r) || (r >= '가' && r <= '힣')
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// Batches groups segments into runs of at most n, used for previews.
func Batches(segments []string, n int) [][]string {
	if n <= 0 {
		n = 1
	}
	var out [][]string
	for start := 0; start < len(segments); start += n {
		out = append(out, segments[start:min(start+n, len(segments))])
	}
	return out
}
