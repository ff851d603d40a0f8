package segmenter

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

var srtTiming = regexp.MustCompile(`(\d{2}):(\d{2}):(\d{2}),(\d{3}) --> (\d{2}):(\d{2}):(\d{2}),(\d{3})`)

type srtState int

const (
	stateIndex srtState = iota
	stateTime
	stateText
)

// SRT returns the text of each cue, its lines joined with spaces.
func SRT(r io.Reader) ([]string, error) {
	var cues []string
	var text []string
	state := stateIndex

	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(scanner.Text(), "\ufeff"))

		switch state {
		case stateIndex:
			if line == "" {
				continue
			}
			if _, err := strconv.Atoi(line); err != nil {
				continue // not a cue index
			}
			state = stateTime

		case stateTime:
			if line == "" {
				continue
			}
			if !srtTiming.MatchString(line) {
				return nil, fmt.Errorf("invalid cue timing: %s", line)
			}
			state = stateText
			text = text[:0]

		case stateText:
			if line != "" {
				text = append(text, line)
				continue
			}
			if len(text) > 0 {
				cues = append(cues, strings.Join(text, " "))
			}
			state = stateIndex
		}
	}
	if state == stateText && len(text) > 0 {
		cues = append(cues, strings.Join(text, " "))
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read subtitle: %w", err)
	}
	return cues, nil
}
