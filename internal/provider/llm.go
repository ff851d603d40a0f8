package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/MimeLyc/lexitra/internal/llm"
	"github.com/MimeLyc/lexitra/pkg/log"
	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

// ChatClient is the part of llm.Client the provider needs.
type ChatClient interface {
	ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error)
}

// LLMProvider translates through a chat completion model using an indexed
// JSON request and response so reordered or dropped lines are detectable.
type LLMProvider struct {
	client ChatClient
}

func NewLLMProvider(client ChatClient) *LLMProvider {
	return &LLMProvider{client: client}
}

func (p *LLMProvider) BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, opts Options) ([]string, error) {
	if len(sources) == 0 {
		return []string{}, nil
	}
	userMessage, err := buildTranslationUserMessage(sources)
	if err != nil {
		return nil, err
	}
	chatOpts := llm.NewChatCompletionOptions().
		WithSystemPrompt(buildSystemPrompt(sourceLang, targetLang, opts)).
		WithJSONMode(true)

	resp, err := p.client.ChatCompletion(ctx, []llm.Message{{Role: "user", Content: userMessage}}, chatOpts)
	if err != nil {
		return nil, err
	}
	out, err := parseTranslationOutput(resp.Content(), len(sources))
	if err != nil {
		return nil, fmt.Errorf("parse model output: %w", err)
	}
	if missing := countEmpty(out); missing > 0 {
		log.Warn("Model left %d of %d lines untranslated", missing, len(out))
	}
	return out, nil
}

func (p *LLMProvider) Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error) {
	return single(ctx, p, source, sourceLang, targetLang, opts)
}

type indexedLine struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// buildTranslationUserMessage numbers lines from 1.
func buildTranslationUserMessage(lines []string) (string, error) {
	payload := struct {
		Lines []indexedLine `json:"lines"`
	}{Lines: make([]indexedLine, len(lines))}
	for i, line := range lines {
		payload.Lines[i] = indexedLine{Index: i + 1, Text: line}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal lines: %w", err)
	}
	return string(data), nil
}

// parseTranslationOutput accepts {"lines":[{index,text}]}, a bare indexed
// array or a plain string array. Indexes missing from the reply come back as "".
func parseTranslationOutput(content string, n int) ([]string, error) {
	content = stripCodeFence(strings.TrimSpace(content))
	if content == "" {
		return nil, fmt.Errorf("empty model output")
	}

	var indexed []indexedLine
	switch {
	case strings.HasPrefix(content, "{"):
		var wrapped struct {
			Lines        []indexedLine `json:"lines"`
			Translations []indexedLine `json:"translations"`
		}
		if err := json.Unmarshal([]byte(content), &wrapped); err != nil {
			return nil, fmt.Errorf("invalid json object: %w", err)
		}
		indexed = wrapped.Lines
		if len(indexed) == 0 {
			indexed = wrapped.Translations
		}
	case strings.HasPrefix(content, "["):
		if err := json.Unmarshal([]byte(content), &indexed); err != nil {
			var plain []string
			if err2 := json.Unmarshal([]byte(content), &plain); err2 != nil {
				return nil, fmt.Errorf("invalid json array: %w", err)
			}
			out := make([]string, n)
			copy(out, plain)
			return out, nil
		}
	default:
		return nil, fmt.Errorf("model output is not json")
	}

	out := make([]string, n)
	seen := make(map[int]bool, len(indexed))
	for _, line := range indexed {
		if line.Index < 1 || line.Index > n {
			return nil, fmt.Errorf("line index %d out of range 1..%d", line.Index, n)
		}
		if seen[line.Index] {
			return nil, fmt.Errorf("duplicate line index %d", line.Index)
		}
		seen[line.Index] = true
		out[line.Index-1] = strings.TrimSpace(line.Text)
	}
	return out, nil
}

func stripCodeFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func buildSystemPrompt(sourceLang, targetLang string, opts Options) string {
	var prompt strings.Builder

	prompt.WriteString("You are a professional document translator. Translate each line from ")
	prompt.WriteString(languageName(sourceLang))
	prompt.WriteString(" to ")
	prompt.WriteString(languageName(targetLang))
	prompt.WriteString(".\n")

	if len(opts.Glossary) > 0 {
		prompt.WriteString("\n=== GLOSSARY ===\nAlways use these term translations:\n")
		for _, e := range opts.Glossary {
			fmt.Fprintf(&prompt, "- %s => %s\n", e.Source, e.Target)
		}
	}
	if len(opts.Context) > 0 {
		prompt.WriteString("\n=== PRECEDING TEXT (do not translate) ===\n")
		for _, c := range opts.Context {
			prompt.WriteString(c)
			prompt.WriteString("\n")
		}
	}

	prompt.WriteString("\n=== OUTPUT FORMAT ===\n")
	prompt.WriteString(`Input is {"lines":[{"index":N,"text":"..."}]}. `)
	prompt.WriteString(`Return ONLY {"lines":[{"index":N,"text":"translation"}]} with every input index exactly once.`)
	prompt.WriteString("\nDo not include explanations or notes.\n")
	return prompt.String()
}

// languageName renders "ko" as "Korean". Unknown codes and "auto" pass through.
func languageName(code string) string {
	if strings.EqualFold(code, "auto") || code == "" {
		return "the detected source language"
	}
	tag, err := language.Parse(code)
	if err != nil {
		return code
	}
	if name := display.English.Tags().Name(tag); name != "" {
		return name
	}
	return code
}

func countEmpty(lines []string) int {
	n := 0
	for _, l := range lines {
		if l == "" {
			n++
		}
	}
	return n
}
