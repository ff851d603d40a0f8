package provider

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/MimeLyc/lexitra/internal/domain"
	"github.com/MimeLyc/lexitra/internal/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockChat struct {
	mock.Mock
}

func (m *mockChat) ChatCompletion(ctx context.Context, messages []llm.Message, opts *llm.ChatCompletionOptions) (*llm.ChatResponse, error) {
	args := m.Called(ctx, messages, opts)
	resp, _ := args.Get(0).(*llm.ChatResponse)
	return resp, args.Error(1)
}

func reply(content string) *llm.ChatResponse {
	return &llm.ChatResponse{Choices: []llm.Choice{{Message: llm.Message{Role: "assistant", Content: content}}}}
}

func TestBuildTranslationUserMessage_IndexedLines(t *testing.T) {
	t.Parallel()

	payload, err := buildTranslationUserMessage([]string{"line-1", "line-2"})
	require.NoError(t, err)

	var decoded struct {
		Lines []indexedLine `json:"lines"`
	}
	require.NoError(t, json.Unmarshal([]byte(payload), &decoded))
	require.Len(t, decoded.Lines, 2)
	assert.Equal(t, indexedLine{Index: 1, Text: "line-1"}, decoded.Lines[0])
	assert.Equal(t, indexedLine{Index: 2, Text: "line-2"}, decoded.Lines[1])
}

func TestParseTranslationOutput(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		n       int
		want    []string
		errLike string
	}{
		{name: "wrapped object", content: `{"lines":[{"index":1,"text":"안녕"},{"index":2,"text":"세계"}]}`, n: 2, want: []string{"안녕", "세계"}},
		{name: "reordered array", content: `[{"index":2,"text":"세계"},{"index":1,"text":"안녕"}]`, n: 2, want: []string{"안녕", "세계"}},
		{name: "string array fallback", content: `["안녕","세계"]`, n: 2, want: []string{"안녕", "세계"}},
		{name: "short reply is padded", content: `{"lines":[{"index":1,"text":"안녕"}]}`, n: 3, want: []string{"안녕", "", ""}},
		{name: "code fence", content: "```json\n{\"lines\":[{\"index\":1,\"text\":\"안녕\"}]}\n```", n: 1, want: []string{"안녕"}},
		{name: "translations key", content: `{"translations":[{"index":1,"text":"안녕"}]}`, n: 1, want: []string{"안녕"}},
		{name: "duplicate index", content: `[{"index":1,"text":"a"},{"index":1,"text":"b"}]`, n: 2, errLike: "duplicate"},
		{name: "index out of range", content: `[{"index":3,"text":"a"}]`, n: 2, errLike: "out of range"},
		{name: "plain text", content: "안녕\n세계", n: 2, errLike: "json"},
		{name: "empty", content: "   ", n: 1, errLike: "empty"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseTranslationOutput(tt.content, tt.n)
			if tt.errLike != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errLike)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestBuildSystemPrompt_IncludesHints(t *testing.T) {
	t.Parallel()

	prompt := buildSystemPrompt("en", "ko", Options{
		Context:  []string{"The invoice is attached."},
		Glossary: []domain.GlossaryEntry{{Source: "invoice", Target: "송장"}},
	})
	assert.Contains(t, prompt, "from English to Korean")
	assert.Contains(t, prompt, "invoice => 송장")
	assert.Contains(t, prompt, "The invoice is attached.")

	auto := buildSystemPrompt("auto", "xx-invalid-tag", Options{})
	assert.Contains(t, auto, "detected source language")
	assert.NotContains(t, auto, "GLOSSARY")
}

func TestLLMProvider_BatchTranslate(t *testing.T) {
	t.Parallel()

	chat := &mockChat{}
	chat.On("ChatCompletion", mock.Anything, mock.MatchedBy(func(msgs []llm.Message) bool {
		return len(msgs) == 1 && msgs[0].Role == "user"
	}), mock.MatchedBy(func(opts *llm.ChatCompletionOptions) bool {
		return opts.JSONMode && opts.SystemPrompt != ""
	})).Return(reply(`{"lines":[{"index":2,"text":"둘"},{"index":1,"text":"하나"}]}`), nil).Once()

	p := NewLLMProvider(chat)
	got, err := p.BatchTranslate(context.Background(), []string{"one", "two"}, "en", "ko", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"하나", "둘"}, got)
	chat.AssertExpectations(t)
}

func TestLLMProvider_TranslateEmptyIsError(t *testing.T) {
	t.Parallel()

	chat := &mockChat{}
	chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		Return(reply(`{"lines":[]}`), nil).Once()

	_, err := NewLLMProvider(chat).Translate(context.Background(), "one", "en", "ko", Options{})
	assert.ErrorIs(t, err, ErrEmptyTranslation)
}

func TestLLMProvider_CallErrorFailsBatch(t *testing.T) {
	t.Parallel()

	chat := &mockChat{}
	chat.On("ChatCompletion", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("connection reset")).Once()

	_, err := NewLLMProvider(chat).BatchTranslate(context.Background(), []string{"one"}, "en", "ko", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}
