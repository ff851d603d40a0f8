package provider

import (
	"context"
	"fmt"
	"html"
	"strings"

	translate "cloud.google.com/go/translate"
	"golang.org/x/text/language"
	"google.golang.org/api/option"
)

// TranslateClient is the subset of *translate.Client used here.
type TranslateClient interface {
	Translate(ctx context.Context, inputs []string, target language.Tag, opts *translate.Options) ([]translate.Translation, error)
	Close() error
}

// GoogleProvider calls Cloud Translation v2. Context and glossary hints are
// not supported by that API and are ignored.
type GoogleProvider struct {
	client TranslateClient
}

// NewGoogleProvider creates the client once. An empty credentialsFile falls
// back to application default credentials.
func NewGoogleProvider(ctx context.Context, credentialsFile, projectID string) (*GoogleProvider, error) {
	opts := []option.ClientOption{}
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	if projectID != "" {
		opts = append(opts, option.WithQuotaProject(projectID))
	}
	client, err := translate.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create google translate client: %w", err)
	}
	return &GoogleProvider{client: client}, nil
}

func newGoogleProviderWithClient(client TranslateClient) *GoogleProvider {
	return &GoogleProvider{client: client}
}

func (p *GoogleProvider) Close() error {
	return p.client.Close()
}

func (p *GoogleProvider) BatchTranslate(ctx context.Context, sources []string, sourceLang, targetLang string, _ Options) ([]string, error) {
	if len(sources) == 0 {
		return []string{}, nil
	}
	target, err := language.Parse(targetLang)
	if err != nil {
		return nil, fmt.Errorf("invalid target language %q: %w", targetLang, err)
	}
	opts := &translate.Options{Format: translate.Text}
	if src := strings.TrimSpace(sourceLang); src != "" && !strings.EqualFold(src, "auto") {
		tag, err := language.Parse(src)
		if err != nil {
			return nil, fmt.Errorf("invalid source language %q: %w", sourceLang, err)
		}
		opts.Source = tag
	}

	translations, err := p.client.Translate(ctx, sources, target, opts)
	if err != nil {
		return nil, fmt.Errorf("translation failed: %w", err)
	}
	out := make([]string, len(sources))
	for i := range out {
		if i < len(translations) {
			out[i] = html.UnescapeString(translations[i].Text)
		}
	}
	return out, nil
}

func (p *GoogleProvider) Translate(ctx context.Context, source, sourceLang, targetLang string, opts Options) (string, error) {
	return single(ctx, p, source, sourceLang, targetLang, opts)
}
