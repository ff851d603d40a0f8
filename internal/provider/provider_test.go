package provider

import (
	"context"
	"errors"
	"testing"
	"time"

	translate "cloud.google.com/go/translate"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"
)

func TestWithTimeout_BoundsSlowCalls(t *testing.T) {
	t.Parallel()

	slow := Func(func(ctx context.Context, sources []string, _, _ string, _ Options) ([]string, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	p := WithTimeout(slow, 20*time.Millisecond)

	start := time.Now()
	_, err := p.BatchTranslate(context.Background(), []string{"a"}, "en", "ko", Options{})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), time.Second)

	_, err = p.Translate(context.Background(), "a", "en", "ko", Options{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithTimeout_Disabled(t *testing.T) {
	t.Parallel()

	base := Func(func(context.Context, []string, string, string, Options) ([]string, error) {
		return []string{"x"}, nil
	})
	assert.IsType(t, base, WithTimeout(base, 0))
}

func TestFunc_TranslateUsesFirstItem(t *testing.T) {
	t.Parallel()

	p := Func(func(_ context.Context, sources []string, _, _ string, _ Options) ([]string, error) {
		return []string{"[" + sources[0] + "]"}, nil
	})
	got, err := p.Translate(context.Background(), "hi", "en", "ko", Options{})
	require.NoError(t, err)
	assert.Equal(t, "[hi]", got)
}

func TestSwitch_RoutesToLatestProvider(t *testing.T) {
	t.Parallel()

	named := func(name string) Provider {
		return Func(func(_ context.Context, sources []string, _, _ string, _ Options) ([]string, error) {
			return []string{name + ":" + sources[0]}, nil
		})
	}
	sw := NewSwitch(named("a"))

	got, err := sw.Translate(context.Background(), "x", "en", "ko", Options{})
	require.NoError(t, err)
	assert.Equal(t, "a:x", got)

	sw.Set(named("b"))
	out, err := sw.BatchTranslate(context.Background(), []string{"y"}, "en", "ko", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"b:y"}, out)
}

type fakeTranslateClient struct {
	gotTarget language.Tag
	gotOpts   *translate.Options
	out       []translate.Translation
	err       error
}

func (f *fakeTranslateClient) Translate(_ context.Context, inputs []string, target language.Tag, opts *translate.Options) ([]translate.Translation, error) {
	f.gotTarget = target
	f.gotOpts = opts
	return f.out, f.err
}

func (f *fakeTranslateClient) Close() error { return nil }

func TestGoogleProvider_BatchTranslate(t *testing.T) {
	t.Parallel()

	client := &fakeTranslateClient{out: []translate.Translation{{Text: "Tom &amp; Jerry"}}}
	p := newGoogleProviderWithClient(client)

	got, err := p.BatchTranslate(context.Background(), []string{"톰과 제리", "둘"}, "ko", "en", Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"Tom & Jerry", ""}, got)
	assert.Equal(t, language.English, client.gotTarget)
	require.NotNil(t, client.gotOpts)
	assert.Equal(t, language.Korean, client.gotOpts.Source)
	assert.Equal(t, translate.Text, client.gotOpts.Format)
}

func TestGoogleProvider_AutoSourceAndErrors(t *testing.T) {
	t.Parallel()

	client := &fakeTranslateClient{err: errors.New("quota exceeded")}
	p := newGoogleProviderWithClient(client)

	_, err := p.BatchTranslate(context.Background(), []string{"a"}, "auto", "ko", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
	assert.Equal(t, language.Und, client.gotOpts.Source)

	_, err = p.BatchTranslate(context.Background(), []string{"a"}, "en", "not a tag!", Options{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid target language")
	require.NoError(t, p.Close())
}
