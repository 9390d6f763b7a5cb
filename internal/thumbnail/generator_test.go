package thumbnail

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
)

const (
	wikiEndpoint = "https://en.wikipedia.org/w/api.php"
	openAIBase   = "https://api.openai.com/v1"
)

func testSettings(t *testing.T, apiKey string) *conf.ThumbnailSettings {
	t.Helper()
	return &conf.ThumbnailSettings{
		CachePath:         filepath.Join(t.TempDir(), "bird_descriptions.json"),
		WikipediaEndpoint: wikiEndpoint,
		RequestsPerSecond: 1000,
		OpenAIKey:         apiKey,
		OpenAIBaseURL:     openAIBase,
		ChatModel:         "gpt-4",
		ImageModel:        "dall-e-3",
		ImageSize:         "1024x1024",
		Temperature:       0.7,
		Timeout:           5 * time.Second,
	}
}

type fakeMetrics struct {
	mu       sync.Mutex
	hits     int
	misses   int
	requests map[string]int
}

func (m *fakeMetrics) IncrementCacheHits()   { m.mu.Lock(); m.hits++; m.mu.Unlock() }
func (m *fakeMetrics) IncrementCacheMisses() { m.mu.Lock(); m.misses++; m.mu.Unlock() }
func (m *fakeMetrics) ObserveRequest(provider string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.requests == nil {
		m.requests = map[string]int{}
	}
	m.requests[provider]++
}

// wikiPages serves query and parse requests from canned data keyed by title.
type wikiPages struct {
	extracts       map[string]string // full plain-text extracts
	summaries      map[string]string // exintro extracts
	disambiguation map[string]string // parse HTML of disambiguation pages
}

func (w wikiPages) responder(t *testing.T) httpmock.Responder {
	t.Helper()
	return func(req *http.Request) (*http.Response, error) {
		q := req.URL.Query()
		assert.Equal(t, "json", q.Get("format"))
		assert.Equal(t, "2", q.Get("formatversion"))

		if q.Get("action") == "parse" {
			body, ok := w.disambiguation[q.Get("page")]
			if !ok {
				return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
					"error": map[string]any{"code": "missingtitle", "info": "The page you specified doesn't exist."},
				})
			}
			return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
				"parse": map[string]any{"title": q.Get("page"), "text": body},
			})
		}

		title := q.Get("titles")
		page := map[string]any{"title": title}
		switch {
		case q.Get("exintro") == "1":
			summary, ok := w.summaries[title]
			if !ok {
				page["missing"] = true
			}
			page["extract"] = summary
		default:
			extract, ok := w.extracts[title]
			_, ambiguous := w.disambiguation[title]
			switch {
			case ambiguous:
				page["extract"] = title + " may refer to:"
				page["pageprops"] = map[string]any{"disambiguation": ""}
			case ok:
				page["extract"] = extract
			default:
				page["missing"] = true
			}
		}
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"batchcomplete": true,
			"query":         map[string]any{"pages": []any{page}},
		})
	}
}

const blueJayExtract = "The blue jay is a passerine bird.\n\n\n== Taxonomy ==\nDescribed by Linnaeus.\n\n\n" +
	"== Description ==\nThe blue jay measures 22-30 cm from bill to tail.\n\n\n== Behavior ==\nLoud."

func newTestGenerator(t *testing.T, settings *conf.ThumbnailSettings, pages wikiPages, opts ...Option) (*Generator, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, wikiEndpoint, pages.responder(t))
	g := New(settings, "1.2.3", nil, append([]Option{WithTransport(transport)}, opts...)...)
	t.Cleanup(g.Close)
	return g, transport
}

func readCacheFile(t *testing.T, path string) map[string]string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := map[string]string{}
	require.NoError(t, json.Unmarshal(data, &entries))
	return entries
}

func TestDescriptionSection(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"section present", blueJayExtract, "Description \nThe blue jay measures 22-30 cm from bill to tail."},
		{"heading case ignored", "Intro\n== DESCRIPTION ==\nSmall and brown.", "DESCRIPTION \nSmall and brown."},
		{"no section", "Intro only.\n\n\n== Range ==\nEverywhere.", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, descriptionSection(tt.content))
		})
	}
}

func TestDescribeUsesDescriptionSectionAndCaches(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	metrics := &fakeMetrics{}
	g, transport := newTestGenerator(t, settings,
		wikiPages{extracts: map[string]string{"Blue Jay": blueJayExtract}},
		WithMetrics(metrics))

	desc, err := g.Describe(context.Background(), "Blue Jay")
	require.NoError(t, err)
	assert.Equal(t, "Description \nThe blue jay measures 22-30 cm from bill to tail.", desc)
	assert.Equal(t, 1, transport.GetTotalCallCount())

	again, err := g.Describe(context.Background(), "Blue Jay")
	require.NoError(t, err)
	assert.Equal(t, desc, again)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "second lookup must come from the cache")

	assert.Equal(t, 1, metrics.hits)
	assert.Equal(t, 1, metrics.misses)
	assert.Equal(t, 1, metrics.requests[wikipediaProvider])

	data, err := os.ReadFile(settings.CachePath)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "{\n  \"Blue Jay\": "))
}

func TestDescribeReadsExistingCacheFile(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	require.NoError(t, os.WriteFile(settings.CachePath, []byte(`{"Robin": "A small red-breasted bird."}`), 0o644))
	g, transport := newTestGenerator(t, settings, wikiPages{})

	desc, err := g.Describe(context.Background(), "Robin")
	require.NoError(t, err)
	assert.Equal(t, "A small red-breasted bird.", desc)
	assert.Zero(t, transport.GetTotalCallCount())
}

func TestDescribeFallsBackToSummary(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	g, transport := newTestGenerator(t, settings, wikiPages{
		extracts:  map[string]string{"Veery": "The veery is a thrush.\n\n\n== Range ==\nNorth America."},
		summaries: map[string]string{"Veery": "<p>The <b>veery</b> is a small thrush.</p>"},
	})

	desc, err := g.Describe(context.Background(), "Veery")
	require.NoError(t, err)
	assert.Contains(t, desc, "is a small thrush.")
	assert.NotContains(t, desc, "<")
	assert.Equal(t, 2, transport.GetTotalCallCount())
	assert.Equal(t, desc, readCacheFile(t, settings.CachePath)["Veery"])
}

func TestDescribeResolvesDisambiguation(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	g, _ := newTestGenerator(t, settings, wikiPages{
		extracts: map[string]string{"Blue jay (bird)": blueJayExtract},
		disambiguation: map[string]string{
			"Jay": `<div><ul><li class="toclevel-1"><a href="#Birds">Birds</a></li></ul>` +
				`<ul><li><a href="/wiki/Blue_jay_(bird)" title="Blue jay (bird)">Blue jay (bird)</a>, a North American bird</li>` +
				`<li><a href="/wiki/Steller%27s_jay">Steller's jay</a></li>` +
				`<li><a href="/wiki/Help:Disambiguation">Help</a></li></ul></div>`,
		},
	})

	desc, err := g.Describe(context.Background(), "Jay")
	require.NoError(t, err)
	assert.Equal(t, "Description \nThe blue jay measures 22-30 cm from bill to tail.", desc)
}

func TestDescribeMissingPageCachesFallback(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	g, _ := newTestGenerator(t, settings, wikiPages{})

	desc, err := g.Describe(context.Background(), "Imaginary Warbler")
	require.NoError(t, err)
	want := "A photorealistic image of a Imaginary Warbler in its natural habitat. " +
		"The bird is centered in frame with good lighting and visible feather details."
	assert.Equal(t, want, desc)
	assert.Equal(t, want, readCacheFile(t, settings.CachePath)["Imaginary Warbler"])
}

func TestDescribeWikipediaErrorFallsBack(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, wikiEndpoint, httpmock.NewStringResponder(http.StatusServiceUnavailable, "down"))
	g := New(settings, "1.2.3", nil, WithTransport(transport))

	desc, err := g.Describe(context.Background(), "Blue Jay")
	require.NoError(t, err)
	assert.Equal(t, FallbackDescription("Blue Jay"), desc)
	assert.Equal(t, 1, transport.GetTotalCallCount(), "no retries")
}

func TestDescribeCanceledContextIsNotCached(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	g, _ := newTestGenerator(t, settings, wikiPages{extracts: map[string]string{"Blue Jay": blueJayExtract}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := g.Describe(ctx, "Blue Jay")
	require.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(settings.CachePath)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDescribeCorruptCache(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	require.NoError(t, os.WriteFile(settings.CachePath, []byte("{not json"), 0o644))
	g, _ := newTestGenerator(t, settings, wikiPages{})

	_, err := g.Describe(context.Background(), "Blue Jay")
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryImageCache))
}

func TestWikipediaUserAgent(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "")
	transport := httpmock.NewMockTransport()
	var ua, requestID string
	transport.RegisterResponder(http.MethodGet, wikiEndpoint, func(req *http.Request) (*http.Response, error) {
		ua = req.Header.Get("User-Agent")
		requestID = req.Header.Get("X-Request-ID")
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"query": map[string]any{"pages": []any{map[string]any{"title": "X", "missing": true}}},
		})
	})
	g := New(settings, "1.2.3", nil, WithTransport(transport))

	_, err := g.Describe(context.Background(), "X")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(ua, "SoundBird/1.2.3 (https://github.com/tphakala/soundbird) Go-HTTP-Client/"), ua)
	assert.NotEmpty(t, requestID)
}

func TestBuildPrompt(t *testing.T) {
	t.Parallel()

	settings := testSettings(t, "sk-test")
	g, transport := newTestGenerator(t, settings, wikiPages{})

	transport.RegisterResponder(http.MethodPost, openAIBase+"/chat/completions", func(req *http.Request) (*http.Response, error) {
		assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))
		var body chatRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "gpt-4", body.Model)
		assert.InDelta(t, 0.7, body.Temperature, 1e-9)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0].Role)
		assert.Equal(t, systemPrompt, body.Messages[0].Content)
		assert.Contains(t, body.Messages[1].Content, "prompt for a Blue Jay, based on this description:\n\nBlue and white.")
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"role": "assistant", "content": "  A blue jay on a pine branch.\n"}}},
		})
	})

	prompt := g.BuildPrompt(context.Background(), "Blue Jay", "Blue and white.")
	assert.Equal(t, "A blue jay on a pine branch.", prompt)
}

func TestBuildPromptFallsBack(t *testing.T) {
	t.Parallel()

	t.Run("upstream error", func(t *testing.T) {
		t.Parallel()
		g, transport := newTestGenerator(t, testSettings(t, "sk-test"), wikiPages{})
		transport.RegisterResponder(http.MethodPost, openAIBase+"/chat/completions",
			httpmock.NewStringResponder(http.StatusInternalServerError, `{"error":{"message":"boom"}}`))

		assert.Equal(t, FallbackDescription("Blue Jay"), g.BuildPrompt(context.Background(), "Blue Jay", "desc"))
	})

	t.Run("no choices", func(t *testing.T) {
		t.Parallel()
		g, transport := newTestGenerator(t, testSettings(t, "sk-test"), wikiPages{})
		transport.RegisterResponder(http.MethodPost, openAIBase+"/chat/completions",
			httpmock.NewStringResponder(http.StatusOK, `{"choices":[]}`))

		assert.Equal(t, FallbackDescription("Blue Jay"), g.BuildPrompt(context.Background(), "Blue Jay", "desc"))
	})

	t.Run("no api key", func(t *testing.T) {
		t.Parallel()
		g, transport := newTestGenerator(t, testSettings(t, ""), wikiPages{})

		assert.Equal(t, FallbackDescription("Blue Jay"), g.BuildPrompt(context.Background(), "Blue Jay", "desc"))
		assert.Zero(t, transport.GetTotalCallCount())
	})
}

func TestGenerateImage(t *testing.T) {
	t.Parallel()

	g, transport := newTestGenerator(t, testSettings(t, "sk-test"), wikiPages{})
	transport.RegisterResponder(http.MethodPost, openAIBase+"/images/generations", func(req *http.Request) (*http.Response, error) {
		var body imageRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, imageRequest{Model: "dall-e-3", Prompt: "a jay", N: 1, Size: "1024x1024"}, body)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"data": []any{map[string]any{"url": "https://images.example/jay.png"}},
		})
	})

	url, err := g.GenerateImage(context.Background(), "a jay")
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/jay.png", url)
}

func TestGenerateImageErrors(t *testing.T) {
	t.Parallel()

	t.Run("upstream rejection propagates", func(t *testing.T) {
		t.Parallel()
		g, transport := newTestGenerator(t, testSettings(t, "sk-test"), wikiPages{})
		transport.RegisterResponder(http.MethodPost, openAIBase+"/images/generations",
			httpmock.NewStringResponder(http.StatusBadRequest, `{"error":{"message":"content policy"}}`))

		_, err := g.GenerateImage(context.Background(), "a jay")
		require.Error(t, err)
		assert.True(t, errors.IsCategory(err, errors.CategoryImageProvider))
		assert.Equal(t, 1, transport.GetTotalCallCount())
	})

	t.Run("missing api key", func(t *testing.T) {
		t.Parallel()
		g, _ := newTestGenerator(t, testSettings(t, ""), wikiPages{})

		_, err := g.GenerateImage(context.Background(), "a jay")
		require.ErrorIs(t, err, ErrMissingAPIKey)
		assert.True(t, errors.IsCategory(err, errors.CategoryConfiguration))
	})
}

func TestGenerate(t *testing.T) {
	t.Parallel()

	metrics := &fakeMetrics{}
	g, transport := newTestGenerator(t, testSettings(t, "sk-test"),
		wikiPages{extracts: map[string]string{"Blue Jay": blueJayExtract}},
		WithMetrics(metrics))

	transport.RegisterResponder(http.MethodPost, openAIBase+"/chat/completions", func(req *http.Request) (*http.Response, error) {
		var body chatRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Contains(t, body.Messages[1].Content, "22-30 cm")
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"choices": []any{map[string]any{"message": map[string]any{"content": "A blue jay in an oak."}}},
		})
	})
	transport.RegisterResponder(http.MethodPost, openAIBase+"/images/generations", func(req *http.Request) (*http.Response, error) {
		var body imageRequest
		require.NoError(t, json.NewDecoder(req.Body).Decode(&body))
		assert.Equal(t, "A blue jay in an oak.", body.Prompt)
		return httpmock.NewJsonResponse(http.StatusOK, map[string]any{
			"data": []any{map[string]any{"url": "https://images.example/blue-jay.png"}},
		})
	})

	url, err := g.Generate(context.Background(), "Blue Jay")
	require.NoError(t, err)
	assert.Equal(t, "https://images.example/blue-jay.png", url)
	assert.Equal(t, 1, metrics.requests[wikipediaProvider])
	assert.Equal(t, 2, metrics.requests[openAIProvider])
}
