// Package thumbnail generates illustrative species images: a description is
// taken from Wikipedia, rewritten into an image prompt by a chat model and
// rendered by an image model.
package thumbnail

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"github.com/tphakala/soundbird/internal/conf"
	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/httpclient"
	"github.com/tphakala/soundbird/internal/logger"
)

const (
	summarySentences = 3
	projectURL       = "https://github.com/tphakala/soundbird"

	systemPrompt = "You are a prompt writer for photorealistic bird images. Do not include measurements, " +
		"text labels, diagrams, or species comparisons. Focus on feather color, posture, and environment only."
	userPromptFormat = "Create a concise image generation prompt for a %s, based on this description:\n\n%s\n\n" +
		"Keep it under 4000 characters and include visual traits and environment."
)

// ErrMissingAPIKey is returned by GenerateImage when no OpenAI key is set.
var ErrMissingAPIKey = errors.NewStd("openai api key is not configured")

// Metrics receives cache and provider observations.
type Metrics interface {
	IncrementCacheHits()
	IncrementCacheMisses()
	ObserveRequest(provider string, duration time.Duration, err error)
}

// Generator turns a species name into an image URL.
type Generator struct {
	cache   *DescriptionCache
	wiki    *wikipediaClient
	openai  *openAIClient
	hasKey  bool
	metrics Metrics
	log     logger.Logger
}

// Option configures a Generator.
type Option func(*options)

type options struct {
	transport http.RoundTripper
	metrics   Metrics
}

// WithTransport routes all outgoing requests through rt.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// WithMetrics reports cache and provider activity to m.
func WithMetrics(m Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// New returns a Generator configured from settings. version is reported in
// the User-Agent sent to Wikipedia.
func New(settings *conf.ThumbnailSettings, version string, log logger.Logger, opts ...Option) *Generator {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if log == nil {
		log = logger.NewDiscardLogger()
	}

	rps := settings.RequestsPerSecond
	if rps <= 0 {
		rps = 2
	}
	cachePath := settings.CachePath
	if cachePath == "" {
		cachePath = conf.DefaultCachePath
	}

	g := &Generator{
		cache:   NewDescriptionCache(cachePath),
		hasKey:  settings.OpenAIKey != "",
		metrics: o.metrics,
		log:     log.Module("thumbnail"),
	}
	g.wiki = &wikipediaClient{
		http: httpclient.New(&httpclient.Config{
			Timeout:   settings.Timeout,
			UserAgent: buildUserAgent(version),
			Limiter:   rate.NewLimiter(rate.Limit(rps), 1),
			Transport: o.transport,
		}),
		endpoint: settings.WikipediaEndpoint,
		observe:  g.observeRequest,
	}
	g.openai = &openAIClient{
		http: httpclient.New(&httpclient.Config{
			Timeout:   settings.Timeout,
			UserAgent: buildUserAgent(version),
			Headers:   map[string]string{"Authorization": "Bearer " + settings.OpenAIKey},
			Transport: o.transport,
		}),
		baseURL:     settings.OpenAIBaseURL,
		chatModel:   settings.ChatModel,
		imageModel:  settings.ImageModel,
		imageSize:   settings.ImageSize,
		temperature: settings.Temperature,
		observe:     g.observeRequest,
	}
	return g
}

// buildUserAgent follows the Wikimedia User-Agent policy.
func buildUserAgent(version string) string {
	if version == "" {
		version = "dev"
	}
	return fmt.Sprintf("%s/%s (%s) %s/%s", "SoundBird", version, projectURL, "Go-HTTP-Client", runtime.Version())
}

// FallbackDescription is used when Wikipedia yields nothing usable. It also
// serves as the prompt when the chat model is unavailable.
func FallbackDescription(species string) string {
	return fmt.Sprintf("A photorealistic image of a %s in its natural habitat. "+
		"The bird is centered in frame with good lighting and visible feather details.", species)
}

// Describe returns a description of species, from the cache when present.
// Lookup failures produce the fallback description, which is cached like any
// other result. An error is returned only when the cache cannot be read or
// ctx is done.
func (g *Generator) Describe(ctx context.Context, species string) (string, error) {
	desc, ok, err := g.cache.Get(species)
	if err != nil {
		return "", err
	}
	if ok {
		g.cacheHit()
		g.log.Info("using cached description", logger.String("species", species))
		return desc, nil
	}
	g.cacheMiss()

	desc, err = g.lookup(ctx, species, true)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return "", ctxErr
	}
	if err != nil {
		g.log.Warn("no wikipedia description, using fallback",
			logger.String("species", species),
			logger.Error(err))
		desc = FallbackDescription(species)
	}

	if err := g.cache.Put(species, desc); err != nil {
		g.log.Warn("failed to cache description",
			logger.String("species", species),
			logger.Error(err))
	}
	return desc, nil
}

// lookup finds the description section of title, falling back to a short
// summary. A disambiguation page is resolved once, to its first option.
func (g *Generator) lookup(ctx context.Context, title string, resolveAmbiguous bool) (string, error) {
	page, err := g.wiki.page(ctx, title)
	if err != nil {
		return "", err
	}

	if page.Disambiguation {
		if !resolveAmbiguous {
			return "", providerError(ErrDisambiguation, "query", title)
		}
		options, err := g.wiki.disambiguationOptions(ctx, page.Title)
		if err != nil {
			return "", err
		}
		if len(options) == 0 {
			return "", providerError(ErrDisambiguation, "parse", title)
		}
		g.log.Info("resolving disambiguation page",
			logger.String("title", title),
			logger.String("option", options[0]),
			logger.Int("options", len(options)))
		return g.lookup(ctx, options[0], false)
	}

	if section := descriptionSection(page.Extract); section != "" {
		g.log.Info("found wikipedia description", logger.String("title", page.Title))
		return section, nil
	}

	summary, err := g.wiki.summary(ctx, page.Title, summarySentences)
	if err != nil {
		return "", err
	}
	if summary == "" {
		return "", providerError(ErrPageNotFound, "summary", page.Title)
	}
	g.log.Info("no description section, using summary", logger.String("title", page.Title))
	return summary, nil
}

// BuildPrompt asks the chat model for an image prompt for species. Any
// failure yields the fallback description as the prompt.
func (g *Generator) BuildPrompt(ctx context.Context, species, description string) string {
	if !g.hasKey {
		g.log.Warn("openai api key not set, using fallback prompt", logger.String("species", species))
		return FallbackDescription(species)
	}
	prompt, err := g.openai.chat(ctx, []chatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf(userPromptFormat, species, description)},
	})
	if err != nil {
		g.log.Error("failed to generate prompt",
			logger.String("species", species),
			logger.Error(err))
		return FallbackDescription(species)
	}
	return prompt
}

// GenerateImage renders prompt and returns the image URL.
func (g *Generator) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if !g.hasKey {
		return "", errors.New(ErrMissingAPIKey).
			Component("thumbnail").
			Category(errors.CategoryConfiguration).
			Build()
	}
	return g.openai.image(ctx, prompt)
}

// Generate runs Describe, BuildPrompt and GenerateImage for species.
func (g *Generator) Generate(ctx context.Context, species string) (string, error) {
	desc, err := g.Describe(ctx, species)
	if err != nil {
		return "", err
	}
	prompt := g.BuildPrompt(ctx, species, desc)
	g.log.Debug("image prompt", logger.String("species", species), logger.String("prompt", prompt))

	url, err := g.GenerateImage(ctx, prompt)
	if err != nil {
		return "", err
	}
	g.log.Info("generated thumbnail", logger.String("species", species), logger.String("url", url))
	return url, nil
}

// Close releases idle connections.
func (g *Generator) Close() {
	g.wiki.http.Close()
	g.openai.http.Close()
}

func (g *Generator) observeRequest(provider string, d time.Duration, err error) {
	if g.metrics != nil {
		g.metrics.ObserveRequest(provider, d, err)
	}
}

func (g *Generator) cacheHit() {
	if g.metrics != nil {
		g.metrics.IncrementCacheHits()
	}
}

func (g *Generator) cacheMiss() {
	if g.metrics != nil {
		g.metrics.IncrementCacheMisses()
	}
}
