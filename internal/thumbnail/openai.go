package thumbnail

import (
	"context"
	"strings"
	"time"

	"github.com/tphakala/soundbird/internal/errors"
	"github.com/tphakala/soundbird/internal/httpclient"
)

const openAIProvider = "openai"

// ErrEmptyResponse is returned when OpenAI answers without content.
var ErrEmptyResponse = errors.NewStd("empty response from openai")

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// openAIClient calls the chat completions and image generation endpoints.
type openAIClient struct {
	http        *httpclient.Client
	baseURL     string
	chatModel   string
	imageModel  string
	imageSize   string
	temperature float64
	observe     func(provider string, d time.Duration, err error)
}

func (o *openAIClient) chat(ctx context.Context, messages []chatMessage) (string, error) {
	var resp chatResponse
	err := o.post(ctx, "/chat/completions", chatRequest{
		Model:       o.chatModel,
		Messages:    messages,
		Temperature: o.temperature,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", openAIError(ErrEmptyResponse, "chat")
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	if content == "" {
		return "", openAIError(ErrEmptyResponse, "chat")
	}
	return content, nil
}

func (o *openAIClient) image(ctx context.Context, prompt string) (string, error) {
	var resp imageResponse
	err := o.post(ctx, "/images/generations", imageRequest{
		Model:  o.imageModel,
		Prompt: prompt,
		N:      1,
		Size:   o.imageSize,
	}, &resp)
	if err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", openAIError(ErrEmptyResponse, "image")
	}
	return resp.Data[0].URL, nil
}

func (o *openAIClient) post(ctx context.Context, path string, in, out any) error {
	start := time.Now()
	err := o.http.PostJSON(ctx, strings.TrimRight(o.baseURL, "/")+path, in, out)
	if o.observe != nil {
		o.observe(openAIProvider, time.Since(start), err)
	}
	if err != nil {
		return openAIError(err, strings.TrimPrefix(path, "/"))
	}
	return nil
}

func openAIError(err error, operation string) error {
	return errors.New(err).
		Component("thumbnail").
		Category(errors.CategoryImageProvider).
		Context("provider", openAIProvider).
		Context("operation", operation).
		Build()
}
