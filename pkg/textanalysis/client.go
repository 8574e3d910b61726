// Package textanalysis is the client for the external text-analysis
// collaborator that scores sentiment and extracts named entities from
// message bodies. The pipeline depends only on the Client interface; the
// default implementation is backed by the Anthropic Messages API.
package textanalysis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/caseward/forensics-cli/internal/resilience"
)

// Result is the collaborator's output for one input text.
type Result struct {
	// Sentiment is clamped to [-1, 1].
	Sentiment float64  `json:"sentiment"`
	Entities  []string `json:"entities"`
}

// Client is the text-analysis collaborator contract: plain text in,
// sentiment + entities out, or a transient failure
// (resilience.TransientError) the caller may retry.
type Client interface {
	// Annotate scores a batch of texts. On success the result slice has
	// exactly one entry per input, in input order.
	Annotate(ctx context.Context, texts []string) ([]Result, error)
	// Model identifies the analysis model version, recorded with each
	// annotation for reproducibility.
	Model() string
}

const systemPrompt = `You are a forensic text-analysis service. For each numbered text you receive, produce one JSON object with:
  "sentiment": a number in [-1, 1] (-1 most negative, 1 most positive)
  "entities": an array of named entities (people, organizations, places) mentioned in the text
Respond with a single JSON array, one object per input, in input order. No prose.`

type sdkClient struct {
	client    sdk.Client
	model     string
	maxTokens int64
}

// NewClient creates the Anthropic-backed collaborator client.
func NewClient(apiKey, model string) Client {
	return &sdkClient{
		client:    sdk.NewClient(option.WithAPIKey(apiKey)),
		model:     model,
		maxTokens: 4096,
	}
}

func (c *sdkClient) Model() string {
	return c.model
}

func (c *sdkClient) Annotate(ctx context.Context, texts []string) ([]Result, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var prompt strings.Builder
	for i, text := range texts {
		enc, err := json.Marshal(text)
		if err != nil {
			return nil, eris.Wrap(err, "textanalysis: encode input")
		}
		prompt.WriteString("Text " + strconv.Itoa(i+1) + ": " + string(enc))
		prompt.WriteByte('\n')
	}

	msg, err := c.client.Messages.New(ctx, sdk.MessageNewParams{
		Model:     sdk.Model(c.model),
		MaxTokens: c.maxTokens,
		System:    []sdk.TextBlockParam{{Text: systemPrompt}},
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(prompt.String())),
		},
	})
	if err != nil {
		return nil, classifyError(err)
	}

	var raw strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw.WriteString(block.Text)
		}
	}

	results, err := parseResults(raw.String(), len(texts))
	if err != nil {
		return nil, err
	}
	return results, nil
}

// classifyError maps SDK failures onto the pipeline's transient/permanent
// split so the retry policy only burns attempts on retryable conditions.
func classifyError(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(eris.Wrap(err, "textanalysis: annotate"), apiErr.StatusCode)
	}
	if resilience.IsTransient(err) {
		return resilience.NewTransientError(eris.Wrap(err, "textanalysis: annotate"), 0)
	}
	return eris.Wrap(err, "textanalysis: annotate")
}

func parseResults(raw string, want int) ([]Result, error) {
	raw = strings.TrimSpace(raw)
	// Tolerate a fenced code block around the JSON.
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var results []Result
	if err := json.Unmarshal([]byte(raw), &results); err != nil {
		return nil, eris.Wrap(err, "textanalysis: decode response")
	}
	if len(results) != want {
		return nil, eris.Errorf("textanalysis: got %d results for %d inputs", len(results), want)
	}
	for i := range results {
		if results[i].Sentiment > 1 {
			results[i].Sentiment = 1
		}
		if results[i].Sentiment < -1 {
			results[i].Sentiment = -1
		}
	}
	return results, nil
}
