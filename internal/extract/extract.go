// Package extract turns a finished feedback conversation into
// [types.StructuredFeedback] with a single structured-output LLM call.
package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	"github.com/MrWong99/feedbackd/internal/observe"
	"github.com/MrWong99/feedbackd/pkg/provider/llm"
	"github.com/MrWong99/feedbackd/pkg/types"
)

// ErrInvalidShape is returned when the model's answer does not decode into a
// valid analysis.
var ErrInvalidShape = errors.New("extract: invalid analysis shape")

const (
	schemaName         = "feedback_analysis"
	defaultTemperature = 0.3
)

const systemPrompt = `Analyze this feedback conversation and extract key information.
Look for:
- Overall sentiment (positive/negative/neutral)
- Numerical rating (1-10) if mentioned
- Suggestions for improvement
- Interest in Gen AI program (look for yes/no/maybe responses)
- Key positive or negative points mentioned about the event`

// analysis is the wire shape requested from the model.
type analysis struct {
	OverallSentiment string   `json:"overall_sentiment" jsonschema:"enum=positive,enum=negative,enum=neutral"`
	Rating           *int     `json:"rating" jsonschema:"description=Event rating from 1 to 10, or null when none was given"`
	Suggestions      []string `json:"suggestions" jsonschema:"description=Suggestions for improvement"`
	GenAIInterest    bool     `json:"genai_interest" jsonschema:"description=Whether the user is interested in the GenAI programme"`
	KeyPoints        []string `json:"key_points" jsonschema:"description=Key positive or negative points about the event"`
}

// Schema returns the JSON schema sent with every extraction request.
func Schema() *jsonschema.Schema {
	r := jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	s := r.Reflect(&analysis{})
	s.Version = ""
	if rating, ok := s.Properties.Get("rating"); ok {
		s.Properties.Set("rating", &jsonschema.Schema{
			Description: rating.Description,
			AnyOf: []*jsonschema.Schema{
				{Type: "integer", Minimum: json.Number("1"), Maximum: json.Number("10")},
				{Type: "null"},
			},
		})
	}
	return s
}

// Option is a functional option for [New].
type Option func(*LLMExtractor)

// WithMetrics records extraction latency on m.
func WithMetrics(m *observe.Metrics) Option {
	return func(e *LLMExtractor) {
		e.metrics = m
	}
}

// WithTemperature overrides the sampling temperature. Default: 0.3.
func WithTemperature(t float64) Option {
	return func(e *LLMExtractor) {
		e.temperature = t
	}
}

// LLMExtractor implements the finalize.Extractor contract on top of an
// [llm.Provider]. It is safe for concurrent use.
type LLMExtractor struct {
	provider    llm.Provider
	schema      *jsonschema.Schema
	temperature float64
	metrics     *observe.Metrics
}

// New returns an extractor that queries p.
func New(p llm.Provider, opts ...Option) *LLMExtractor {
	e := &LLMExtractor{
		provider:    p,
		schema:      Schema(),
		temperature: defaultTemperature,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Extract sends the transcript as a JSON array to the model and decodes the
// answer. Model errors are returned as is; undecodable or out-of-range answers
// wrap [ErrInvalidShape].
func (e *LLMExtractor) Extract(ctx context.Context, msgs []types.Message) (types.StructuredFeedback, error) {
	if len(msgs) == 0 {
		return types.StructuredFeedback{}, fmt.Errorf("%w: empty conversation", ErrInvalidShape)
	}
	transcript, err := json.Marshal(msgs)
	if err != nil {
		return types.StructuredFeedback{}, fmt.Errorf("extract: marshal transcript: %w", err)
	}

	start := time.Now()
	resp, err := e.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		Messages:     []types.Message{{Role: types.RoleUser, Content: string(transcript)}},
		Temperature:  e.temperature,
		ResponseSchema: &llm.ResponseSchema{
			Name:        schemaName,
			Description: "Structured analysis of an event feedback conversation.",
			Schema:      e.schema,
		},
	})
	if e.metrics != nil {
		e.metrics.RecordLLM(ctx, "extract", time.Since(start))
	}
	if err != nil {
		return types.StructuredFeedback{}, fmt.Errorf("extract: complete: %w", err)
	}
	if resp == nil {
		return types.StructuredFeedback{}, fmt.Errorf("%w: no response", ErrInvalidShape)
	}
	return Parse(resp.Content)
}

// Parse decodes a model answer into validated structured feedback. Markdown
// code fences and text around the JSON object are tolerated.
func Parse(content string) (types.StructuredFeedback, error) {
	raw := jsonObject(content)
	if raw == "" {
		return types.StructuredFeedback{}, fmt.Errorf("%w: no JSON object in response", ErrInvalidShape)
	}
	var a analysis
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		return types.StructuredFeedback{}, fmt.Errorf("%w: %w", ErrInvalidShape, err)
	}

	fb := types.StructuredFeedback{
		Sentiment:     types.Sentiment(strings.ToLower(strings.TrimSpace(a.OverallSentiment))),
		Rating:        a.Rating,
		Suggestions:   nonNil(a.Suggestions),
		GenAIInterest: a.GenAIInterest,
		KeyPoints:     nonNil(a.KeyPoints),
	}
	if err := Validate(fb); err != nil {
		return types.StructuredFeedback{}, err
	}
	return fb, nil
}

// Validate checks the sentiment enum and the rating range.
func Validate(fb types.StructuredFeedback) error {
	if !fb.Sentiment.IsValid() {
		return fmt.Errorf("%w: sentiment %q", ErrInvalidShape, fb.Sentiment)
	}
	if fb.Rating != nil && (*fb.Rating < 1 || *fb.Rating > 10) {
		return fmt.Errorf("%w: rating %d out of range 1..10", ErrInvalidShape, *fb.Rating)
	}
	return nil
}

func jsonObject(s string) string {
	start := strings.IndexByte(s, '{')
	end := strings.LastIndexByte(s, '}')
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
