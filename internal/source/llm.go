package source

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/numisworks/coindex/internal/model"
	"github.com/numisworks/coindex/pkg/llm"
)

const llmSystemPrompt = `You are a numismatic attribution assistant. Given a coin's
currently recorded fields, suggest corrected or missing values for: issuer, mint,
year_start, year_end, grade. Years are integers, negative for BCE. Respond with a
single JSON object mapping each field you have a suggestion for to
{"value": "...", "confidence": 0.0-1.0}. Omit fields you cannot improve. No prose.`

// LLMSource treats model suggestions exactly like any other external
// record: a snapshot of field values with per-field confidence, tagged
// with source "llm".
type LLMSource struct {
	client    llm.Client
	model     string
	maxTokens int64
}

// NewLLMSource creates the LLM suggestion source.
func NewLLMSource(client llm.Client, modelID string, maxTokens int64) *LLMSource {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &LLMSource{client: client, model: modelID, maxTokens: maxTokens}
}

func (s *LLMSource) Name() string { return "llm" }

// llmSuggestion is one field suggestion in the model's JSON reply.
type llmSuggestion struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// Fetch asks the model for field suggestions based on the coin's current
// state.
func (s *LLMSource) Fetch(ctx context.Context, coin *model.Coin) (*model.ExternalRecord, error) {
	prompt := buildPrompt(coin)
	if prompt == "" {
		return nil, eris.Wrap(ErrNotFound, "llm: coin has no recorded fields to reason from")
	}

	resp, err := s.client.CreateMessage(ctx, llm.MessageRequest{
		Model:     s.model,
		MaxTokens: s.maxTokens,
		System:    llmSystemPrompt,
		Messages:  []llm.Message{{Role: "user", Content: prompt}},
	})
	if err != nil {
		return nil, eris.Wrap(err, "llm: suggest")
	}

	var text strings.Builder
	for _, block := range resp.Content {
		text.WriteString(block.Text)
	}

	suggestions, err := parseSuggestions(text.String())
	if err != nil {
		return nil, err
	}
	if len(suggestions) == 0 {
		return nil, eris.Wrap(ErrNotFound, "llm: no suggestions")
	}

	fields := make(map[model.FieldName]string, len(suggestions))
	confidence := make(map[model.FieldName]float64, len(suggestions))
	for name, sg := range suggestions {
		field, err := model.ParseField(name)
		if err != nil {
			zap.L().Debug("llm: dropping suggestion for unknown field", zap.String("field", name))
			continue
		}
		fields[field] = sg.Value
		confidence[field] = clamp01(sg.Confidence)
	}

	return &model.ExternalRecord{
		Source:     s.Name(),
		CoinID:     coin.ID,
		Fields:     fields,
		Confidence: confidence,
		ObservedAt: time.Now().UTC(),
	}, nil
}

func buildPrompt(coin *model.Coin) string {
	var b strings.Builder
	for _, field := range []model.FieldName{
		model.FieldIssuer, model.FieldMint, model.FieldYearStart,
		model.FieldYearEnd, model.FieldState, model.FieldGrade,
		model.FieldWeight, model.FieldDiameter,
	} {
		if v, ok := coin.Field(field); ok {
			b.WriteString(string(field) + ": " + v + "\n")
		}
	}
	return b.String()
}

// parseSuggestions decodes the model's JSON reply, tolerating a markdown
// code fence around it.
func parseSuggestions(text string) (map[string]llmSuggestion, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	var out map[string]llmSuggestion
	if err := json.Unmarshal([]byte(text), &out); err != nil {
		return nil, eris.Wrap(err, "llm: parse suggestions")
	}
	return out, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
