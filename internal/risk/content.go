package risk

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/clearpath-id/kyc-engine/internal/model"
	"github.com/clearpath-id/kyc-engine/pkg/anthropic"
)

const contentFraudSystem = `You are a document fraud analyst. You receive the
text fields extracted from an identity document. Assess how likely the
content is fabricated or tampered with: implausible names, inconsistent
dates, placeholder values, fields that contradict each other. Respond with a
single integer from 0 (clearly genuine) to 100 (clearly fraudulent) and
nothing else.`

var scoreRe = regexp.MustCompile(`\d{1,3}`)

// ContentFraudSource scores the semantic plausibility of extracted document
// text with an LLM. It sees field names and values only, never images.
type ContentFraudSource struct {
	client anthropic.Client
	model  string
	weight float64
}

func NewContentFraudSource(client anthropic.Client, modelID string, weight float64) *ContentFraudSource {
	return &ContentFraudSource{client: client, model: modelID, weight: weight}
}

func (s *ContentFraudSource) Name() string    { return SourceContentFraud }
func (s *ContentFraudSource) Weight() float64 { return s.weight }

func (s *ContentFraudSource) Score(ctx context.Context, subject SubjectContext) (model.RiskSignal, error) {
	resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     s.model,
		MaxTokens: 16,
		System:    []anthropic.SystemBlock{{Text: contentFraudSystem}},
		Messages: []anthropic.Message{
			{Role: "user", Content: renderFields(subject)},
		},
	})
	if err != nil {
		return model.RiskSignal{}, eris.Wrap(err, "risk: content fraud analysis")
	}
	resp.Usage.LogCost(s.model, "content_fraud")

	text := ""
	for _, block := range resp.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	raw, err := parseScore(text)
	if err != nil {
		return model.RiskSignal{}, err
	}
	return model.RiskSignal{
		RawScore:   raw,
		Normalized: clamp01(raw / 100),
	}, nil
}

func renderFields(subject SubjectContext) string {
	keys := make([]string, 0, len(subject.Fields))
	for k := range subject.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "document_type: %s\n", subject.DocumentType)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\n", k, subject.Fields[k].Value)
	}
	return b.String()
}

func parseScore(text string) (float64, error) {
	match := scoreRe.FindString(text)
	if match == "" {
		return 0, eris.Errorf("risk: no score in model response %q", text)
	}
	n, err := strconv.Atoi(match)
	if err != nil || n > 100 {
		return 0, eris.Errorf("risk: score %q out of range", match)
	}
	return float64(n), nil
}
