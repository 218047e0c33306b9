package timeparse

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"go.uber.org/zap"

	logpkg "github.com/paranoiabot/reminderd/internal/logger"
	"github.com/paranoiabot/reminderd/internal/models"
)

const (
	// DefaultModel is the default model to use
	DefaultModel = "gpt-4o-mini"
	// DefaultBaseURL is the default OpenAI API base URL
	DefaultBaseURL = "https://api.openai.com/v1"
	// DefaultTimeout is the default timeout for API calls
	DefaultTimeout = 15 * time.Second

	// MinConfidence is the confidence below which a parse is rejected
	MinConfidence = 0.5
)

// ErrUnparseable is returned when no schedule could be extracted from the text.
var ErrUnparseable = errors.New("could not extract a schedule from text")

// ParsedSchedule is the structured result of parsing a natural-language
// reminder phrase ("water the plants every monday at 9").
type ParsedSchedule struct {
	// Text is the reminder text with the schedule phrase stripped.
	Text string
	// At is the first occurrence, in UTC.
	At time.Time
	// ParanoiaLevel is set when the phrase names one explicitly.
	ParanoiaLevel *int
	Recurrence    *models.RecurrenceRule
	Confidence    float64
}

// Parser extracts a schedule from free-form reminder text.
type Parser interface {
	Parse(ctx context.Context, text string, now time.Time) (*ParsedSchedule, error)
}

// OpenAIParser implements Parser using OpenAI's chat completions API.
type OpenAIParser struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

// NewOpenAIParser creates a parser backed by the OpenAI API.
func NewOpenAIParser(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIParser {
	if model == "" {
		model = DefaultModel
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	httpClient := &http.Client{
		Timeout: DefaultTimeout,
	}

	client := openai.NewClient(
		option.WithAPIKey(apiKey),
		option.WithBaseURL(baseURL),
		option.WithHTTPClient(httpClient),
	)

	return &OpenAIParser{
		client: client,
		model:  model,
		logger: logger,
	}
}

// Parse extracts a schedule from text. Simple relative phrases ("in 10m")
// are resolved locally; everything else goes to the model.
func (p *OpenAIParser) Parse(ctx context.Context, text string, now time.Time) (*ParsedSchedule, error) {
	if parsed, ok := quickParse(text, now); ok {
		return parsed, nil
	}

	prompt := buildPrompt(text, now)
	messages := []openai.ChatCompletionMessageParamUnion{
		openai.SystemMessage("You extract reminder schedules from short messages. Respond with valid JSON only."),
		openai.UserMessage(prompt),
	}
	req := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(p.model),
		Messages: messages,
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	}

	start := time.Now()
	resp, err := p.client.Chat.Completions.New(ctx, req)
	latency := time.Since(start)
	if err != nil {
		p.logger.Debug("timeparse_api_error",
			zap.String("model", p.model),
			zap.Error(err),
			zap.Duration("latency_ms", latency),
		)
		return nil, fmt.Errorf("schedule parse request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	raw := resp.Choices[0].Message.Content
	p.logger.Debug("timeparse_response",
		zap.String("model", p.model),
		zap.Duration("latency_ms", latency),
		zap.String("content", logpkg.SanitizeModelOutput(raw)),
	)

	parsed, err := parseResponse(raw, now)
	if err != nil {
		return nil, err
	}
	if parsed.Text == "" {
		parsed.Text = text
	}
	return parsed, nil
}

// quickParse handles "<text> in <N>(m|h|d)" locally so trivial reminders
// never pay a model round trip.
func quickParse(text string, now time.Time) (*ParsedSchedule, bool) {
	idx := strings.LastIndex(strings.ToLower(text), " in ")
	if idx < 0 {
		return nil, false
	}
	phrase := strings.TrimSpace(text[idx+4:])
	d, err := parseRelativeDuration(phrase)
	if err != nil {
		return nil, false
	}
	return &ParsedSchedule{
		Text:       strings.TrimSpace(text[:idx]),
		At:         now.UTC().Add(d),
		Confidence: 1.0,
	}, true
}

func parseRelativeDuration(phrase string) (time.Duration, error) {
	fields := strings.Fields(phrase)
	var num, unit string
	switch len(fields) {
	case 1:
		s := fields[0]
		i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
		if i <= 0 {
			return 0, ErrUnparseable
		}
		num, unit = s[:i], s[i:]
	case 2:
		num, unit = fields[0], fields[1]
	default:
		return 0, ErrUnparseable
	}

	var n int
	if _, err := fmt.Sscanf(num, "%d", &n); err != nil || n <= 0 {
		return 0, ErrUnparseable
	}

	switch strings.ToLower(strings.TrimSuffix(unit, "s")) {
	case "m", "min", "minute":
		return time.Duration(n) * time.Minute, nil
	case "h", "hr", "hour":
		return time.Duration(n) * time.Hour, nil
	case "d", "day":
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, ErrUnparseable
	}
}

func buildPrompt(text string, now time.Time) string {
	var b strings.Builder
	b.WriteString("Extract the reminder schedule from the message below.\n")
	fmt.Fprintf(&b, "Current time: %s (%s)\n\n", now.UTC().Format(time.RFC3339), now.UTC().Weekday())
	fmt.Fprintf(&b, "Message: %q\n\n", text)
	b.WriteString(`Respond with a JSON object:
{
  "text": "the reminder text with the schedule phrase removed",
  "at": "first occurrence as RFC3339 UTC",
  "recurrence": {"type": "daily|weekly|monthly", "interval": 1, "days_of_week": [1], "end_date": null} or null,
  "paranoia_level": 0-5 or null,
  "confidence": 0.0-1.0
}
days_of_week uses 0=Sunday..6=Saturday. Set confidence below 0.5 when the message names no time at all.`)
	return b.String()
}

func parseResponse(content string, now time.Time) (*ParsedSchedule, error) {
	var body struct {
		Text       string `json:"text"`
		At         string `json:"at"`
		Recurrence *struct {
			Type       string     `json:"type"`
			Interval   int        `json:"interval"`
			DaysOfWeek []int      `json:"days_of_week"`
			EndDate    *time.Time `json:"end_date"`
		} `json:"recurrence"`
		ParanoiaLevel *int    `json:"paranoia_level"`
		Confidence    float64 `json:"confidence"`
	}

	raw := content
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		if len(raw) > 0 && raw[0] != '{' {
			start := bytes.Index([]byte(raw), []byte("{"))
			end := bytes.LastIndex([]byte(raw), []byte("}"))
			if start != -1 && end != -1 && end > start {
				raw = raw[start : end+1]
			}
		}
		if err := json.Unmarshal([]byte(raw), &body); err != nil {
			return nil, fmt.Errorf("failed to parse schedule response: %w", err)
		}
	}

	if body.Confidence < MinConfidence {
		return nil, ErrUnparseable
	}

	at, err := time.Parse(time.RFC3339, body.At)
	if err != nil {
		return nil, fmt.Errorf("failed to parse schedule timestamp: %w", err)
	}
	at = at.UTC()
	if !at.After(now.UTC()) {
		return nil, ErrUnparseable
	}

	parsed := &ParsedSchedule{
		Text:       strings.TrimSpace(body.Text),
		At:         at,
		Confidence: body.Confidence,
	}

	if body.ParanoiaLevel != nil {
		level := models.ClampParanoia(*body.ParanoiaLevel)
		parsed.ParanoiaLevel = &level
	}

	if body.Recurrence != nil {
		rule := &models.RecurrenceRule{
			Type:     models.RecurrenceType(body.Recurrence.Type),
			Interval: body.Recurrence.Interval,
			EndDate:  body.Recurrence.EndDate,
		}
		if rule.Interval <= 0 {
			rule.Interval = 1
		}
		switch rule.Type {
		case models.RecurrenceDaily, models.RecurrenceWeekly, models.RecurrenceMonthly:
		default:
			return nil, fmt.Errorf("unknown recurrence type %q", body.Recurrence.Type)
		}
		for _, d := range body.Recurrence.DaysOfWeek {
			if d < 0 || d > 6 {
				return nil, fmt.Errorf("day of week %d out of range", d)
			}
			rule.DaysOfWeek = append(rule.DaysOfWeek, time.Weekday(d))
		}
		parsed.Recurrence = rule
	}

	return parsed, nil
}
