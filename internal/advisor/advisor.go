// Package advisor is Terra AI: recommendations, optimal crop bands, timeline
// interpretation and streaming chat backed by Gemini. Without an API key it
// answers from canned text.
package advisor

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"text/template"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/tatianab/terranaut/internal/fieldcheck"
)

// ModelName is the Gemini model used for every call.
const ModelName = "gemini-2.5-flash"

// User-facing texts for gateway errors.
const (
	RateLimitedMessage     = "Rate limits exceeded, please try again later."
	PaymentRequiredMessage = "Payment required, please add funds to your workspace."
)

var (
	ErrRateLimited     = errors.New("advisor: rate limited")
	ErrPaymentRequired = errors.New("advisor: payment required")
	ErrNoContent       = errors.New("advisor: no content returned from Gemini")
)

//go:embed prompts/*.txt
var promptFS embed.FS

var prompts = template.Must(template.New("prompts").Funcs(template.FuncMap{
	"status": statusLabel,
	"pct":    func(v float64) float64 { return v * 100 },
}).ParseFS(promptFS, "prompts/*.txt"))

func statusLabel(s fieldcheck.Status) string {
	switch s {
	case fieldcheck.StatusGreen:
		return "✅ Optimal"
	case fieldcheck.StatusYellow:
		return "⚠️ Slight deviation"
	default:
		return "🚨 Out of range"
	}
}

func render(name string, data any) (string, error) {
	var buf bytes.Buffer
	if err := prompts.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

type Advisor struct {
	client *genai.Client
	Logger *log.Logger
}

// New connects to Gemini. An empty apiKey returns an offline advisor.
func New(ctx context.Context, apiKey string) (*Advisor, error) {
	a := &Advisor{Logger: log.New(os.Stderr, "[advisor] ", log.LstdFlags)}
	if apiKey == "" {
		return a, nil
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, err
	}
	a.client = client
	return a, nil
}

// Offline returns an advisor that never calls Gemini.
func Offline() *Advisor {
	return &Advisor{}
}

// Online reports whether calls reach Gemini.
func (a *Advisor) Online() bool {
	return a.client != nil
}

func (a *Advisor) Close() {
	if a.client != nil {
		a.client.Close()
	}
}

func (a *Advisor) model(system string, temperature float32) *genai.GenerativeModel {
	m := a.client.GenerativeModel(ModelName)
	if system != "" {
		m.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}
	}
	m.SetTemperature(temperature)
	return m
}

// generate runs a single prompt and returns the text of the first candidate.
func (a *Advisor) generate(ctx context.Context, m *genai.GenerativeModel, prompt string) (string, error) {
	resp, err := m.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		a.logf("generate: %v", err)
		return "", classify(err)
	}
	text := responseText(resp)
	if text == "" {
		return "", ErrNoContent
	}
	return text, nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if t, ok := p.(genai.Text); ok {
			sb.WriteString(string(t))
		}
	}
	return sb.String()
}

// classify maps gateway quota and billing failures to ErrRateLimited and
// ErrPaymentRequired.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", ErrRateLimited, err)
		case http.StatusPaymentRequired:
			return fmt.Errorf("%w: %v", ErrPaymentRequired, err)
		}
	}
	if st, ok := status.FromError(err); ok && st.Code() == codes.ResourceExhausted {
		return fmt.Errorf("%w: %v", ErrRateLimited, err)
	}
	return err
}

// UserMessage returns the text to show for a gateway error, or "" for other errors.
func UserMessage(err error) string {
	switch {
	case errors.Is(err, ErrRateLimited):
		return RateLimitedMessage
	case errors.Is(err, ErrPaymentRequired):
		return PaymentRequiredMessage
	default:
		return ""
	}
}

func (a *Advisor) logf(format string, args ...any) {
	if a.Logger != nil {
		a.Logger.Printf(format, args...)
	}
}
