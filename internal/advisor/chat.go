package advisor

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"

	"github.com/tatianab/terranaut/internal/models"
)

// Stream yields chat reply chunks. Next returns io.EOF after the last chunk.
type Stream interface {
	Next() (string, error)
}

// Collect drains s into one string. On error the partial text is returned too.
func Collect(s Stream) (string, error) {
	var sb strings.Builder
	for {
		chunk, err := s.Next()
		if errors.Is(err, io.EOF) {
			return sb.String(), nil
		}
		if err != nil {
			return sb.String(), err
		}
		sb.WriteString(chunk)
	}
}

// ChatRequest is one player question with optional farm context.
type ChatRequest struct {
	Message  string
	Location string
	Farm     *models.Setup
	State    models.FarmSession
	History  []models.AgentMessage
}

// historyTurns caps how many transcript lines go into the system instruction.
const historyTurns = 6

// QuestionPrefix marks player questions in a session transcript.
const QuestionPrefix = "> "

type turn struct {
	Speaker string
	Text    string
}

type chatPrompt struct {
	ChatRequest
	Recent []turn
}

// recentTurns labels the transcript by speaker, drops error notes and the
// pending question, and keeps the last n lines.
func recentTurns(history []models.AgentMessage, question string, n int) []turn {
	var out []turn
	for _, m := range history {
		if m.Type == models.MessageError {
			continue
		}
		if q, ok := strings.CutPrefix(m.Text, QuestionPrefix); ok {
			out = append(out, turn{"Player", q})
		} else {
			out = append(out, turn{"Terra AI", m.Text})
		}
	}
	if k := len(out) - 1; k >= 0 && out[k].Speaker == "Player" && out[k].Text == question {
		out = out[:k]
	}
	return tail(out, n)
}

// CannedReply is streamed when Gemini is not configured.
const CannedReply = "👨‍🌾🤖👨‍🚀 Your tomatoes look healthy!\nAll parameters are within the optimal range.\nIt looks like it will rain in your area in 4 days, so stay tuned and plan your irrigation accordingly.\nGreat job! 🌱 "

// Chat starts a streaming reply to req.
func (a *Advisor) Chat(ctx context.Context, req ChatRequest) (Stream, error) {
	if strings.TrimSpace(req.Message) == "" {
		return nil, errors.New("message is required")
	}
	if !a.Online() {
		return &sliceStream{chunks: []string{CannedReply}}, nil
	}
	system, err := render("chat_system.txt", chatPrompt{
		ChatRequest: req,
		Recent:      recentTurns(req.History, req.Message, historyTurns),
	})
	if err != nil {
		return nil, err
	}
	it := a.model(system, 0.8).GenerateContentStream(ctx, genai.Text(req.Message))
	return &geminiStream{ctx: ctx, it: it}, nil
}

func tail[T any](xs []T, n int) []T {
	if len(xs) > n {
		return xs[len(xs)-n:]
	}
	return xs
}

type geminiStream struct {
	ctx context.Context
	it  *genai.GenerateContentResponseIterator
}

func (g *geminiStream) Next() (string, error) {
	for {
		if err := g.ctx.Err(); err != nil {
			return "", err
		}
		resp, err := g.it.Next()
		if errors.Is(err, iterator.Done) {
			return "", io.EOF
		}
		if err != nil {
			return "", classify(err)
		}
		if text := responseText(resp); text != "" {
			return text, nil
		}
	}
}

type sliceStream struct {
	chunks []string
	next   int
}

func (s *sliceStream) Next() (string, error) {
	if s.next >= len(s.chunks) {
		return "", io.EOF
	}
	c := s.chunks[s.next]
	s.next++
	return c, nil
}
