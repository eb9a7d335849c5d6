package commands

import (
	"context"

	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

func (s *set) currentWeather(ctx context.Context, req *mesh.Request) error {
	if s.Weather == nil {
		return req.Reply.SendSingle(ctx, "Weather is not configured")
	}
	report, err := s.Weather.Current(ctx)
	if err != nil {
		return err
	}
	return req.Reply.SendSingle(ctx, report)
}

func (s *set) rainForecast(ctx context.Context, req *mesh.Request) error {
	if s.Weather == nil {
		return req.Reply.SendSingle(ctx, "Weather is not configured")
	}
	report, err := s.Weather.RainForecast(ctx)
	if err != nil {
		return err
	}
	return req.Reply.SendSingle(ctx, report)
}

func (s *set) askAI(ctx context.Context, req *mesh.Request) error {
	return s.ask(ctx, req, "")
}

// askAIItalian backs /ia, the Italian-language alias of /ai.
func (s *set) askAIItalian(ctx context.Context, req *mesh.Request) error {
	return s.ask(ctx, req, "Rispondi in italiano. ")
}

func (s *set) ask(ctx context.Context, req *mesh.Request, prefix string) error {
	if s.AI == nil {
		return req.Reply.SendSingle(ctx, "AI assistant is not configured")
	}
	question := arg(req.Text)
	if question == "" {
		return req.Reply.SendSingle(ctx, "Usage: "+commandOf(req.Text)+" <question>")
	}

	answer, err := s.AI.Ask(ctx, prefix+question)
	if err != nil {
		return err
	}
	return req.Reply.SendChunks(ctx, answer)
}

func commandOf(text string) string {
	for i, r := range text {
		if r == ' ' {
			return text[:i]
		}
	}
	return text
}
