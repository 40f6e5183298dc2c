package flow

import (
	"context"
	"fmt"
	"log/slog"
)

// DemoSystemPrompt instructs the model how to write the demo message.
const DemoSystemPrompt = "You write short, friendly product messages for IMSMS, a business messaging " +
	"service that delivers over iMessage. The sender is TEAMPLAYER. Keep the message under 600 characters, " +
	"use a few emoji and bullet points, mention rich media, two-way communication, real-time delivery " +
	"confirmation and lower cost than SMS, and end with a link to https://imsms.im. Reply with the message only."

// demoUserPrompt is the user prompt for a single demo message.
const demoUserPrompt = "Write a demo message for a new recipient who just opted in to receive iMessage from TEAMPLAYER."

// TextGenerator produces text from a system and a user prompt.
type TextGenerator interface {
	GenerateMessage(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GenAIGenerator asks a language model for the message body and falls back to another
// generator when the model fails.
type GenAIGenerator struct {
	Client       TextGenerator
	SystemPrompt string
	Fallback     Generator
}

// NewDemoGenAIGenerator returns a generator for demo copy that falls back to DemoMessage.
func NewDemoGenAIGenerator(client TextGenerator) *GenAIGenerator {
	return &GenAIGenerator{
		Client:       client,
		SystemPrompt: DemoSystemPrompt,
		Fallback:     &StaticGenerator{Body: DemoMessage},
	}
}

// Generate generates the message body using GenAI.
func (g *GenAIGenerator) Generate(ctx context.Context, req MessageRequest) (string, error) {
	body, err := g.Client.GenerateMessage(ctx, g.SystemPrompt, demoUserPrompt)
	if err == nil {
		slog.Debug("GenAIGenerator.Generate: generated message", "kind", req.Kind, "sessionID", req.SessionID, "length", len(body))
		return body, nil
	}
	if g.Fallback == nil {
		return "", fmt.Errorf("generate %s message: %w", req.Kind, err)
	}
	slog.Warn("GenAIGenerator.Generate: model failed, using fallback copy", "kind", req.Kind, "sessionID", req.SessionID, "error", err)
	return g.Fallback.Generate(ctx, req)
}
