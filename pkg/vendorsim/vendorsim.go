// Package vendorsim plays vendors with a chat model so a group negotiation can
// run without a real email relay.
package vendorsim

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"
	contractx "github.com/tanpawarit/Vendor-Negotiation-Agent/agent/contract"
)

var (
	_ contractx.Channel = (*Simulator)(nil)

	ErrUnknownConversation = errors.New("unknown conversation")
)

// Profile is the persona of one simulated vendor.
type Profile struct {
	ExternalID string `json:"external_id"`
	Name       string `json:"name"`
	Behavior   string `json:"behavior,omitempty"`
	// Pricing tells the simulated vendor its list price and how far it may go.
	Pricing string `json:"pricing,omitempty"`
}

type conversation struct {
	mu      sync.Mutex
	system  string
	history []openai.ChatCompletionMessageParamUnion
}

type Simulator struct {
	client      *openai.Client
	model       string
	prompt      string
	temperature float64

	profiles map[string]Profile

	mu            sync.Mutex
	conversations map[string]*conversation
	newID         func() string
}

type Option func(*Simulator)

func WithTemperature(t float64) Option {
	return func(s *Simulator) { s.temperature = t }
}

func WithIDGenerator(fn func() string) Option {
	return func(s *Simulator) {
		if fn != nil {
			s.newID = fn
		}
	}
}

func New(client *openai.Client, model, prompt string, profiles []Profile, opts ...Option) (*Simulator, error) {
	if client == nil {
		return nil, errors.New("openai client is required")
	}
	if strings.TrimSpace(model) == "" {
		return nil, errors.New("vendor model is required")
	}
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("%w: vendor", contractx.ErrPromptMissing)
	}

	byID := make(map[string]Profile, len(profiles))
	for _, p := range profiles {
		byID[strings.TrimSpace(p.ExternalID)] = p
	}

	s := &Simulator{
		client:        client,
		model:         strings.TrimSpace(model),
		prompt:        strings.TrimSpace(prompt),
		temperature:   0.7,
		profiles:      byID,
		conversations: map[string]*conversation{},
		newID:         uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Simulator) OpenConversation(ctx context.Context, vendorExternalID string) (string, error) {
	externalID := strings.TrimSpace(vendorExternalID)
	if externalID == "" {
		return "", errors.New("vendorsim: vendor external id is required")
	}
	profile, ok := s.profiles[externalID]
	if !ok {
		profile = Profile{ExternalID: externalID, Name: externalID}
	}

	id := s.newID()
	s.mu.Lock()
	s.conversations[id] = &conversation{system: s.systemPrompt(profile)}
	s.mu.Unlock()

	log.Debug().Str("conversation_id", id).Str("vendor", profile.Name).Msg("simulated conversation opened")
	return id, nil
}

func (s *Simulator) SendAndAwaitReply(ctx context.Context, conversationID, body string) (string, error) {
	s.mu.Lock()
	conv, ok := s.conversations[conversationID]
	s.mu.Unlock()
	if !ok {
		return "", fmt.Errorf("vendorsim: %w: %s", ErrUnknownConversation, conversationID)
	}

	conv.mu.Lock()
	defer conv.mu.Unlock()

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(conv.history)+2)
	messages = append(messages, openai.SystemMessage(conv.system))
	messages = append(messages, conv.history...)
	messages = append(messages, openai.UserMessage(body))

	resp, err := s.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:       s.model,
		Messages:    messages,
		Temperature: openai.Float(s.temperature),
	})
	if err != nil {
		return "", fmt.Errorf("vendorsim: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("vendorsim: no choices in response")
	}

	reply := strings.TrimSpace(resp.Choices[0].Message.Content)
	conv.history = append(conv.history, openai.UserMessage(body), openai.AssistantMessage(reply))
	return reply, nil
}

func (s *Simulator) systemPrompt(p Profile) string {
	var b strings.Builder
	b.WriteString(s.prompt)
	fmt.Fprintf(&b, "\n\nYou work for %s.", p.Name)
	if v := strings.TrimSpace(p.Behavior); v != "" {
		b.WriteString("\nYour negotiation style: ")
		b.WriteString(v)
	}
	if v := strings.TrimSpace(p.Pricing); v != "" {
		b.WriteString("\nPricing: ")
		b.WriteString(v)
	}
	return b.String()
}
