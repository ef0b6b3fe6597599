package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/clawd/internal/providers"
	"github.com/nextlevelbuilder/clawd/pkg/protocol"
)

// Summarizer condenses a slice of messages into one summary string.
type Summarizer interface {
	Summarize(ctx context.Context, messages []protocol.Message) (string, error)
}

// Compactor keeps a conversation inside the model window. When the
// token estimate crosses the threshold, the older half of the history
// is replaced by a single summary message.
type Compactor struct {
	threshold  int
	summarizer Summarizer
}

// NewCompactor builds a compactor with a token threshold.
func NewCompactor(threshold int, summarizer Summarizer) *Compactor {
	if threshold <= 0 {
		threshold = 10000
	}
	return &Compactor{threshold: threshold, summarizer: summarizer}
}

// Compact returns the messages unchanged when under the threshold;
// otherwise it summarizes the older half into a system message tagged
// {compacted, original_count} and prepends it to the newer half. A
// single message that alone exceeds the threshold passes through with
// a warning — there is nothing left to split.
func (c *Compactor) Compact(ctx context.Context, messages []protocol.Message) ([]protocol.Message, error) {
	tokens := EstimateTokens(messages)
	if tokens <= c.threshold {
		return messages, nil
	}

	splitPoint := len(messages) / 2
	if splitPoint == 0 {
		slog.Warn("single message exceeds compaction threshold, cannot compact",
			"tokens", tokens, "threshold", c.threshold)
		return messages, nil
	}

	slog.Info("compacting history", "tokens", tokens, "threshold", c.threshold,
		"messages", len(messages), "summarized", splitPoint)

	older, newer := messages[:splitPoint], messages[splitPoint:]

	summary, err := c.summarizer.Summarize(ctx, older)
	if err != nil {
		return nil, protocol.WrapError(protocol.KindLLM, "summarize history", err)
	}

	summaryMsg := protocol.NewMessageWithMetadata(protocol.RoleSystem, summary, map[string]any{
		"compacted":      true,
		"original_count": len(older),
	})

	compacted := make([]protocol.Message, 0, len(newer)+1)
	compacted = append(compacted, summaryMsg)
	compacted = append(compacted, newer...)
	return compacted, nil
}

// EstimateTokens estimates token count as total content characters / 4.
func EstimateTokens(messages []protocol.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total / 4
}

// LLMSummarizer summarizes through the provider client.
type LLMSummarizer struct {
	client providers.Client
}

// NewLLMSummarizer wraps a provider client.
func NewLLMSummarizer(client providers.Client) *LLMSummarizer {
	return &LLMSummarizer{client: client}
}

// Summarize asks the model for a concise summary of the given turns.
func (s *LLMSummarizer) Summarize(ctx context.Context, messages []protocol.Message) (string, error) {
	var sb strings.Builder
	sb.WriteString("Provide a concise summary of this conversation, preserving key context:\n\n")
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Text())
	}

	prompt := protocol.NewMessage(protocol.RoleUser, sb.String())
	resp, err := s.client.Call(ctx, "", []protocol.Message{prompt}, nil)
	if err != nil {
		return "", err
	}
	if resp.Type != protocol.ResponseFinal {
		return "", fmt.Errorf("summarizer returned a tool call")
	}
	return resp.Content, nil
}
