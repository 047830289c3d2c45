package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"debate-arena/engine"
	"debate-arena/models"
	"debate-arena/utils"
)

// Argument is a narrated, judged turn: the acting agent's message, a 1-10
// quality rating from the judge pass, and an optional image description the
// model attached via a trailing [IMAGE: ...] marker.
type Argument struct {
	Message   string
	Rating    int
	ImageHint string
}

// ArgumentRequest carries everything the narrator needs for one turn.
type ArgumentRequest struct {
	Acting    string // display name of the agent speaking this turn
	Target    string // display name of the opposing agent
	Character string // character the acting agent defends
	History   []models.ChatEntry
}

// Narrator produces the opening narration and per-turn arguments. The match
// service depends only on this interface; the LLM provider behind it is
// swappable.
type Narrator interface {
	Opening(ctx context.Context, characters, agents [2]string) (string, error)
	NextArgument(ctx context.Context, req ArgumentRequest) (Argument, error)
}

const (
	groqBaseURL      = "https://api.groq.com/openai/v1"
	defaultGroqModel = "llama-3.3-70b-versatile"
	chatTemperature  = 0.7
	maxChatRetries   = 3
)

// errMalformed marks an upstream reply with no usable content. Callers
// degrade to a default outcome instead of failing the turn.
var errMalformed = errors.New("malformed chat completion")

var ratingRe = regexp.MustCompile(`Rating:\s*(\d+)`)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// GroqNarrator backs the Narrator interface with the Groq OpenAI-compatible
// chat-completions API: one call for the in-character argument, a second
// independent call to judge it.
type GroqNarrator struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	backoff    func(attempt int) time.Duration
}

func NewGroqNarrator(apiKey, model string) *GroqNarrator {
	return NewGroqNarratorWithBaseURL(apiKey, model, groqBaseURL)
}

// NewGroqNarratorWithBaseURL builds a narrator against a custom endpoint
// (used by tests).
func NewGroqNarratorWithBaseURL(apiKey, model, baseURL string) *GroqNarrator {
	if model == "" {
		model = defaultGroqModel
	}
	return &GroqNarrator{
		apiKey:     apiKey,
		model:      model,
		baseURL:    baseURL,
		httpClient: utils.HTTPClient,
		backoff:    defaultBackoff,
	}
}

func defaultBackoff(attempt int) time.Duration {
	return time.Duration(1<<uint(attempt)) * time.Second
}

// Opening asks the moderator persona to introduce the match.
func (n *GroqNarrator) Opening(ctx context.Context, characters, agents [2]string) (string, error) {
	system := "You are moderating a debate between two passionate fans of different characters. " +
		"Your role is to introduce the debate and set the stage for an intense discussion."
	user := fmt.Sprintf(`Introduce a debate about %s vs %s between %s and %s.
Set the stage for an intense debate between these characters' fans, considering their potential strengths, weaknesses, and popular opinions.
Encourage the debaters to argue passionately for their favorite character.`,
		characters[0], characters[1], agents[0], agents[1])

	content, err := n.callChat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if err != nil {
		return "", err
	}
	return content, nil
}

// NextArgument narrates and judges one turn. Malformed model output (empty
// content, missing rating line) degrades to defaults and never fails the
// turn; transport and API errors propagate.
func (n *GroqNarrator) NextArgument(ctx context.Context, req ArgumentRequest) (Argument, error) {
	system := fmt.Sprintf("You are %s, a quick-witted debater for %s. Be concise, witty, and persuasive. "+
		"Respond in 25 words or less. Optionally, suggest an image to illustrate your point by adding "+
		"[IMAGE: description] at the end of your message.", req.Acting, req.Character)
	user := fmt.Sprintf(`Recent debate:
%s

As %s, defend %s against %s's arguments. Be quick and clever!`,
		formatHistory(req.History), req.Acting, req.Character, req.Target)

	content, err := n.callChat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if errors.Is(err, errMalformed) {
		return Argument{Rating: engine.DefaultRating}, nil
	}
	if err != nil {
		return Argument{}, err
	}

	message, hint := splitImageHint(content)
	if message == "" {
		return Argument{Rating: engine.DefaultRating, ImageHint: hint}, nil
	}

	rating, err := n.judge(ctx, message)
	if err != nil {
		return Argument{}, err
	}

	return Argument{Message: message, Rating: rating, ImageHint: hint}, nil
}

func (n *GroqNarrator) judge(ctx context.Context, message string) (int, error) {
	system := "You are a quick judge evaluating debate arguments. Rate from 1-10 and explain in one short sentence."
	user := fmt.Sprintf(`Evaluate: %s

Format:
Rating: [1-10]
Explanation: [1 short sentence]`, message)

	content, err := n.callChat(ctx, []chatMessage{
		{Role: "system", Content: system},
		{Role: "user", Content: user},
	})
	if errors.Is(err, errMalformed) {
		return engine.DefaultRating, nil
	}
	if err != nil {
		return 0, err
	}
	return parseRating(content), nil
}

func (n *GroqNarrator) callChat(ctx context.Context, messages []chatMessage) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       n.model,
		Messages:    messages,
		Temperature: chatTemperature,
	})
	if err != nil {
		return "", fmt.Errorf("groq: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= maxChatRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(n.backoff(attempt - 1)):
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/chat/completions", bytes.NewReader(body))
		if err != nil {
			return "", fmt.Errorf("groq: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+n.apiKey)
		req.Header.Set("Content-Type", "application/json")

		resp, err := n.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("groq: %w", err)
		}

		if isRetryable(resp.StatusCode) {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			lastErr = fmt.Errorf("groq: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
			continue
		}
		if resp.StatusCode != http.StatusOK {
			respBody, _ := io.ReadAll(resp.Body)
			resp.Body.Close()
			return "", fmt.Errorf("groq: status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}

		var cr chatResponse
		if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
			resp.Body.Close()
			return "", fmt.Errorf("groq: %w", err)
		}
		resp.Body.Close()

		if len(cr.Choices) == 0 || strings.TrimSpace(cr.Choices[0].Message.Content) == "" {
			return "", errMalformed
		}
		return strings.TrimSpace(cr.Choices[0].Message.Content), nil
	}
	return "", fmt.Errorf("groq: max retries exceeded: %w", lastErr)
}

func isRetryable(statusCode int) bool {
	return statusCode == http.StatusTooManyRequests || statusCode >= 500
}

// parseRating extracts the "Rating: N" line from the judge's reply, clamped
// to the 1-10 scale. A reply with no parsable rating scores the default
// midpoint rather than failing the turn.
func parseRating(content string) int {
	m := ratingRe.FindStringSubmatch(content)
	if m == nil {
		return engine.DefaultRating
	}
	rating, err := strconv.Atoi(m[1])
	if err != nil {
		return engine.DefaultRating
	}
	if rating < engine.MinRating {
		return engine.MinRating
	}
	if rating > engine.MaxRating {
		return engine.MaxRating
	}
	return rating
}

// splitImageHint separates a trailing "[IMAGE: description]" marker from the
// message prose. Messages without a marker come back unchanged.
func splitImageHint(content string) (message, hint string) {
	idx := strings.Index(content, "[IMAGE:")
	if idx < 0 {
		return strings.TrimSpace(content), ""
	}
	message = strings.TrimSpace(content[:idx])
	rest := content[idx+len("[IMAGE:"):]
	if end := strings.Index(rest, "]"); end >= 0 {
		rest = rest[:end]
	}
	return message, strings.TrimSpace(rest)
}

func formatHistory(history []models.ChatEntry) string {
	lines := make([]string, 0, len(history))
	for _, entry := range history {
		lines = append(lines, fmt.Sprintf("%s: %s", entry.Agent, entry.Message))
	}
	return strings.Join(lines, "\n")
}
