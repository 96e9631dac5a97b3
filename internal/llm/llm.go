// Package llm wraps an OpenAI-compatible endpoint for the two
// generation tasks in the pipeline: quiz question generation and video
// transcript evaluation.
package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/talentlab/funnel/internal/model"
)

// Client wraps an OpenAI-compatible API client.
type Client struct {
	api   *openai.Client
	model string
}

// New creates a new LLM client.
func New(baseURL, apiKey, modelName string) *Client {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &Client{
		api:   openai.NewClientWithConfig(config),
		model: modelName,
	}
}

// Ping verifies the endpoint is reachable with a minimal completion.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:     c.model,
		Messages:  []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	if err != nil {
		return fmt.Errorf("LLM ping: %w", err)
	}
	return nil
}

// QuizSpec describes the quiz to generate.
type QuizSpec struct {
	NumQuestions    int
	Difficulty      model.Difficulty
	Topics          []string
	TimePerQuestion int
	Type            model.QuestionType
}

// GeneratedQuestion is one question as returned by the model.
type GeneratedQuestion struct {
	Text          string   `json:"question_text"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// GenerateQuiz asks the model for a question set and parses the reply.
// The reply is tried as a clean JSON array first; if that fails, the
// first balanced [...] span is extracted and parsed. An unparseable
// reply is a hard error for the request.
func (c *Client) GenerateQuiz(ctx context.Context, spec QuizSpec) ([]GeneratedQuestion, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildQuizPrompt(spec)},
		},
		Temperature: 0.7,
	})
	if err != nil {
		return nil, fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("quiz generation response", "raw", raw)

	questions, err := parseQuestions(raw)
	if err != nil {
		return nil, fmt.Errorf("parse quiz response: %w", err)
	}
	if len(questions) == 0 {
		return nil, fmt.Errorf("LLM returned an empty question set")
	}
	return questions, nil
}

func parseQuestions(raw string) ([]GeneratedQuestion, error) {
	var questions []GeneratedQuestion
	if err := json.Unmarshal([]byte(raw), &questions); err == nil {
		return questions, nil
	}

	span := extractArray(raw)
	if span == "" {
		return nil, fmt.Errorf("no JSON array found in response")
	}
	if err := json.Unmarshal([]byte(span), &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

func buildQuizPrompt(spec QuizSpec) string {
	optionShape := `"option1", "option2", "option3", "option4"`
	answerShape := `the zero-based index of the correct option, as a string`
	if spec.Type == model.QuestionTrueFalse {
		optionShape = `"True", "False"`
		answerShape = `"true" or "false"`
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Generate a quiz with %d %s questions about %s.\n",
		spec.NumQuestions, spec.Type, strings.Join(spec.Topics, ", "))
	fmt.Fprintf(&sb, "Difficulty level: %s\n", spec.Difficulty)
	fmt.Fprintf(&sb, "Time per question: %d seconds\n\n", spec.TimePerQuestion)
	sb.WriteString("IMPORTANT: Return ONLY a valid JSON array of question objects, with no additional text or explanation.\n\n")
	sb.WriteString("Each question object must have this exact structure:\n")
	sb.WriteString("{\n")
	sb.WriteString(`  "question_text": "The question text",` + "\n")
	fmt.Fprintf(&sb, `  "options": [%s],`+"\n", optionShape)
	fmt.Fprintf(&sb, `  "correct_answer": %s`+"\n", answerShape)
	sb.WriteString("}\n\n")
	fmt.Fprintf(&sb, "Generate exactly %d questions in this format as a JSON array.\n", spec.NumQuestions)
	return sb.String()
}
