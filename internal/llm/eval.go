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

// maxTranscriptChars bounds the transcript length sent to the model.
// Longer transcripts are silently truncated, never rejected.
const maxTranscriptChars = 8000

// fallbackSummary marks a fallback evaluation; it is the only way a
// caller can tell a genuine 50 from a parse failure besides Outcome.
const fallbackSummary = "Video analysis completed with basic scoring"

// Evaluation is the structured rubric breakdown for one video.
// The four sub-scores always sum to TotalScore.
type Evaluation struct {
	RelevanceScore      int    `json:"relevance_score"`
	ContentQualityScore int    `json:"content_quality_score"`
	PresentationScore   int    `json:"presentation_score"`
	EngagementScore     int    `json:"engagement_score"`
	TotalScore          int    `json:"total_score"`
	Summary             string `json:"summary"`
	Feedback            string `json:"feedback"`
	TopicAlignment      string `json:"topic_alignment"`
}

// FallbackEvaluation returns the fixed evaluation substituted when the
// model's reply cannot be parsed. It is a degraded-but-valid record,
// not an error state.
func FallbackEvaluation() Evaluation {
	return Evaluation{
		RelevanceScore:      20,
		ContentQualityScore: 15,
		PresentationScore:   10,
		EngagementScore:     5,
		TotalScore:          50,
		Summary:             fallbackSummary,
		Feedback:            "The evaluation response could not be interpreted; a neutral score was assigned.",
		TopicAlignment:      "unknown",
	}
}

// EvaluateVideo scores a transcript against the fixed rubric. A
// transport or API failure is returned as an error (per-item hard
// failure); an unparseable reply is not an error — the fixed fallback
// evaluation is substituted and tagged. The generation call is never
// retried on a parse failure.
func (c *Client) EvaluateVideo(ctx context.Context, transcript, topic, quizName string) (Evaluation, model.EvalOutcome, error) {
	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: buildEvalPrompt(transcript, topic, quizName)},
		},
		Temperature: 0.2,
	})
	if err != nil {
		return Evaluation{}, "", fmt.Errorf("LLM API call: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Evaluation{}, "", fmt.Errorf("LLM returned no choices")
	}

	raw := resp.Choices[0].Message.Content
	slog.Debug("video evaluation response", "raw", raw)

	eval, outcome := ParseEvaluation(raw)
	if outcome == model.OutcomeFallback {
		slog.Warn("evaluation response unparseable, using fallback", "quiz", quizName)
	}
	return eval, outcome, nil
}

// evalWire mirrors Evaluation with pointer fields so absent keys can be
// told apart from explicit zeros.
type evalWire struct {
	RelevanceScore      *int   `json:"relevance_score"`
	ContentQualityScore *int   `json:"content_quality_score"`
	PresentationScore   *int   `json:"presentation_score"`
	EngagementScore     *int   `json:"engagement_score"`
	TotalScore          *int   `json:"total_score"`
	Summary             string `json:"summary"`
	Feedback            string `json:"feedback"`
	TopicAlignment      string `json:"topic_alignment"`
}

// ParseEvaluation turns raw model output into an Evaluation. It tries a
// strict parse of the whole reply first, then the first balanced {...}
// span. Missing or out-of-range sub-scores force the fallback; a total
// that disagrees with the sub-score sum is recomputed and tagged.
func ParseEvaluation(raw string) (Evaluation, model.EvalOutcome) {
	var wire evalWire
	if err := json.Unmarshal([]byte(raw), &wire); err != nil {
		span := extractObject(raw)
		if span == "" {
			return FallbackEvaluation(), model.OutcomeFallback
		}
		if err := json.Unmarshal([]byte(span), &wire); err != nil {
			return FallbackEvaluation(), model.OutcomeFallback
		}
	}

	if wire.RelevanceScore == nil || wire.ContentQualityScore == nil ||
		wire.PresentationScore == nil || wire.EngagementScore == nil {
		return FallbackEvaluation(), model.OutcomeFallback
	}

	eval := Evaluation{
		RelevanceScore:      *wire.RelevanceScore,
		ContentQualityScore: *wire.ContentQualityScore,
		PresentationScore:   *wire.PresentationScore,
		EngagementScore:     *wire.EngagementScore,
		Summary:             strings.TrimSpace(wire.Summary),
		Feedback:            strings.TrimSpace(wire.Feedback),
		TopicAlignment:      strings.TrimSpace(wire.TopicAlignment),
	}

	if !inRange(eval.RelevanceScore, 40) || !inRange(eval.ContentQualityScore, 30) ||
		!inRange(eval.PresentationScore, 20) || !inRange(eval.EngagementScore, 10) {
		return FallbackEvaluation(), model.OutcomeFallback
	}

	sum := eval.RelevanceScore + eval.ContentQualityScore + eval.PresentationScore + eval.EngagementScore
	eval.TotalScore = sum
	if wire.TotalScore != nil && *wire.TotalScore == sum {
		return eval, model.OutcomeParsed
	}
	return eval, model.OutcomeRepaired
}

func inRange(v, max int) bool {
	return v >= 0 && v <= max
}

func buildEvalPrompt(transcript, topic, quizName string) string {
	transcript = truncateTranscript(transcript)

	var sb strings.Builder
	sb.WriteString("You are evaluating a student's contest video for an AI-skills bootcamp selection. ")
	fmt.Fprintf(&sb, "The student qualified through the quiz %q and was asked to cover the topic %q.\n\n", quizName, topic)
	sb.WriteString("VIDEO TRANSCRIPT:\n")
	sb.WriteString(transcript)
	sb.WriteString("\n\nScore the video on these four criteria:\n")
	sb.WriteString("- relevance_score: relevance to the assigned topic (0-40)\n")
	sb.WriteString("- content_quality_score: depth and accuracy of the content (0-30)\n")
	sb.WriteString("- presentation_score: clarity and structure of the presentation (0-20)\n")
	sb.WriteString("- engagement_score: how engaging the delivery is (0-10)\n\n")
	sb.WriteString("Respond ONLY with a JSON object with these fields:\n")
	sb.WriteString(`{"relevance_score": <0-40>, "content_quality_score": <0-30>, "presentation_score": <0-20>, "engagement_score": <0-10>, "total_score": <sum of the four>, "summary": "<two-sentence summary>", "feedback": "<constructive feedback>", "topic_alignment": "<high|medium|low>"}`)
	sb.WriteString("\n")
	return sb.String()
}

func truncateTranscript(transcript string) string {
	runes := []rune(transcript)
	if len(runes) <= maxTranscriptChars {
		return transcript
	}
	return string(runes[:maxTranscriptChars])
}
