package replywait

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/dohr-michael/envoy/internal/models"
)

// ModelJudge evaluates replies and drafts follow-ups with a chat model.
type ModelJudge struct {
	models    *models.Registry
	modelName string // empty means the registry default
}

// NewModelJudge creates an LLM-backed judge. modelName may be empty to use
// the default provider.
func NewModelJudge(registry *models.Registry, modelName string) *ModelJudge {
	return &ModelJudge{models: registry, modelName: modelName}
}

// Evaluate asks the model whether the reply satisfies the success criteria.
func (j *ModelJudge) Evaluate(ctx context.Context, in EvaluateInput) (*Judgment, error) {
	chatModel, err := j.chatModel(ctx)
	if err != nil {
		return nil, err
	}

	msgs := []*schema.Message{
		{Role: schema.User, Content: buildEvaluatePrompt(in)},
	}

	result, err := chatModel.Generate(ctx, msgs)
	if err != nil {
		return nil, fmt.Errorf("judge: generate: %w", models.HandleError(err))
	}

	return parseJudgment(result.Content), nil
}

// GenerateFollowup asks the model for a short follow-up message body.
func (j *ModelJudge) GenerateFollowup(ctx context.Context, in FollowupInput) (string, error) {
	chatModel, err := j.chatModel(ctx)
	if err != nil {
		return "", err
	}

	msgs := []*schema.Message{
		{Role: schema.User, Content: buildFollowupPrompt(in)},
	}

	result, err := chatModel.Generate(ctx, msgs)
	if err != nil {
		return "", fmt.Errorf("judge: generate followup: %w", models.HandleError(err))
	}

	body := strings.TrimSpace(result.Content)
	if body == "" {
		return "", fmt.Errorf("judge: empty followup from model")
	}
	return body, nil
}

func (j *ModelJudge) chatModel(ctx context.Context) (model.ToolCallingChatModel, error) {
	if j.modelName != "" {
		chatModel, err := j.models.Get(ctx, j.modelName)
		if err == nil {
			return chatModel, nil
		}
		slog.Warn("judge: named model unavailable, falling back to default", "model", j.modelName, "error", err)
	}
	return j.models.Default(ctx)
}

func buildEvaluatePrompt(in EvaluateInput) string {
	var sb strings.Builder

	sb.WriteString("You are evaluating whether a reply satisfies an objective.\n\n")
	sb.WriteString(fmt.Sprintf("## Original request\n\n%s\n\n", in.OriginalRequest))
	if in.SuccessCriteria != "" {
		sb.WriteString(fmt.Sprintf("## Success criteria\n\n%s\n\n", in.SuccessCriteria))
	}
	sb.WriteString(fmt.Sprintf("## Reply from %s\n\n%s\n\n", in.Contact, truncate(in.ReplyBody, 4000)))
	sb.WriteString("## Instructions\n\n")
	sb.WriteString("Respond with a JSON object:\n")
	sb.WriteString("```json\n")
	sb.WriteString(`{"satisfies": true/false, "reason": "brief reason", "extracted_info": "any concrete details from the reply worth recording"}`)
	sb.WriteString("\n```\n")
	sb.WriteString("Only output the JSON, no other text.")

	return sb.String()
}

func buildFollowupPrompt(in FollowupInput) string {
	var sb strings.Builder

	if in.IsTimeout {
		sb.WriteString("You are writing a gentle reminder to someone who has not replied yet.\n\n")
	} else {
		sb.WriteString("You are writing a follow-up to a reply that did not resolve the objective.\n\n")
	}
	sb.WriteString(fmt.Sprintf("## Objective\n\n%s\n\n", in.OriginalRequest))
	if in.SuccessCriteria != "" {
		sb.WriteString(fmt.Sprintf("## What a resolution looks like\n\n%s\n\n", in.SuccessCriteria))
	}
	if in.LastReply != "" {
		sb.WriteString(fmt.Sprintf("## Their last reply\n\n%s\n\n", truncate(in.LastReply, 2000)))
	}
	sb.WriteString(fmt.Sprintf("This is follow-up number %d to %s. ", in.FollowupCount+1, in.Contact))
	sb.WriteString("Write only the message body, short and polite, no subject line, no quotes around it.")

	return sb.String()
}

// parseJudgment extracts the JSON verdict, stripping markdown fences. An
// unparseable response counts as not satisfied so the ladder keeps going
// instead of closing the task on garbage.
func parseJudgment(content string) *Judgment {
	content = strings.TrimSpace(content)

	if strings.HasPrefix(content, "```") {
		lines := strings.Split(content, "\n")
		var jsonLines []string
		inBlock := false
		for _, line := range lines {
			if strings.HasPrefix(strings.TrimSpace(line), "```") {
				inBlock = !inBlock
				continue
			}
			if inBlock {
				jsonLines = append(jsonLines, line)
			}
		}
		content = strings.Join(jsonLines, "\n")
	}

	var j Judgment
	if err := json.Unmarshal([]byte(content), &j); err != nil {
		slog.Warn("judge: failed to parse JSON response, treating as not satisfied", "error", err)
		return &Judgment{Satisfies: false, Reason: "judge response could not be parsed"}
	}

	return &j
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "\n... (truncated)"
}
