package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/malbeclabs/civicdata/internal/llm"
)

const enhanceTitleSystem = `You rewrite the titles of civic open-data datasets so they say plainly what each row records.
Keep the place name and the period if the title or description states them. Use at most twelve words.
Do not invent facts that are not in the title or description.`

type enhancedTitle struct {
	Title string `json:"title" jsonschema:"the rewritten dataset title"`
}

// LLMTitleEnhancer asks a language model for a descriptive title.
type LLMTitleEnhancer struct {
	Client llm.Client
}

func (e *LLMTitleEnhancer) EnhanceTitle(ctx context.Context, d Dataset) (string, error) {
	prompt := fmt.Sprintf("Title: %s\n\nDescription:\n%s\n", d.Title, strings.TrimSpace(d.Description))
	res, err := llm.GenerateObject[enhancedTitle](ctx, e.Client, llm.Request{
		Name:        "enhance_title",
		Description: "Return a clearer title for the dataset.",
		System:      enhanceTitleSystem,
		Prompt:      prompt,
	})
	if err != nil {
		return "", err
	}
	title := strings.TrimSpace(res.Title)
	if title == "" {
		return "", errors.New("model returned an empty title")
	}
	return title, nil
}
