package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/malbeclabs/civicdata/internal/pipeline"
	"github.com/malbeclabs/civicdata/internal/value"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const answerToolName = "answer_question"

type AnswerInput struct {
	Question  string `json:"question" jsonschema:"the question to answer from civic data"`
	DatasetID string `json:"dataset_id,omitempty" jsonschema:"answer from this dataset instead of the best match"`
}

// AnswerRow maps column names to cell values. Integers are decimal strings so that 64-bit values
// survive clients that decode JSON numbers as doubles.
type AnswerRow map[string]any

// AnswerOutput reports a refusal with Answered false and the reasoning; it is not a tool error.
type AnswerOutput struct {
	Answered      bool        `json:"answered"`
	Reasoning     string      `json:"reasoning"`
	SQL           string      `json:"sql"`
	Columns       []string    `json:"columns"`
	Rows          []AnswerRow `json:"rows"`
	Count         int         `json:"count"`
	Truncated     bool        `json:"truncated"`
	DatasetID     string      `json:"dataset_id"`
	DatasetTitle  string      `json:"dataset_title"`
	DatasetSource string      `json:"dataset_source_url"`
}

func RegisterAnswerTool(log *slog.Logger, server *mcp.Server, p Pipeline, timeout time.Duration) error {
	req, err := jsonschema.For[AnswerInput](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s input schema: %w", answerToolName, err)
	}
	res, err := jsonschema.For[AnswerOutput](nil)
	if err != nil {
		return fmt.Errorf("failed to create %s output schema: %w", answerToolName, err)
	}

	mcp.AddTool(server, &mcp.Tool{
		Name: answerToolName,
		Description: `Answer a question about civic open data by writing and running SQL over the best matching dataset.
Returns the rows, the SQL used and the dataset it came from. Integer cells are decimal strings.
When the data cannot answer the question, "answered" is false and "reasoning" explains why; tell the
user rather than guessing.`,
		InputSchema:  req,
		OutputSchema: res,
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in AnswerInput) (*mcp.CallToolResult, AnswerOutput, error) {
		startTime := time.Now()
		log.Debug("mcp/tool: handling answer", "question", in.Question, "dataset", in.DatasetID)

		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		out, err := handleAnswer(ctx, p, in)
		observeTool(answerToolName, startTime, err)
		if err != nil {
			return nil, AnswerOutput{}, err
		}
		return nil, out, nil
	})
	return nil
}

func handleAnswer(ctx context.Context, p Pipeline, in AnswerInput) (AnswerOutput, error) {
	question := strings.TrimSpace(in.Question)
	if question == "" {
		return AnswerOutput{}, errors.New("question is required")
	}

	var (
		answer *pipeline.Answer
		err    error
	)
	if in.DatasetID != "" {
		answer, err = p.AnswerWithDataset(ctx, question, in.DatasetID)
	} else {
		answer, err = p.Answer(ctx, question)
	}

	var ue *pipeline.UnanswerableError
	if errors.As(err, &ue) {
		return AnswerOutput{
			Answered:  false,
			Reasoning: ue.Reasoning,
			Columns:   []string{},
			Rows:      []AnswerRow{},
			DatasetID: ue.DatasetID,
		}, nil
	}
	if err != nil {
		return AnswerOutput{}, fmt.Errorf("%s failed: %w", pipeline.ErrorKind(err), err)
	}

	rows := make([]AnswerRow, 0, len(answer.Rows))
	for _, row := range answer.Rows {
		out := make(AnswerRow, len(answer.Columns))
		for _, col := range answer.Columns {
			out[col] = rowValue(row[col])
		}
		rows = append(rows, out)
	}
	title := answer.Dataset.EnhancedTitle
	if title == "" {
		title = answer.Dataset.Title
	}
	return AnswerOutput{
		Answered:      true,
		Reasoning:     answer.Reasoning,
		SQL:           answer.SQL,
		Columns:       answer.Columns,
		Rows:          rows,
		Count:         len(rows),
		Truncated:     answer.Truncated,
		DatasetID:     answer.Dataset.ID,
		DatasetTitle:  title,
		DatasetSource: answer.Dataset.SourceURL,
	}, nil
}

// rowValue converts a result value to plain JSON. Integers and non-finite floats are sent as text,
// including inside lists and structs.
func rowValue(v value.Value) any {
	switch v.Kind() {
	case value.KindInt:
		i, _ := v.Int()
		return strconv.FormatInt(i, 10)
	case value.KindFloat:
		if f, _ := v.Float(); math.IsNaN(f) || math.IsInf(f, 0) {
			return v.String()
		}
	case value.KindList:
		items := v.List()
		out := make([]any, len(items))
		for i, item := range items {
			out[i] = rowValue(item)
		}
		return out
	case value.KindStruct:
		fields := v.Fields()
		out := make(map[string]any, len(fields))
		for _, f := range fields {
			out[f.Name] = rowValue(f.Value)
		}
		return out
	}
	return v.Interface()
}
