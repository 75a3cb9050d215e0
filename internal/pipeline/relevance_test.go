package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/malbeclabs/civicdata/internal/duck"
	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/stretchr/testify/require"
)

var crashSchema = duck.Schema{
	{Name: "incident_date", Type: "DATE"},
	{Name: "Neighborhood", Type: "VARCHAR"},
	{Name: "injuries", Type: "BIGINT"},
}

func TestPipeline_FilterRelevance(t *testing.T) {
	t.Parallel()

	t.Run("canonicalizes column names", func(t *testing.T) {
		t.Parallel()
		client := newScriptedLLM().reply(relevanceRequestName,
			`{"canAnswer":true,"columns":["neighborhood"," incident_date","NEIGHBORHOOD","weather"],"reasoning":" Needs the date and area. "}`)
		env := newTestEnv(t, nil, client)

		decision, err := env.pipeline.filterRelevance(context.Background(), "accidents per neighborhood in 2023", crashSchema)
		require.NoError(t, err)
		require.True(t, decision.CanAnswer)
		require.Equal(t, []string{"Neighborhood", "incident_date"}, decision.Columns)
		require.Equal(t, "Needs the date and area.", decision.Reasoning)

		prompt := client.last(relevanceRequestName).Prompt
		require.Contains(t, prompt, "- Neighborhood: VARCHAR\n")
		require.Contains(t, prompt, "Question: accidents per neighborhood in 2023")
	})

	t.Run("rejection clears columns", func(t *testing.T) {
		t.Parallel()
		client := newScriptedLLM().reply(relevanceRequestName, `{"canAnswer":false,"columns":["injuries"],"reasoning":"No cost data."}`)
		env := newTestEnv(t, nil, client)

		decision, err := env.pipeline.filterRelevance(context.Background(), "q", crashSchema)
		require.NoError(t, err)
		require.False(t, decision.CanAnswer)
		require.Empty(t, decision.Columns)
	})

	t.Run("no valid columns rejects", func(t *testing.T) {
		t.Parallel()
		client := newScriptedLLM().reply(relevanceRequestName, `{"canAnswer":true,"columns":["cost"],"reasoning":""}`)
		env := newTestEnv(t, nil, client)

		decision, err := env.pipeline.filterRelevance(context.Background(), "q", crashSchema)
		require.NoError(t, err)
		require.False(t, decision.CanAnswer)
		require.NotEmpty(t, decision.Reasoning)
	})

	t.Run("model failure is a synthesis error", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("timeout")
		client := newScriptedLLM().on(relevanceRequestName, func(llm.Request) (string, error) { return "", boom })
		env := newTestEnv(t, nil, client)

		_, err := env.pipeline.filterRelevance(context.Background(), "q", crashSchema)
		var se *SynthesisError
		require.ErrorAs(t, err, &se)
		require.Equal(t, StageFilteringRelevance, se.Stage)
		require.ErrorIs(t, err, boom)
	})

	t.Run("unknown fields are rejected", func(t *testing.T) {
		t.Parallel()
		client := newScriptedLLM().reply(relevanceRequestName, `{"canAnswer":true,"columns":["injuries"],"reasoning":"r","confidence":0.9}`)
		env := newTestEnv(t, nil, client)

		_, err := env.pipeline.filterRelevance(context.Background(), "q", crashSchema)
		var schemaErr *llm.SchemaError
		require.ErrorAs(t, err, &schemaErr)
	})
}

func TestPipeline_Prompts(t *testing.T) {
	t.Parallel()

	p, err := LoadPrompts()
	require.NoError(t, err)
	require.NotEmpty(t, p.Rank)
	require.NotEmpty(t, p.Relevance)

	require.NotContains(t, p.Synthesize, "{{DIALECT_RULES}}")
	require.NotContains(t, p.Synthesize, "{{CHECKLIST}}")
	for _, fn := range []string{"year(d)", "date_trunc('month', d)", "try_strptime", "DATE_FORMAT", "TO_CHAR", "NULLIF(divisor, 0)"} {
		require.Contains(t, p.Synthesize, fn)
	}
	require.Contains(t, p.Synthesize, "AVG(COUNT(*))")
	require.Contains(t, p.Synthesize, "`dataset`")
}
