package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/malbeclabs/civicdata/internal/llm"
	"github.com/stretchr/testify/require"
)

type stubLLM struct {
	raw  string
	err  error
	reqs []llm.Request
}

func (s *stubLLM) Generate(_ context.Context, req llm.Request) (json.RawMessage, error) {
	s.reqs = append(s.reqs, req)
	if s.err != nil {
		return nil, s.err
	}
	return json.RawMessage(s.raw), nil
}

func TestCatalog_LLMTitleEnhancer(t *testing.T) {
	t.Parallel()

	t.Run("returns trimmed title", func(t *testing.T) {
		t.Parallel()
		client := &stubLLM{raw: `{"title":"  Police Incident Reports, 2018 to Present "}`}
		e := &LLMTitleEnhancer{Client: client}

		title, err := e.EnhanceTitle(context.Background(), Dataset{ID: "x", Title: "PIR 2018-", Description: "Incidents filed with SFPD."})
		require.NoError(t, err)
		require.Equal(t, "Police Incident Reports, 2018 to Present", title)
		require.Len(t, client.reqs, 1)
		require.Equal(t, "enhance_title", client.reqs[0].Name)
		require.Contains(t, client.reqs[0].Prompt, "PIR 2018-")
		require.NotNil(t, client.reqs[0].Schema)
	})

	t.Run("empty title is an error", func(t *testing.T) {
		t.Parallel()
		e := &LLMTitleEnhancer{Client: &stubLLM{raw: `{"title":"  "}`}}
		_, err := e.EnhanceTitle(context.Background(), Dataset{ID: "x", Title: "T"})
		require.Error(t, err)
	})

	t.Run("client error propagates", func(t *testing.T) {
		t.Parallel()
		boom := errors.New("boom")
		e := &LLMTitleEnhancer{Client: &stubLLM{err: boom}}
		_, err := e.EnhanceTitle(context.Background(), Dataset{ID: "x", Title: "T"})
		require.ErrorIs(t, err, boom)
	})
}
