package selection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tidegate/cascade/internal/provider"
)

func userMsg(text string) provider.Request {
	return provider.Request{Messages: []provider.Message{{Role: "user", Content: text}}}
}

func TestInfer_TaskClassification(t *testing.T) {
	in := NewInferencer()

	cases := []struct {
		prompt string
		want   TaskType
	}{
		{"Fix this bug in my function please", TaskCoding},
		{"Write a poem about the sea", TaskCreative},
		{"Analyze this quarterly report data", TaskAnalytical},
		{"Prove this statement step by step", TaskReasoning},
		{"Describe what is in this image", TaskMultimodal},
		{"Hello there", TaskGeneral},
	}

	for _, tc := range cases {
		rctx := in.Infer(userMsg(tc.prompt), "", Hints{})
		assert.Equal(t, tc.want, rctx.TaskType, "prompt %q", tc.prompt)
	}
}

func TestInfer_DefaultsAndHints(t *testing.T) {
	in := NewInferencer()

	rctx := in.Infer(userMsg("hello"), "", Hints{})
	assert.Equal(t, BudgetMedium, rctx.Budget)
	assert.Equal(t, UrgencyNormal, rctx.Urgency)
	assert.Equal(t, QualityGood, rctx.Quality)

	hinted := in.Infer(userMsg("hello"), "", Hints{
		Budget:  BudgetFree,
		Quality: QualityPerfect,
		Domains: []string{"legal"},
	})
	assert.Equal(t, BudgetFree, hinted.Budget)
	assert.Equal(t, QualityPerfect, hinted.Quality)
	assert.Equal(t, []string{"legal"}, hinted.Domains)
}

func TestInfer_MemoSharedAcrossHints(t *testing.T) {
	in := NewInferencer()

	// Same prompt, different hints: the memoised base inference is shared
	// but hint overrides must not leak between calls.
	a := in.Infer(userMsg("refactor this code"), "", Hints{Budget: BudgetFree})
	b := in.Infer(userMsg("refactor this code"), "", Hints{})

	assert.Equal(t, TaskCoding, a.TaskType)
	assert.Equal(t, TaskCoding, b.TaskType)
	assert.Equal(t, BudgetFree, a.Budget)
	assert.Equal(t, BudgetMedium, b.Budget)
}

func TestInfer_UrgencyKeyword(t *testing.T) {
	in := NewInferencer()
	rctx := in.Infer(userMsg("urgent: summarize this report"), "", Hints{})
	assert.Equal(t, UrgencyHigh, rctx.Urgency)
}

func TestInfer_DomainDetectionDeterministic(t *testing.T) {
	in := NewInferencer()
	prompt := "Review this contract clause about tax liability on revenue"

	first := in.Infer(userMsg(prompt), "", Hints{})
	require.NotEmpty(t, first.Domains)
	for i := 0; i < 5; i++ {
		again := in.Infer(userMsg(prompt), "", Hints{})
		assert.Equal(t, first.Domains, again.Domains)
	}
}

func TestRecent_PerSessionRing(t *testing.T) {
	in := NewInferencer()

	for i := 0; i < recentPerSession+4; i++ {
		in.Infer(userMsg("write a story"), "sess-a", Hints{})
	}
	in.Infer(userMsg("debug my code"), "sess-b", Hints{})

	recents := in.Recent("sess-a")
	assert.Len(t, recents, recentPerSession, "ring must be bounded")
	for _, rc := range recents {
		assert.Equal(t, TaskCreative, rc.TaskType)
	}

	other := in.Recent("sess-b")
	require.Len(t, other, 1)
	assert.Equal(t, TaskCoding, other[0].TaskType)

	assert.Empty(t, in.Recent(""), "empty session id tracks nothing")
}
