// Package selection scores and ranks candidate providers for a request.
// It infers a RequestContext from the caller's prompt, then applies one of
// several interchangeable scoring strategies (or a hybrid blend of all of
// them) to produce a ranked choice plus alternates.
package selection

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/tidegate/cascade/internal/provider"
	"github.com/tidegate/cascade/internal/tokenizer"
)

// TaskType classifies what kind of generation the request asks for.
type TaskType string

const (
	TaskCoding     TaskType = "coding"
	TaskCreative   TaskType = "creative"
	TaskAnalytical TaskType = "analytical"
	TaskReasoning  TaskType = "reasoning"
	TaskMultimodal TaskType = "multimodal"
	TaskGeneral    TaskType = "general"
)

// Complexity is the inferred difficulty tier of a request.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
	ComplexityExpert   Complexity = "expert"
)

// Urgency is how latency-sensitive the request is.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// QualityLevel is the caller's quality requirement.
type QualityLevel string

const (
	QualityBasic     QualityLevel = "basic"
	QualityGood      QualityLevel = "good"
	QualityExcellent QualityLevel = "excellent"
	QualityPerfect   QualityLevel = "perfect"
)

// Budget is the caller's cost constraint band.
type Budget string

const (
	BudgetFree   Budget = "free"
	BudgetLow    Budget = "low"
	BudgetMedium Budget = "medium"
	BudgetHigh   Budget = "high"
)

// RequestContext is the inferred context of one request. It is derived once
// per execution and immutable afterwards.
type RequestContext struct {
	TaskType       TaskType     `json:"task_type"`
	Complexity     Complexity   `json:"complexity"`
	ExpectedTokens int          `json:"expected_tokens"`
	Urgency        Urgency      `json:"urgency"`
	Quality        QualityLevel `json:"quality_requirement"`
	Budget         Budget       `json:"budget_constraint"`
	Domains        []string     `json:"domains,omitempty"`
	Languages      []string     `json:"languages,omitempty"`
}

// Hints are caller-supplied overrides for fields inference cannot know.
type Hints struct {
	Budget    Budget       `json:"budget,omitempty"`
	Urgency   Urgency      `json:"urgency,omitempty"`
	Quality   QualityLevel `json:"quality,omitempty"`
	Domains   []string     `json:"domains,omitempty"`
	Languages []string     `json:"languages,omitempty"`
}

// taskKeywords maps keyword fragments to task types. First match in
// priority order wins.
var taskKeywords = []struct {
	task  TaskType
	words []string
}{
	{TaskCoding, []string{"code", "function", "bug", "compile", "debug", "refactor", "implement", "api", "script", "regex", "sql"}},
	{TaskMultimodal, []string{"image", "picture", "photo", "diagram", "screenshot", "video"}},
	{TaskCreative, []string{"story", "poem", "write a", "creative", "fiction", "lyrics", "slogan", "brainstorm"}},
	{TaskReasoning, []string{"prove", "step by step", "logic", "puzzle", "deduce", "why does", "reason"}},
	{TaskAnalytical, []string{"analyze", "analyse", "compare", "summarize", "summarise", "evaluate", "assess", "report", "data"}},
}

// domainKeywords maps keyword fragments to domain tags.
var domainKeywords = map[string][]string{
	"finance":   {"stock", "invoice", "budget", "revenue", "financial", "tax"},
	"medical":   {"patient", "diagnosis", "clinical", "symptom", "medical"},
	"legal":     {"contract", "clause", "liability", "legal", "statute"},
	"science":   {"experiment", "hypothesis", "molecule", "physics", "biology"},
	"devops":    {"kubernetes", "docker", "deploy", "terraform", "ci/cd"},
	"marketing": {"campaign", "seo", "audience", "brand", "conversion"},
}

const (
	contextCacheSize = 2048
	recentPerSession = 8
	sessionCacheSize = 512
)

// Inferencer derives RequestContexts from raw requests. Inferred contexts
// are memoised in an LRU keyed by prompt hash, and a per-session ring of
// recent contexts feeds the recency signal of the context-aware strategy.
type Inferencer struct {
	tok    *tokenizer.Tokenizer
	memo   *lru.Cache[string, RequestContext]
	recent *lru.Cache[string, []RequestContext]
}

// NewInferencer creates an Inferencer with its caches initialised.
func NewInferencer() *Inferencer {
	memo, _ := lru.New[string, RequestContext](contextCacheSize)
	recent, _ := lru.New[string, []RequestContext](sessionCacheSize)
	return &Inferencer{
		tok:    tokenizer.New(),
		memo:   memo,
		recent: recent,
	}
}

// Infer derives the RequestContext for a request. The result is memoised by
// prompt content; hints are applied after memo lookup so the cache is shared
// across callers with different constraints.
func (in *Inferencer) Infer(req provider.Request, sessionID string, hints Hints) RequestContext {
	key := promptKey(req)

	rctx, ok := in.memo.Get(key)
	if !ok {
		rctx = in.inferUncached(req)
		in.memo.Add(key, rctx)
	}

	rctx = applyHints(rctx, hints)
	in.remember(sessionID, rctx)
	return rctx
}

// Recent returns the session's most recent inferred contexts, newest last.
func (in *Inferencer) Recent(sessionID string) []RequestContext {
	if sessionID == "" {
		return nil
	}
	ring, ok := in.recent.Get(sessionID)
	if !ok {
		return nil
	}
	out := make([]RequestContext, len(ring))
	copy(out, ring)
	return out
}

func (in *Inferencer) remember(sessionID string, rctx RequestContext) {
	if sessionID == "" {
		return
	}
	ring, _ := in.recent.Get(sessionID)
	ring = append(ring, rctx)
	if len(ring) > recentPerSession {
		ring = ring[len(ring)-recentPerSession:]
	}
	in.recent.Add(sessionID, ring)
}

func (in *Inferencer) inferUncached(req provider.Request) RequestContext {
	text := strings.ToLower(req.PromptText())
	tokens := in.tok.CountMessages("gpt-4", req.Messages)

	rctx := RequestContext{
		TaskType:       classifyTask(text),
		ExpectedTokens: tokens,
		Urgency:        UrgencyNormal,
		Quality:        QualityGood,
		Budget:         BudgetMedium,
	}

	rctx.Complexity = classifyComplexity(text, tokens)
	rctx.Domains = classifyDomains(text)

	if strings.Contains(text, "urgent") || strings.Contains(text, "asap") || strings.Contains(text, "immediately") {
		rctx.Urgency = UrgencyHigh
	}
	if rctx.Complexity == ComplexityExpert {
		rctx.Quality = QualityExcellent
	}

	return rctx
}

func classifyTask(text string) TaskType {
	for _, entry := range taskKeywords {
		for _, w := range entry.words {
			if strings.Contains(text, w) {
				return entry.task
			}
		}
	}
	return TaskGeneral
}

func classifyComplexity(text string, tokens int) Complexity {
	switch {
	case tokens > 2000 || strings.Contains(text, "comprehensive") || strings.Contains(text, "in depth"):
		return ComplexityExpert
	case tokens > 800:
		return ComplexityComplex
	case tokens > 200:
		return ComplexityModerate
	default:
		return ComplexitySimple
	}
}

func classifyDomains(text string) []string {
	var out []string
	for domain, words := range domainKeywords {
		for _, w := range words {
			if strings.Contains(text, w) {
				out = append(out, domain)
				break
			}
		}
	}
	// Map iteration order is random; keep the result deterministic.
	sort.Strings(out)
	return out
}

func applyHints(rctx RequestContext, h Hints) RequestContext {
	if h.Budget != "" {
		rctx.Budget = h.Budget
	}
	if h.Urgency != "" {
		rctx.Urgency = h.Urgency
	}
	if h.Quality != "" {
		rctx.Quality = h.Quality
	}
	if len(h.Domains) > 0 {
		rctx.Domains = append([]string(nil), h.Domains...)
	}
	if len(h.Languages) > 0 {
		rctx.Languages = append([]string(nil), h.Languages...)
	}
	return rctx
}

func promptKey(req provider.Request) string {
	h := sha256.New()
	for _, m := range req.Messages {
		h.Write([]byte(m.Role))
		h.Write([]byte{0})
		h.Write([]byte(m.Content))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
