// Package persona normalizes a free-text request into one of a small set of
// agent personas plus an enhanced prompt, the way llm/middleware's rewriter
// chain normalizes messages before they reach a provider — here the
// normalization happens once, ahead of routing, rather than per-call.
package persona

import (
	"fmt"
	"sort"
	"strings"
)

// Persona is an abstract role used to condition prompting and scoring.
type Persona string

const (
	Developer  Persona = "developer"
	Reviewer   Persona = "reviewer"
	Architect  Persona = "architect"
	Tester     Persona = "tester"
	Security   Persona = "security"
	Documenter Persona = "documenter"
)

// overlays are appended to the user prompt to condition the model's
// behavior for the resolved persona.
var overlays = map[Persona]string{
	Developer:  "You are acting as a software developer. Produce working, idiomatic code.",
	Reviewer:   "You are acting as a code reviewer. Identify defects, risks, and improvements.",
	Architect:  "You are acting as a software architect. Reason about structure, tradeoffs, and scale.",
	Tester:     "You are acting as a test engineer. Produce thorough, runnable tests.",
	Security:   "You are acting as a security engineer. Identify vulnerabilities and harden the design.",
	Documenter: "You are acting as a technical writer. Produce clear, accurate documentation.",
}

// singleVerbs maps a single recognized imperative verb to a persona. A
// prompt consisting of exactly one such token is treated as maximally
// ambiguous and resolved without keyword scoring.
var singleVerbs = map[string]Persona{
	"build":    Developer,
	"code":     Developer,
	"implement": Developer,
	"review":   Reviewer,
	"critique": Reviewer,
	"design":   Architect,
	"architect": Architect,
	"test":     Tester,
	"debug":    Tester,
	"secure":   Security,
	"audit":    Security,
	"document": Documenter,
	"explain":  Documenter,
}

// keywords scores free-text prompts against each persona's vocabulary. The
// sets intentionally overlap little; ties are broken by map iteration order
// made deterministic via sorted persona names.
var keywords = map[Persona][]string{
	Developer:  {"implement", "build", "add", "feature", "function", "write", "create", "refactor"},
	Reviewer:   {"review", "critique", "feedback", "pr", "pull request", "improve", "clean up"},
	Architect:  {"architecture", "design", "distributed", "microservice", "scale", "system", "tradeoff"},
	Tester:     {"test", "tests", "unit test", "coverage", "assert", "mock", "regression"},
	Security:   {"security", "vulnerability", "exploit", "auth", "encrypt", "secure", "cve"},
	Documenter: {"document", "docs", "readme", "explain", "comment", "tutorial"},
}

// Result is the outcome of validating a request's prompt and hint.
type Result struct {
	Persona        Persona
	EnhancedPrompt string
	Confidence     float64
	Tags           []string
}

const enhancedMarker = "\n\n---\n"

// Validate normalizes prompt (with an optional explicit hint) into a
// Result. It is idempotent: calling Validate again on an already-enhanced
// prompt returns the same persona and does not compound the overlay.
func Validate(prompt string, hint string) Result {
	if already, ok := splitEnhanced(prompt); ok {
		// Re-validating an already-enhanced prompt must reproduce the same
		// persona without re-appending the overlay.
		return Validate(already, hint)
	}

	normalized := strings.ToLower(strings.TrimSpace(prompt))

	if hint != "" {
		if p, ok := normalizeHint(hint); ok {
			return build(p, prompt, 1.0, tagsFor(normalized))
		}
	}

	tokens := strings.Fields(normalized)
	if len(tokens) == 1 {
		word := strings.Trim(tokens[0], ".,!?")
		if p, ok := singleVerbs[word]; ok {
			return build(p, prompt, 0.0, tagsFor(normalized))
		}
	}

	best, confidence := score(normalized)
	return build(best, prompt, confidence, tagsFor(normalized))
}

// normalizeHint maps a caller-supplied persona_hint to a known Persona.
func normalizeHint(hint string) (Persona, bool) {
	switch Persona(strings.ToLower(strings.TrimSpace(hint))) {
	case Developer, Reviewer, Architect, Tester, Security, Documenter:
		return Persona(strings.ToLower(strings.TrimSpace(hint))), true
	default:
		return "", false
	}
}

// score ranks every persona by keyword hits in normalized and returns the
// winner plus a confidence derived from the gap to the runner-up. Personas
// are iterated in a fixed sorted order so ties resolve deterministically.
func score(normalized string) (Persona, float64) {
	names := make([]string, 0, len(keywords))
	for p := range keywords {
		names = append(names, string(p))
	}
	sort.Strings(names)

	type scored struct {
		persona Persona
		hits    int
	}
	var ranked []scored
	for _, name := range names {
		p := Persona(name)
		hits := 0
		for _, kw := range keywords[p] {
			if strings.Contains(normalized, kw) {
				hits++
			}
		}
		ranked = append(ranked, scored{p, hits})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].hits > ranked[j].hits })

	if ranked[0].hits == 0 {
		return Developer, 0.0
	}
	top := ranked[0].hits
	second := 0
	if len(ranked) > 1 {
		second = ranked[1].hits
	}
	confidence := float64(top-second) / float64(top)
	return ranked[0].persona, confidence
}

// tagsFor derives coarse context tags from the normalized prompt; the
// Router refines these into its own primary-context classification, but a
// lightweight first pass here lets Persona validation surface signal about
// prompt content without re-tokenizing twice.
func tagsFor(normalized string) []string {
	var tags []string
	add := func(tag string, any ...string) {
		for _, kw := range any {
			if strings.Contains(normalized, kw) {
				tags = append(tags, tag)
				return
			}
		}
	}
	add("code_generation", "implement", "write", "build", "create")
	add("code_analysis", "analyze", "review", "why does")
	add("architecture", "architecture", "design", "distributed", "microservice")
	add("security", "security", "vulnerability", "exploit", "cve")
	add("testing", "test", "tests", "coverage")
	return tags
}

func build(p Persona, originalPrompt string, confidence float64, tags []string) Result {
	return Result{
		Persona:        p,
		EnhancedPrompt: fmt.Sprintf("%s%s%s", originalPrompt, enhancedMarker, overlays[p]),
		Confidence:     confidence,
		Tags:           tags,
	}
}

// splitEnhanced detects a prompt already carrying the enhancement marker
// and returns the original prompt beneath it.
func splitEnhanced(prompt string) (string, bool) {
	idx := strings.Index(prompt, enhancedMarker)
	if idx < 0 {
		return "", false
	}
	return prompt[:idx], true
}
