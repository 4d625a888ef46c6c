// Package prompt turns a free-text modification request into a new
// generation prompt using an ordered set of textual rules. Rewrite is pure
// and total: it always produces a prompt, falling through to a verbatim
// append when no rule matches.
package prompt

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule identifies which rewrite rule produced a result.
type Rule string

const (
	RuleColor      Rule = "color"
	RuleAddition   Rule = "addition"
	RuleStyle      Rule = "style"
	RuleReplace    Rule = "replace"
	RuleBackground Rule = "background"
	RuleRemoval    Rule = "removal"
	RuleDefault    Rule = "default"
)

// Result is the outcome of a rewrite. Warning is non-empty only for rules
// that approximate the requested change textually (currently removal, which
// appends a negation cue instead of editing the image region).
type Result struct {
	Prompt  string
	Rule    Rule
	Warning string
}

// Color vocabulary recognized by the color rule. Matching is whole-word and
// case-insensitive.
var colorTerms = []string{
	"red", "blue", "green", "yellow", "purple", "orange", "pink",
	"black", "white", "brown", "grey", "gray", "cyan", "magenta",
	"gold", "silver", "bronze", "crimson", "navy", "teal", "coral",
	"violet", "indigo", "turquoise", "maroon", "olive", "beige",
}

var (
	colorPattern      = regexp.MustCompile(`(?i)\b(` + strings.Join(colorTerms, "|") + `)\b`)
	makePattern       = regexp.MustCompile(`(?i)^make\s+(?:the\s+)?(.+)$`)
	addPattern        = regexp.MustCompile(`(?i)^add\s+(.+)$`)
	stylePattern      = regexp.MustCompile(`(?i)^(?:change\s+to|make\s+it)\s+(.+?)\s+style$`)
	styleSuffix       = regexp.MustCompile(`(?i),?\s*(?:in\s+)?[^,]+?\s+style\s*$`)
	replacePattern    = regexp.MustCompile(`(?i)^make\s+the\s+(.+?)\s+an?\s+(.+)$`)
	backgroundPattern = regexp.MustCompile(`(?i)^(?:(?:change|set|make)\s+(?:the\s+)?background(?:\s+to)?|background)\s+(.+)$`)
	backgroundClause  = regexp.MustCompile(`(?i),\s*background\s+[^,]*`)
	removePattern     = regexp.MustCompile(`(?i)^remove\s+(?:the\s+)?(.+)$`)
)

// Rewrite applies the first matching rule to currentPrompt. Rules are tried
// in order: color, addition, style, object replacement, background, removal,
// then the default verbatim append. An empty currentPrompt is treated as the
// empty string; no input causes a failure.
func Rewrite(currentPrompt, modification string) Result {
	mod := strings.TrimSpace(modification)

	if r, ok := tryColor(currentPrompt, mod); ok {
		return r
	}
	if m := addPattern.FindStringSubmatch(mod); m != nil {
		return Result{Prompt: appendClause(currentPrompt, strings.TrimSpace(m[1])), Rule: RuleAddition}
	}
	if m := stylePattern.FindStringSubmatch(mod); m != nil {
		return tryStyle(currentPrompt, strings.TrimSpace(m[1]))
	}
	if m := replacePattern.FindStringSubmatch(mod); m != nil {
		if r, ok := tryReplace(currentPrompt, strings.TrimSpace(m[1]), strings.TrimSpace(m[2])); ok {
			return r
		}
	}
	if m := backgroundPattern.FindStringSubmatch(mod); m != nil {
		return tryBackground(currentPrompt, strings.TrimSpace(m[1]))
	}
	if m := removePattern.FindStringSubmatch(mod); m != nil {
		subject := strings.TrimSpace(m[1])
		return Result{
			Prompt:  appendClause(currentPrompt, "no "+subject),
			Rule:    RuleRemoval,
			Warning: fmt.Sprintf("removal of %q is a textual negation cue, not a regional edit", subject),
		}
	}

	return Result{Prompt: appendClause(currentPrompt, mod), Rule: RuleDefault}
}

// tryColor handles "make (the) X Y" where Y is a recognized color term.
// The first recognized color in the modification is taken as Y; any trailing
// text after it is appended verbatim, so only one color pair applies per
// modification.
func tryColor(currentPrompt, mod string) (Result, bool) {
	m := makePattern.FindStringSubmatch(mod)
	if m == nil {
		return Result{}, false
	}

	rest := strings.TrimSpace(m[1])
	loc := colorPattern.FindStringIndex(rest)
	if loc == nil {
		return Result{}, false
	}

	subject := strings.TrimSpace(rest[:loc[0]])
	color := strings.ToLower(rest[loc[0]:loc[1]])
	remainder := strings.TrimSpace(rest[loc[1]:])
	if subject == "" {
		return Result{}, false
	}

	prompt := recolorSubject(currentPrompt, subject, color)
	if remainder != "" {
		prompt = appendClause(prompt, remainder)
	}
	return Result{Prompt: prompt, Rule: RuleColor}, true
}

// recolorSubject replaces a color token immediately preceding the first
// occurrence of subject, inserts the color before an uncolored subject, or
// appends "color subject" when the subject is absent from the prompt.
// The subject is located in the prompt itself, never in a case-folded copy;
// folding can change byte offsets for some runes.
func recolorSubject(currentPrompt, subject, color string) string {
	pattern, err := regexp.Compile(`(?i)` + regexp.QuoteMeta(subject))
	if err != nil {
		return appendClause(currentPrompt, color+" "+subject)
	}
	loc := pattern.FindStringIndex(currentPrompt)
	if loc == nil {
		return appendClause(currentPrompt, color+" "+subject)
	}
	idx := loc[0]

	before := currentPrompt[:idx]
	words := strings.Fields(before)
	if len(words) > 0 && colorPattern.MatchString(words[len(words)-1]) {
		prev := words[len(words)-1]
		wordIdx := strings.LastIndex(before, prev)
		return currentPrompt[:wordIdx] + color + currentPrompt[wordIdx+len(prev):]
	}

	return currentPrompt[:idx] + color + " " + currentPrompt[idx:]
}

// tryStyle appends ", STYLE style", first stripping any existing trailing
// style clause so repeated style changes do not accumulate.
func tryStyle(currentPrompt, style string) Result {
	base := styleSuffix.ReplaceAllString(currentPrompt, "")
	return Result{
		Prompt: appendClause(strings.TrimSpace(base), style+" style"),
		Rule:   RuleStyle,
	}
}

// tryReplace handles "make the X a Y" by literal substring replacement.
// Fails over to later rules when X does not occur in the prompt.
func tryReplace(currentPrompt, oldObj, newObj string) (Result, bool) {
	pattern, err := regexp.Compile(`(?i)\b` + regexp.QuoteMeta(oldObj) + `\b`)
	if err != nil {
		return Result{}, false
	}
	loc := pattern.FindStringIndex(currentPrompt)
	if loc == nil {
		return Result{}, false
	}
	return Result{
		Prompt: currentPrompt[:loc[0]] + newObj + currentPrompt[loc[1]:],
		Rule:   RuleReplace,
	}, true
}

// tryBackground replaces an existing ", background X" clause or appends one.
func tryBackground(currentPrompt, background string) Result {
	clause := "background " + background
	if backgroundClause.MatchString(currentPrompt) {
		return Result{
			Prompt: backgroundClause.ReplaceAllString(currentPrompt, ", "+clause),
			Rule:   RuleBackground,
		}
	}
	return Result{Prompt: appendClause(currentPrompt, clause), Rule: RuleBackground}
}

func appendClause(currentPrompt, clause string) string {
	if strings.TrimSpace(currentPrompt) == "" {
		return clause
	}
	return currentPrompt + ", " + clause
}
