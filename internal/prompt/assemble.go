// Package prompt assembles an agent prompt from its playbook, the skills
// most relevant to the task and the handoff context, keeping every part
// inside its share of a token budget.
package prompt

import (
	"context"
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/fama/internal/reranker"
	"github.com/fyrsmithlabs/fama/internal/tokens"
)

// Skill is a named block of guidance an agent may be given.
type Skill struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Body        string `yaml:"-"`
}

// descriptor is the text a skill is ranked by.
func (s Skill) descriptor() string {
	if s.Description == "" {
		return s.Name + " " + s.Body
	}
	return s.Name + " " + s.Description
}

// Input is everything that goes into a prompt. Pinned is handoff text
// that must reach the agent whole; Context is the remainder, truncated to
// whatever budget Pinned leaves.
type Input struct {
	Playbook string
	Skills   []Skill
	Pinned   string
	Context  string
	Task     string
}

// Usage is the estimated token cost of each part.
type Usage struct {
	System  int `json:"system"`
	Skills  int `json:"skills"`
	Context int `json:"context"`
	User    int `json:"user"`
}

// Total sums every part.
func (u Usage) Total() int { return u.System + u.Skills + u.Context + u.User }

// Prompt is an assembled prompt.
type Prompt struct {
	System        string   `json:"system"`
	User          string   `json:"user"`
	SkillNames    []string `json:"skills"`
	SkippedSkills int      `json:"skippedSkills"`
	Usage         Usage    `json:"usage"`
}

// Assembler builds prompts, ranking skills with a Reranker.
type Assembler struct {
	reranker reranker.Reranker
}

// NewAssembler returns an assembler that ranks with r, or with a
// CosineReranker when r is nil.
func NewAssembler(r reranker.Reranker) *Assembler {
	if r == nil {
		r = reranker.NewCosineReranker()
	}
	return &Assembler{reranker: r}
}

// RankSkills orders skills by relevance to task.
func (a *Assembler) RankSkills(ctx context.Context, task string, skills []Skill) ([]Skill, error) {
	if len(skills) == 0 {
		return nil, nil
	}
	docs := make([]reranker.Document, len(skills))
	for i, s := range skills {
		docs[i] = reranker.Document{ID: s.Name, Content: s.descriptor()}
	}
	ranked, err := a.reranker.Rerank(ctx, task, docs, 0)
	if err != nil {
		return nil, fmt.Errorf("ranking skills: %w", err)
	}
	out := make([]Skill, 0, len(ranked))
	for _, r := range ranked {
		if r.OriginalRank < 0 || r.OriginalRank >= len(skills) {
			return nil, fmt.Errorf("ranking skills: rank %d out of range", r.OriginalRank)
		}
		out = append(out, skills[r.OriginalRank])
	}
	return out, nil
}

// SelectSkills ranks skills against task and keeps as many as fit in
// budget, costing each by its body.
func (a *Assembler) SelectSkills(ctx context.Context, task string, skills []Skill, budget int) (reranker.Selection[Skill], error) {
	ranked, err := a.RankSkills(ctx, task, skills)
	if err != nil {
		return reranker.Selection[Skill]{}, err
	}
	return reranker.SelectWithinBudget(ranked, budget, func(s Skill) int {
		return tokens.EstimateTokens(s.Body)
	}), nil
}

// Assemble builds a prompt within b. Pinned text is never truncated and is
// charged against b.Context before the rest of the context.
func (a *Assembler) Assemble(ctx context.Context, in Input, b tokens.Budget) (Prompt, error) {
	var p Prompt

	playbook := tokens.TruncateToTokenBudget(strings.TrimSpace(in.Playbook), b.SystemPrompt)
	p.Usage.System = tokens.EstimateTokens(playbook)

	sel, err := a.SelectSkills(ctx, in.Task, in.Skills, b.Skills)
	if err != nil {
		return Prompt{}, err
	}
	p.SkippedSkills = sel.SkippedCount
	p.Usage.Skills = sel.TotalTokens

	var sys strings.Builder
	sys.WriteString(playbook)
	if len(sel.Selected) > 0 {
		if sys.Len() > 0 {
			sys.WriteString("\n\n")
		}
		sys.WriteString("# Skills\n")
		for _, s := range sel.Selected {
			p.SkillNames = append(p.SkillNames, s.Name)
			sys.WriteString("\n## " + s.Name + "\n\n" + strings.TrimSpace(s.Body) + "\n")
		}
	}
	p.System = strings.TrimSpace(sys.String())

	pinned := strings.TrimSpace(in.Pinned)
	pinnedCost := tokens.EstimateTokens(pinned)
	rest := tokens.TruncateToTokenBudget(strings.TrimSpace(in.Context), max(0, b.Context-pinnedCost))
	var handoff string
	switch {
	case pinned == "":
		handoff = rest
	case rest == "":
		handoff = pinned
	default:
		handoff = pinned + "\n\n" + rest
	}
	p.Usage.Context = pinnedCost + tokens.EstimateTokens(rest)

	task := tokens.TruncateToTokenBudget(strings.TrimSpace(in.Task), b.UserMessage)
	p.Usage.User = tokens.EstimateTokens(task)

	if handoff == "" {
		p.User = task
	} else {
		p.User = "# Context from previous phases\n\n" + handoff + "\n\n# Task\n\n" + task
	}
	return p, nil
}

// Close releases the reranker.
func (a *Assembler) Close() error {
	return a.reranker.Close()
}
