package tokens

import (
	"github.com/fyrsmithlabs/fama/internal/workflow"
)

// Budget splits a prompt's token allowance between its parts.
type Budget struct {
	SystemPrompt  int `koanf:"systemPrompt" json:"systemPrompt"`
	Skills        int `koanf:"skills" json:"skills"`
	Context       int `koanf:"context" json:"context"`
	UserMessage   int `koanf:"userMessage" json:"userMessage"`
	OutputReserve int `koanf:"outputReserve" json:"outputReserve"`
}

// Total returns the sum of all parts.
func (b Budget) Total() int {
	return b.SystemPrompt + b.Skills + b.Context + b.UserMessage + b.OutputReserve
}

// InputTotal excludes the output reserve.
func (b Budget) InputTotal() int {
	return b.Total() - b.OutputReserve
}

// Overlay returns b with every non-zero field of o applied.
func (b Budget) Overlay(o Budget) Budget {
	if o.SystemPrompt > 0 {
		b.SystemPrompt = o.SystemPrompt
	}
	if o.Skills > 0 {
		b.Skills = o.Skills
	}
	if o.Context > 0 {
		b.Context = o.Context
	}
	if o.UserMessage > 0 {
		b.UserMessage = o.UserMessage
	}
	if o.OutputReserve > 0 {
		b.OutputReserve = o.OutputReserve
	}
	return b
}

var scaleBudgets = map[workflow.Scale]Budget{
	workflow.ScaleQuick:  {SystemPrompt: 2000, Skills: 2000, Context: 2000, UserMessage: 1000, OutputReserve: 4000},
	workflow.ScaleSmall:  {SystemPrompt: 3000, Skills: 4000, Context: 4000, UserMessage: 2000, OutputReserve: 8000},
	workflow.ScaleMedium: {SystemPrompt: 4000, Skills: 6000, Context: 8000, UserMessage: 3000, OutputReserve: 12000},
	workflow.ScaleLarge:  {SystemPrompt: 6000, Skills: 10000, Context: 16000, UserMessage: 4000, OutputReserve: 16000},
}

// BudgetForScale returns the fixed allocation for a scale. Unknown scales
// get the MEDIUM profile.
func BudgetForScale(s workflow.Scale) Budget {
	if b, ok := scaleBudgets[s]; ok {
		return b
	}
	return scaleBudgets[workflow.ScaleMedium]
}

// CustomBudget overlays overrides onto the MEDIUM profile.
func CustomBudget(overrides Budget) Budget {
	return BudgetForScale(workflow.ScaleMedium).Overlay(overrides)
}

// Profiles resolves a budget per scale from optional per-scale overrides.
type Profiles map[workflow.Scale]Budget

// For returns the scale's fixed profile with any configured override applied.
func (p Profiles) For(s workflow.Scale) Budget {
	b := BudgetForScale(s)
	if o, ok := p[s]; ok {
		b = b.Overlay(o)
	}
	return b
}
