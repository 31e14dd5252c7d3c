package reranker

// Selection is the result of SelectWithinBudget.
type Selection[T any] struct {
	Selected     []T
	SkippedCount int
	TotalTokens  int
}

// SelectWithinBudget walks items in order and keeps each one whose cost
// still fits in the remaining budget. Items that do not fit are counted as
// skipped and the walk continues, so a smaller later item can still be
// taken. len(Selected)+SkippedCount always equals len(items).
func SelectWithinBudget[T any](items []T, budget int, cost func(T) int) Selection[T] {
	sel := Selection[T]{Selected: make([]T, 0, len(items))}
	for _, it := range items {
		c := cost(it)
		if sel.TotalTokens+c > budget {
			sel.SkippedCount++
			continue
		}
		sel.TotalTokens += c
		sel.Selected = append(sel.Selected, it)
	}
	return sel
}
