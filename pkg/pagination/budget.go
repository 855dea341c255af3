package pagination

// Budget is the result-count allowance of one logical request. It is owned
// by a single iterator or query and must not be shared.
type Budget struct {
	remaining int
	bounded   bool
}

// NewBudget returns a budget of limit items. limit <= 0 means unbounded.
func NewBudget(limit int) *Budget {
	if limit <= 0 {
		return &Budget{}
	}
	return &Budget{remaining: limit, bounded: true}
}

// Bounded reports whether the budget has a limit.
func (b *Budget) Bounded() bool {
	return b.bounded
}

// Remaining returns the items still allowed, or 0 for an unbounded budget.
func (b *Budget) Remaining() int {
	if !b.bounded {
		return 0
	}
	return b.remaining
}

// Exhausted reports whether no more items may be delivered.
func (b *Budget) Exhausted() bool {
	return b.bounded && b.remaining <= 0
}

// Take spends the budget on items and returns the prefix that fits.
func Take[T any](b *Budget, items []T) []T {
	if !b.bounded {
		return items
	}
	if len(items) > b.remaining {
		items = items[:b.remaining]
	}
	b.remaining -= len(items)
	return items
}
