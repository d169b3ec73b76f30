// Package allocation splits a payment's paid or refunded total across the
// order lines it covers, in proportion to each line's price.
package allocation

import (
	"github.com/shopspring/decimal"
)

// Item is one line taking part in an allocation.
type Item struct {
	Key   string
	Price decimal.Decimal
}

// Allocation maps item keys to whole currency units. Keys keep the order in
// which they first appeared in the input.
type Allocation struct {
	keys   []string
	amount map[string]int64
}

// Get returns the amount allocated to key.
func (a Allocation) Get(key string) int64 {
	return a.amount[key]
}

// Keys returns the allocated keys in first-seen order.
func (a Allocation) Keys() []string {
	return append([]string(nil), a.keys...)
}

// Len returns the number of distinct keys.
func (a Allocation) Len() int {
	return len(a.keys)
}

// Sum returns the total allocated amount.
func (a Allocation) Sum() int64 {
	var s int64
	for _, v := range a.amount {
		s += v
	}
	return s
}

// Map returns a copy of the allocation as a plain map.
func (a Allocation) Map() map[string]int64 {
	m := make(map[string]int64, len(a.amount))
	for k, v := range a.amount {
		m[k] = v
	}
	return m
}

func (a *Allocation) add(key string, v int64) {
	if a.amount == nil {
		a.amount = make(map[string]int64)
	}
	if _, ok := a.amount[key]; !ok {
		a.keys = append(a.keys, key)
	}
	a.amount[key] += v
}

// ByRatio splits total across items proportionally to their price.
//
// Each item gets floor(total*price/sum(price)); the remainder is handed out
// one unit at a time in input order to items whose exact share had a
// fractional part, wrapping over all items if anything is left, so the
// result sums to exactly total. Items with duplicate keys are summed. When the price sum
// or total is not positive every key gets zero. Negative prices count as
// zero.
func ByRatio(items []Item, total int64) Allocation {
	var out Allocation
	if len(items) == 0 {
		return out
	}

	prices := make([]decimal.Decimal, len(items))
	sum := decimal.Zero
	for i, it := range items {
		p := it.Price
		if p.IsNegative() {
			p = decimal.Zero
		}
		prices[i] = p
		sum = sum.Add(p)
	}

	if total <= 0 || !sum.IsPositive() {
		for _, it := range items {
			out.add(it.Key, 0)
		}
		return out
	}

	t := decimal.NewFromInt(total)
	shares := make([]int64, len(items))
	inexact := make([]bool, len(items))
	var floored int64
	for i, p := range prices {
		q, r := t.Mul(p).QuoRem(sum, 0)
		shares[i] = q.IntPart()
		inexact[i] = !r.IsZero()
		floored += shares[i]
	}

	// Lines whose exact share was already whole are passed over so no line
	// drifts a full unit from its exact ratio.
	rem := total - floored
	for i := 0; i < len(items) && rem > 0; i++ {
		if inexact[i] {
			shares[i]++
			rem--
		}
	}
	for i := 0; rem > 0; i, rem = (i+1)%len(items), rem-1 {
		shares[i]++
	}

	for i, it := range items {
		out.add(it.Key, shares[i])
	}
	return out
}

// GrossPaid reconstructs the gross amount charged for a payment. Some data
// sources store the post-cancellation balance in amount; for those
// (netOfCancel) an amount smaller than the cancelled total is read as
// amount+cancelAmount. Everything else is taken at face value.
func GrossPaid(amount, cancelAmount int64, netOfCancel bool) int64 {
	if netOfCancel && cancelAmount > 0 && amount < cancelAmount {
		return amount + cancelAmount
	}
	return amount
}
