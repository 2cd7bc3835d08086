// Package ledger computes balances and settlement plans from a group's
// transaction log. Every function is pure: no I/O, no shared state, and the
// same transaction set always yields the same result regardless of order.
//
// Amounts are int64 minor units. Splits are exact: the shares of a
// transaction always sum to its amount.
package ledger

import (
	"sort"
	"time"

	"hisob/internal/core"
)

// DefaultRecentLimit is how many transactions BuildView includes when the
// caller does not ask for a specific number.
const DefaultRecentLimit = 5

// Split divides amount into n shares that sum exactly to amount. The first
// amount%n shares carry one extra minor unit. Returns nil when n <= 0.
func Split(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	share := amount / int64(n)
	rem := amount % int64(n)
	shares := make([]int64, n)
	for i := range shares {
		shares[i] = share
		if int64(i) < rem {
			shares[i]++
		}
	}
	return shares
}

// identity resolves member ids to their ordering key.
type identity map[int64]core.Member

func newIdentity(members []core.Member) identity {
	idx := make(identity, len(members))
	for _, m := range members {
		idx[m.ID] = m
	}
	return idx
}

// less orders known members by external identity. Ids missing from the
// roster sort after every known member, by internal id.
func (idx identity) less(a, b int64) bool {
	ma, okA := idx[a]
	mb, okB := idx[b]
	switch {
	case okA && okB:
		return ma.IdentityLess(mb)
	case okA != okB:
		return okA
	default:
		return a < b
	}
}

// ordered returns a copy of ids sorted by ascending identity.
func (idx identity) ordered(ids []int64) []int64 {
	out := append([]int64(nil), ids...)
	sort.Slice(out, func(i, j int) bool { return idx.less(out[i], out[j]) })
	return out
}

// shares distributes the transaction amount over its participants ordered by
// identity. Duplicate ids are ignored.
func (idx identity) shares(tx core.Transaction) map[int64]int64 {
	parts := dedupe(tx.Participants)
	if len(parts) == 0 {
		return nil
	}
	parts = idx.ordered(parts)
	split := Split(tx.Amount, len(parts))
	out := make(map[int64]int64, len(parts))
	for i, mid := range parts {
		out[mid] += split[i]
	}
	return out
}

func dedupe(ids []int64) []int64 {
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// ComputeBalances returns every member's net position.
//
// Algorithm:
//   - every member starts at zero
//   - the payer of a transaction is debited the full amount (they advanced it)
//   - each participant is credited their share of the exact split
//
// Members referenced by a transaction but missing from members are still
// accounted, so the balances always sum to zero.
//
// Output order: positive balances descending, then negative balances
// ascending (most owed first), then zeros. Ties are broken by identity.
func ComputeBalances(transactions []core.Transaction, members []core.Member) []core.BalanceEntry {
	idx := newIdentity(members)
	balances := make(map[int64]int64, len(members))
	for _, m := range members {
		balances[m.ID] = 0
	}

	for _, tx := range transactions {
		balances[tx.PayerID] -= tx.Amount
		for mid, share := range idx.shares(tx) {
			balances[mid] += share
		}
	}

	entries := make([]core.BalanceEntry, 0, len(balances))
	for mid, net := range balances {
		entries = append(entries, core.BalanceEntry{MemberID: mid, Net: net})
	}
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		ga, gb := balanceGroup(a.Net), balanceGroup(b.Net)
		if ga != gb {
			return ga < gb
		}
		if a.Net != b.Net {
			if ga == 0 {
				return a.Net > b.Net
			}
			return a.Net < b.Net
		}
		return idx.less(a.MemberID, b.MemberID)
	})
	return entries
}

func balanceGroup(net int64) int {
	switch {
	case net > 0:
		return 0
	case net < 0:
		return 1
	default:
		return 2
	}
}

type position struct {
	memberID int64
	amount   int64
}

// ComputeSettlement turns balances into a list of transfers that zeroes every
// balance.
//
// It is a greedy debt-netting heuristic: debtors and creditors are each sorted
// by descending magnitude (stable, so equal magnitudes keep their input order)
// and the largest remaining debtor always pays the largest remaining creditor
// min(debt, credit). The plan has at most members-1 transfers but is not
// guaranteed to be the global minimum; finding that is NP-hard and not worth
// it for group sizes we see.
func ComputeSettlement(balances []core.BalanceEntry) []core.Transfer {
	var debtors, creditors []position
	for _, b := range balances {
		switch {
		case b.Net > 0:
			debtors = append(debtors, position{memberID: b.MemberID, amount: b.Net})
		case b.Net < 0:
			creditors = append(creditors, position{memberID: b.MemberID, amount: -b.Net})
		}
	}
	sort.SliceStable(debtors, func(i, j int) bool { return debtors[i].amount > debtors[j].amount })
	sort.SliceStable(creditors, func(i, j int) bool { return creditors[i].amount > creditors[j].amount })

	var transfers []core.Transfer
	i, j := 0, 0
	for i < len(debtors) && j < len(creditors) {
		d, c := &debtors[i], &creditors[j]
		amount := min(d.amount, c.amount)
		if amount > 0 {
			transfers = append(transfers, core.Transfer{From: d.memberID, To: c.memberID, Amount: amount})
		}
		d.amount -= amount
		c.amount -= amount
		if d.amount == 0 {
			i++
		}
		if c.amount == 0 {
			j++
		}
	}
	return transfers
}

// ComputeAggregate sums the amounts of all transactions of the given kind.
func ComputeAggregate(transactions []core.Transaction, kind core.Kind) int64 {
	var total int64
	for _, tx := range transactions {
		if tx.Kind == kind {
			total += tx.Amount
		}
	}
	return total
}

// ComputeBreakdown sums each participant's shares over the transactions of
// the given kind, using the same split rule as ComputeBalances. Ordered by
// descending total, then identity.
func ComputeBreakdown(transactions []core.Transaction, members []core.Member, kind core.Kind) []core.BreakdownEntry {
	idx := newIdentity(members)
	totals := make(map[int64]int64)
	for _, tx := range transactions {
		if tx.Kind != kind {
			continue
		}
		for mid, share := range idx.shares(tx) {
			totals[mid] += share
		}
	}

	out := make([]core.BreakdownEntry, 0, len(totals))
	for mid, total := range totals {
		out = append(out, core.BreakdownEntry{MemberID: mid, TotalShare: total})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TotalShare != out[j].TotalShare {
			return out[i].TotalShare > out[j].TotalShare
		}
		return idx.less(out[i].MemberID, out[j].MemberID)
	})
	return out
}

// BuildView assembles the dashboard view of a group. recentLimit <= 0 uses
// DefaultRecentLimit.
func BuildView(group core.Group, members []core.Member, transactions []core.Transaction, recentLimit int, now time.Time) core.View {
	if recentLimit <= 0 {
		recentLimit = DefaultRecentLimit
	}

	byID := make(map[int64]core.Member, len(members))
	var residents []core.Member
	for _, m := range members {
		byID[m.ID] = m
		if m.Resident {
			residents = append(residents, m)
		}
	}
	sort.Slice(residents, func(i, j int) bool { return residents[i].IdentityLess(residents[j]) })

	balances := ComputeBalances(transactions, members)

	return core.View{
		Group:          group,
		Members:        members,
		MembersByID:    byID,
		Residents:      residents,
		Balances:       balances,
		Transfers:      ComputeSettlement(balances),
		FixedTotal:     ComputeAggregate(transactions, core.KindFixedShared),
		FixedBreakdown: ComputeBreakdown(transactions, members, core.KindFixedShared),
		Recent:         recent(transactions, recentLimit),
		GeneratedAt:    now,
	}
}

// recent returns up to limit transactions, newest first.
func recent(transactions []core.Transaction, limit int) []core.Transaction {
	out := append([]core.Transaction(nil), transactions...)
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}
