package core

import "time"

// BalanceEntry is a member's net position. Positive means the member owes
// the group, negative means the member is owed, zero means settled.
type BalanceEntry struct {
	MemberID int64
	Net      int64
}

// Transfer is one suggested payment from a debtor to a creditor.
type Transfer struct {
	From   int64
	To     int64
	Amount int64
}

// BreakdownEntry is the sum of a member's shares over a set of transactions.
type BreakdownEntry struct {
	MemberID   int64
	TotalShare int64
}

// View is everything the dashboard shows for one group.
type View struct {
	Group          Group
	Members        []Member
	MembersByID    map[int64]Member
	Residents      []Member
	Balances       []BalanceEntry
	Transfers      []Transfer
	FixedTotal     int64
	FixedBreakdown []BreakdownEntry
	Recent         []Transaction
	GeneratedAt    time.Time
}
