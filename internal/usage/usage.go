// Package usage tracks AI token consumption with lazy day and month
// rollover.
package usage

import (
	"time"
)

// HistoryLimit caps the number of closed days kept in History.
const HistoryLimit = 30

// DayLayout is the date format of history entries.
const DayLayout = "2006-01-02"

// Usage is the singleton ledger record.
type Usage struct {
	DailyTokens   int64          `json:"dailyTokens"`
	MonthlyTokens int64          `json:"monthlyTokens"`
	TotalCalls    int64          `json:"totalCalls"`
	DailyReset    time.Time      `json:"dailyReset"`
	MonthlyReset  time.Time      `json:"monthlyReset"`
	History       []HistoryEntry `json:"usageHistory"`
}

// HistoryEntry is the token total of one closed day.
type HistoryEntry struct {
	Date   string `json:"date"`
	Tokens int64  `json:"tokens"`
}

// New returns a zeroed ledger whose periods start at now.
func New(now time.Time) Usage {
	return Usage{DailyReset: now, MonthlyReset: now}
}

// Rollover closes the current day and month when now has moved past them, in
// loc's calendar. The closing day total is appended to History. It reports
// whether u changed.
func Rollover(u *Usage, now time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.Local
	}
	changed := false
	if u.DailyReset.IsZero() {
		u.DailyReset = now
		changed = true
	}
	if u.MonthlyReset.IsZero() {
		u.MonthlyReset = now
		changed = true
	}

	n := now.In(loc)
	d := u.DailyReset.In(loc)
	if !sameDay(n, d) {
		u.History = append(u.History, HistoryEntry{Date: d.Format(DayLayout), Tokens: u.DailyTokens})
		if over := len(u.History) - HistoryLimit; over > 0 {
			u.History = append([]HistoryEntry(nil), u.History[over:]...)
		}
		u.DailyTokens = 0
		u.DailyReset = now
		changed = true
	}

	m := u.MonthlyReset.In(loc)
	if n.Year() != m.Year() || n.Month() != m.Month() {
		u.MonthlyTokens = 0
		u.MonthlyReset = now
		changed = true
	}
	return changed
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
