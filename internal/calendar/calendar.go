// Package calendar buckets study sessions into a month grid for rendering.
package calendar

import (
	"sort"
	"time"

	"github.com/Codewithjainam7/EduHubPro/internal/store"
)

// Day is one cell of the month grid.
type Day struct {
	Day      int                  `json:"day"`
	Sessions []store.StudySession `json:"sessions"`
}

// MonthGrid is the rendered month: LeadingBlanks empty cells for the
// weekday offset of day 1 (Sunday-first week), then one cell per day.
type MonthGrid struct {
	Year          int   `json:"year"`
	Month         int   `json:"month"`
	LeadingBlanks int   `json:"leading_blanks"`
	Days          []Day `json:"days"`
}

// BuildMonthGrid buckets sessions by local calendar day for the given
// month. Sessions outside the month are ignored; sessions within a day are
// ordered by time.
func BuildMonthGrid(year int, month time.Month, sessions []store.StudySession) MonthGrid {
	first := time.Date(year, month, 1, 0, 0, 0, 0, time.Local)
	daysInMonth := first.AddDate(0, 1, -1).Day()

	grid := MonthGrid{
		Year:          year,
		Month:         int(month),
		LeadingBlanks: int(first.Weekday()),
		Days:          make([]Day, daysInMonth),
	}

	byDay := make(map[int][]store.StudySession)
	for _, s := range sessions {
		t, err := time.Parse(time.RFC3339, s.Date)
		if err != nil {
			continue
		}
		t = t.Local()
		if t.Year() != year || t.Month() != month {
			continue
		}
		byDay[t.Day()] = append(byDay[t.Day()], s)
	}

	for day := 1; day <= daysInMonth; day++ {
		bucket := byDay[day]
		sort.Slice(bucket, func(i, j int) bool {
			return bucket[i].Date < bucket[j].Date
		})
		grid.Days[day-1] = Day{Day: day, Sessions: bucket}
	}
	return grid
}
