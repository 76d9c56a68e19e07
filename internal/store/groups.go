package store

import (
	"iter"
	"time"

	"github.com/teamgrid/collabcore/internal/model"
)

// DateGroup is one calendar day's worth of messages for display.
type DateGroup struct {
	Label    string    // local calendar day, e.g. "March 4, 2026"
	Day      time.Time // midnight local time of that day
	Messages []model.Message
}

// GroupByDate returns a lazy, restartable sequence of date groups. Groups
// are ordered most-recent-day first; messages within a group keep ascending
// time order. The sequence is a pure function of the store state at the
// moment of the call.
func (s *Store) GroupByDate() iter.Seq[DateGroup] {
	msgs := s.Messages()
	return func(yield func(DateGroup) bool) {
		// msgs is ascending; walk backwards, emitting one group per day.
		end := len(msgs)
		for end > 0 {
			day := localDay(msgs[end-1].CreatedAt)
			start := end - 1
			for start > 0 && localDay(msgs[start-1].CreatedAt).Equal(day) {
				start--
			}
			g := DateGroup{
				Label:    day.Format("January 2, 2006"),
				Day:      day,
				Messages: msgs[start:end],
			}
			if !yield(g) {
				return
			}
			end = start
		}
	}
}

// localDay truncates t to midnight in local time.
func localDay(t time.Time) time.Time {
	lt := t.Local()
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, lt.Location())
}
