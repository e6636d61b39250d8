package timeline

import (
	"time"
)

// the virtual-item grouping collaborator.
// given the ordered visible event items, returns the virtual items to place
// immediately before each event, keyed by event id. the engine interleaves
// them as opaque items: it never reorders them and never attributes receipts
// to them.
type VirtualItemGrouper interface {
	Group(events []*EventItem) map[EventId][]*VirtualItem
}

const VirtualKindDateDivider = "date-divider"

// inserts a date divider before the first event of each calendar day
func DayDividerGrouper(location *time.Location) VirtualItemGrouper {
	if location == nil {
		location = time.UTC
	}
	return &dayDividerGrouper{
		location: location,
	}
}

type dayDividerGrouper struct {
	location *time.Location
}

func (self *dayDividerGrouper) Group(events []*EventItem) map[EventId][]*VirtualItem {
	groups := map[EventId][]*VirtualItem{}
	day := ""
	for _, event := range events {
		if event.Time.IsZero() {
			continue
		}
		eventDay := event.Time.In(self.location).Format(time.DateOnly)
		if eventDay != day {
			day = eventDay
			groups[event.EventId] = []*VirtualItem{
				{
					Kind: VirtualKindDateDivider,
					Tag:  eventDay,
				},
			}
		}
	}
	return groups
}
