// Package projection derives the read views of the kitchen console from an
// order snapshot. Every function is pure and safe to call on each read.
package projection

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/joao-fontenele/kitchen-console/internal/domain"
)

// DayKeyLayout formats day keys as dd.mm.yyyy.
const DayKeyLayout = "02.01.2006"

type DayGroup struct {
	Key    string          `json:"day"`
	Date   time.Time       `json:"date"`
	Orders []domain.Order  `json:"orders"`
	Total  decimal.Decimal `json:"total"`
}

// Grouped maps a day key to that day's orders.
type Grouped map[string]*DayGroup

type Summary struct {
	TodayPending int `json:"today_pending"`
	Paid         int `json:"paid"`
	Rejected     int `json:"rejected"`
}

func DayKey(day time.Time) string {
	return day.Format(DayKeyLayout)
}

func ParseDayKey(key string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	return time.ParseInLocation(DayKeyLayout, key, loc)
}

// TodayPending returns pending orders whose order date is the calendar day of
// now, evaluated in now's location.
func TodayPending(orders []domain.Order, now time.Time) []domain.Order {
	out := make([]domain.Order, 0)
	for _, order := range orders {
		if order.Status != domain.OrderStatusPending {
			continue
		}
		day, err := domain.ParseOrderDate(order.OrderDate, now.Location())
		if err != nil {
			continue
		}
		if domain.SameDay(now, day) {
			out = append(out, order)
		}
	}
	return out
}

// GroupByDay buckets orders with the given status by order date. Orders with
// a missing or malformed date are left out.
func GroupByDay(orders []domain.Order, status domain.OrderStatus, loc *time.Location) Grouped {
	groups := make(Grouped)
	for _, order := range orders {
		if order.Status != status {
			continue
		}
		day, err := domain.ParseOrderDate(order.OrderDate, loc)
		if err != nil {
			continue
		}

		key := DayKey(day)
		group, ok := groups[key]
		if !ok {
			group = &DayGroup{Key: key, Date: day, Total: decimal.Zero}
			groups[key] = group
		}
		group.Orders = append(group.Orders, order)
		group.Total = group.Total.Add(order.Total)
	}
	return groups
}

// SortDaysDescending orders the groups most recent day first. The ordering
// comes from parsing each key back into a date; keys that do not parse are
// dropped.
func SortDaysDescending(groups Grouped, loc *time.Location) []DayGroup {
	type dated struct {
		at    time.Time
		group *DayGroup
	}

	days := make([]dated, 0, len(groups))
	for key, group := range groups {
		at, err := ParseDayKey(key, loc)
		if err != nil {
			continue
		}
		days = append(days, dated{at: at, group: group})
	}

	sort.Slice(days, func(i, j int) bool {
		return days[i].at.After(days[j].at)
	})

	out := make([]DayGroup, len(days))
	for i, d := range days {
		out[i] = *d.group
	}
	return out
}

// History is GroupByDay followed by SortDaysDescending.
func History(orders []domain.Order, status domain.OrderStatus, loc *time.Location) []DayGroup {
	return SortDaysDescending(GroupByDay(orders, status, loc), loc)
}

func Summarize(orders []domain.Order, now time.Time) Summary {
	summary := Summary{TodayPending: len(TodayPending(orders, now))}
	for _, order := range orders {
		switch order.Status {
		case domain.OrderStatusPaid:
			summary.Paid++
		case domain.OrderStatusRejected:
			summary.Rejected++
		}
	}
	return summary
}
