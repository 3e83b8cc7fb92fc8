// Package schedule spreads publish items across future days and hour slots.
package schedule

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultSlot is used when no valid daily slot is given.
const DefaultSlot = 10

// Calculator turns an item count, a per-day quota and daily hour slots
// into concrete timestamps. The zero value uses time.Now.
type Calculator struct {
	Now func() time.Time
}

func New() *Calculator {
	return &Calculator{Now: time.Now}
}

func (c *Calculator) now() time.Time {
	if c == nil || c.Now == nil {
		return time.Now()
	}
	return c.Now()
}

// Compute returns itemCount timestamps. Day 0 is today+startDayOffset in
// the location of the current time; itemsPerDay items land on each day,
// consuming slots in order. When the quota is larger than the number of
// slots the slots are reused, grouped so that a day never goes backwards
// (slots [10 18] with a quota of 3 give 10, 10, 18). Values below 1 for
// itemsPerDay are treated as 1.
func (c *Calculator) Compute(itemCount, itemsPerDay int, slots []int, startDayOffset int) []time.Time {
	if itemCount <= 0 {
		return []time.Time{}
	}
	if itemsPerDay < 1 {
		itemsPerDay = 1
	}
	if startDayOffset < 0 {
		startDayOffset = 0
	}
	slots = normalizeSlots(slots)

	now := c.now()
	base := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())

	out := make([]time.Time, 0, itemCount)
	for i := 0; i < itemCount; i++ {
		day := startDayOffset + i/itemsPerDay
		hour := slots[slotIndex(i%itemsPerDay, itemsPerDay, len(slots))]
		out = append(out, time.Date(base.Year(), base.Month(), base.Day()+day, hour, 0, 0, 0, base.Location()))
	}
	return out
}

func slotIndex(pos, perDay, n int) int {
	if perDay <= n {
		return pos
	}
	return pos * n / perDay
}

// ComputeFromStrings parses raw slot strings and then behaves like Compute.
func (c *Calculator) ComputeFromStrings(itemCount, itemsPerDay int, rawSlots []string, startDayOffset int) []time.Time {
	return c.Compute(itemCount, itemsPerDay, ParseSlots(rawSlots), startDayOffset)
}

// ParseSlots converts values like "10", "10:00" or "18:30" into hours.
// Entries whose hour is not a number in 0..23 are dropped. A nil result
// means nothing usable was given.
func ParseSlots(raw []string) []int {
	var out []int
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		hourPart, _, _ := strings.Cut(s, ":")
		hour, err := strconv.Atoi(strings.TrimSpace(hourPart))
		if err != nil || hour < 0 || hour > 23 {
			continue
		}
		out = append(out, hour)
	}
	return out
}

// normalizeSlots drops out-of-range hours, sorts and de-duplicates so the
// output of Compute is non-decreasing within a day.
func normalizeSlots(slots []int) []int {
	seen := make(map[int]bool, len(slots))
	out := make([]int, 0, len(slots))
	for _, h := range slots {
		if h < 0 || h > 23 || seen[h] {
			continue
		}
		seen[h] = true
		out = append(out, h)
	}
	if len(out) == 0 {
		return []int{DefaultSlot}
	}
	sort.Ints(out)
	return out
}
