package vfat

import (
	"time"
)

// ParseDate decodes a FAT date stamp.
//
//	Bits 0-4:  day of month, 1-31
//	Bits 5-8:  month, 1-12
//	Bits 9-15: years since 1980, 0-127
//
// Day or month 0 is invalid and yields time.Time{} so IsZero can be used to
// detect it. A month above 12 rolls over into the next year, as time.Date does.
func ParseDate(input uint16) time.Time {
	day := input & 0x1F
	month := input & 0x1E0 >> 5
	year := input & 0xFE00 >> 9

	if day == 0 || month == 0 {
		return time.Time{}
	}

	return time.Date(1980+int(year), time.Month(month), int(day), 0, 0, 0, 0, time.UTC)
}

// ParseTime decodes a FAT time stamp with 2 second granularity.
//
//	Bits 0-4:   seconds / 2, 0-29
//	Bits 5-10:  minutes, 0-59
//	Bits 11-15: hours, 0-23
//
// The date part is always January 1, year 1.
// Out of range fields are clamped to 23:59:59.
func ParseTime(input uint16) time.Time {
	seconds := int(input&0x1F) * 2
	minutes := input & 0x7E0 >> 5
	hours := input & 0xF800 >> 11

	result := time.Date(1, 1, 1, int(hours), int(minutes), seconds, 0, time.UTC)
	if result.Day() > 1 {
		return time.Date(1, 1, 1, 23, 59, 59, 0, time.UTC)
	}

	return result
}

// ParseDateTime joins a date stamp, a time stamp and the optional
// hundredths-of-a-second field (0-199) of a creation time.
// An invalid date yields time.Time{}.
func ParseDateTime(date, clock uint16, tenths uint8) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}

	t := ParseTime(clock)
	if tenths > 199 {
		tenths = 0
	}
	fine := time.Duration(tenths) * 10 * time.Millisecond

	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC).Add(fine)
}
