package binutil

import "time"

// filetimeEpoch is the difference between the Windows FILETIME epoch
// (1601-01-01) and the Unix epoch (1970-01-01), in 100-nanosecond ticks.
const filetimeEpoch = 116444736000000000

// FILETIME converts a Windows FILETIME (100ns ticks since 1601-01-01,
// PE/LNK timestamp fields) to UTC. A zero FILETIME (the common "not set"
// sentinel) reports ok=false so callers can omit the field instead of
// printing the 1601 epoch.
func FILETIME(v uint64) (t time.Time, ok bool) {
	if v == 0 {
		return time.Time{}, false
	}
	ticks := int64(v) - filetimeEpoch
	return time.Unix(0, ticks*100).UTC(), true
}

// DOSDateTime converts an MS-DOS packed date/time pair (ZIP local file
// header, FAT/ISO-9660 directory records) to UTC, grounded on the same
// bit layout the teacher's internal/zip/times.go msDosTimeToTime uses:
// date = yyyyyyy mmmm ddddd (year offset from 1980), time = hhhhh mmmmmm
// sssss (seconds in 2-second units).
func DOSDateTime(date, timeField uint16) (t time.Time, ok bool) {
	if date == 0 {
		return time.Time{}, false
	}
	year := int(date>>9) + 1980
	month := int(date >> 5 & 0xF)
	day := int(date & 0x1F)
	hour := int(timeField >> 11)
	minute := int(timeField >> 5 & 0x3F)
	second := int(timeField&0x1F) * 2
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	return time.Date(year, time.Month(month), day, hour, minute, second, 0, time.UTC), true
}

// ISO9660DateTime converts the 7-byte "both-endian-free" ISO-9660 directory
// record timestamp (year offset from 1900, month, day, hour, minute,
// second, GMT-offset in 15-minute units) to UTC.
func ISO9660DateTime(b [7]byte) (t time.Time, ok bool) {
	year := int(b[0]) + 1900
	month := int(b[1])
	day := int(b[2])
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	loc := time.FixedZone("", int(int8(b[6]))*15*60)
	return time.Date(year, time.Month(month), day, int(b[3]), int(b[4]), int(b[5]), 0, loc).UTC(), true
}
