package weather

import "time"

// DefaultWindowDays is the length of the trailing window before today.
const DefaultWindowDays = 30

const dateLayout = "2006-01-02"

// Window returns the archive date range ending today in now's calendar:
// start is today minus DefaultWindowDays, end is today.
func Window(now time.Time) (start, end string) {
	return WindowOf(now, DefaultWindowDays)
}

// WindowOf is Window with an explicit number of trailing days.
func WindowOf(now time.Time, days int) (start, end string) {
	if days < 0 {
		days = 0
	}
	y, m, d := now.Date()
	today := time.Date(y, m, d, 0, 0, 0, 0, now.Location())
	return today.AddDate(0, 0, -days).Format(dateLayout), today.Format(dateLayout)
}
