package format

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

// chatMagnitudes keeps the wording chat timestamps use ("5 mins",
// "2 hours"). The smallest unit is a minute.
var chatMagnitudes = []humanize.RelTimeMagnitude{
	{D: 2 * time.Minute, Format: "1 min", DivBy: time.Minute},
	{D: time.Hour, Format: "%d mins", DivBy: time.Minute},
	{D: 2 * time.Hour, Format: "1 hour", DivBy: time.Hour},
	{D: humanize.Day, Format: "%d hours", DivBy: time.Hour},
	{D: 2 * humanize.Day, Format: "1 day", DivBy: humanize.Day},
	{D: humanize.Week, Format: "%d days", DivBy: humanize.Day},
	{D: 2 * humanize.Week, Format: "1 week", DivBy: humanize.Week},
	{D: humanize.Month, Format: "%d weeks", DivBy: humanize.Week},
	{D: 2 * humanize.Month, Format: "1 month", DivBy: humanize.Month},
	{D: humanize.Year, Format: "%d months", DivBy: humanize.Month},
	{D: 2 * humanize.Year, Format: "1 year", DivBy: humanize.Year},
	{D: math.MaxInt64, Format: "%d years", DivBy: humanize.Year},
}

// HumanDelta renders the distance between two instants the way chat
// timestamps are shown: "1 min", "3 hours", "2 days".
func HumanDelta(from, to time.Time) string {
	return humanize.CustomRelTime(from, to, "", "", chatMagnitudes)
}
