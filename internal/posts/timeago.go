package posts

import (
	"math"
	"time"

	"github.com/dustin/go-humanize"
)

var compactMagnitudes = []humanize.RelTimeMagnitude{
	{D: time.Minute, Format: "%ds", DivBy: time.Second},
	{D: time.Hour, Format: "%dm", DivBy: time.Minute},
	{D: 24 * time.Hour, Format: "%dh", DivBy: time.Hour},
	{D: time.Duration(math.MaxInt64), Format: "%dd", DivBy: 24 * time.Hour},
}

// TimeAgo renders the distance between then and now as "42s", "5m", "3h"
// or "2d", truncating toward zero.
func TimeAgo(then, now time.Time) string {
	return humanize.CustomRelTime(then, now, "", "", compactMagnitudes)
}
