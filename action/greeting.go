package action

import "time"

// Seconds east of UTC the greeting schedule is written in.
const scheduleOffset = 8 * 3600

type greetingSlot struct {
	until int64 // last second of day, inclusive
	word  string
}

var greetingSlots = []greetingSlot{
	{14400, "晚上好"}, // 0:00 - 4:00
	{32400, "早上好"}, // 4:00 - 9:00
	{41400, "上午好"}, // 9:00 - 11:30
	{48600, "中午好"}, // 11:30 - 13:30
	{61200, "下午好"}, // 13:30 - 17:00
	{86399, "晚上好"}, // 17:00 - 24:00
}

// GreetingWord picks the greeting for the time of day at t in UTC+8.
func GreetingWord(t time.Time) string {
	sec := (t.Unix() + scheduleOffset) % 86400
	if sec < 0 {
		sec += 86400
	}
	for _, s := range greetingSlots {
		if sec <= s.until {
			return s.word
		}
	}
	return greetingSlots[len(greetingSlots)-1].word
}
