package notify

import "time"

// EligibleChannels resolves which of the notification's requested channels
// may be used for the recipient right now.
//
// A channel is eligible iff the recipient's preferences are enabled, the
// channel is enabled and subscribed to the notification's event type, the
// recipient is not inside quiet hours, and address-requiring channels have a
// non-empty configured address. Quiet hours suppress all channels uniformly.
func EligibleChannels(n *Notification, prefs *Preferences, now time.Time) []Channel {
	if prefs == nil || !prefs.Enabled {
		return nil
	}
	if InQuietHours(prefs.QuietHours, now) {
		return nil
	}

	var out []Channel
	for _, c := range n.Channels {
		cp := prefs.Channel(c)
		if cp == nil || !cp.Enabled {
			continue
		}
		if !cp.Events.Contains(n.Type) {
			continue
		}
		if c.RequiresAddress() && cp.Address == "" {
			continue
		}
		out = append(out, c)
	}
	return out
}

// InQuietHours reports whether now falls inside the configured window,
// evaluated in the user's timezone. A window with Start == End never
// matches; Start > End wraps midnight. Malformed windows never suppress.
func InQuietHours(qh *QuietHours, now time.Time) bool {
	if qh == nil {
		return false
	}
	start, err := ParseHHMM(qh.Start)
	if err != nil {
		return false
	}
	end, err := ParseHHMM(qh.End)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	loc, err := time.LoadLocation(qh.Timezone)
	if err != nil {
		return false
	}

	local := now.In(loc)
	cur := local.Hour()*60 + local.Minute()

	if start < end {
		return cur >= start && cur < end
	}
	// Overnight window, e.g. 22:00-08:00.
	return cur >= start || cur < end
}
