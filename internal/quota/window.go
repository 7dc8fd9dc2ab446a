// Package quota implements fixed-window token accounting and the admission
// decision that gates every forwarded request.
package quota

import (
	"fmt"
	"time"
)

// Identity is the (model, user) pair quotas are tracked under. Model may be
// a fixed constant in single-model deployments.
type Identity struct {
	Model string
	User  string
}

func (id Identity) String() string {
	return id.Model + "/" + id.User
}

// Window is one of the three fixed accounting windows.
type Window int

const (
	Minute Window = iota
	Hour
	Day
)

// Windows lists all windows in check order.
var Windows = [3]Window{Minute, Hour, Day}

func (w Window) String() string {
	switch w {
	case Minute:
		return "minute"
	case Hour:
		return "hour"
	case Day:
		return "day"
	default:
		return fmt.Sprintf("window(%d)", int(w))
	}
}

// Duration is the fixed width of the window, which is also the TTL applied
// on every commit.
func (w Window) Duration() time.Duration {
	switch w {
	case Minute:
		return time.Minute
	case Hour:
		return time.Hour
	default:
		return 24 * time.Hour
	}
}

// RetryAfter is the retry hint attached to a denial on this window.
func (w Window) RetryAfter() int {
	return int(w.Duration() / time.Second)
}

// Key layout shared with the schedulers that scan it:
//
//	token:usage:{model}:{user}:{window}  counter, TTL = window duration
//	token:concurrent:{model}:{user}      counter, TTL = 300s safety net

func usageKey(id Identity, w Window) string {
	return fmt.Sprintf("token:usage:%s:%s:%s", id.Model, id.User, w)
}

func concurrentKey(id Identity) string {
	return fmt.Sprintf("token:concurrent:%s:%s", id.Model, id.User)
}

// UsageKeyPattern and ConcurrentKeyPattern are the scan patterns the
// periodic jobs use. They are the only other consumers of the key layout.
func UsageKeyPattern(w Window) string {
	return "token:usage:*:*:" + w.String()
}

func ConcurrentKeyPattern() string {
	return "token:concurrent:*"
}
