package scheduler

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts 5-field specs, 6-field specs with seconds and descriptors.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Spec is a parsed schedule: a cron expression or, when Every is set, a fixed interval.
type Spec struct {
	Cron  string
	Every time.Duration
}

func (s Spec) Interval() bool { return s.Every > 0 }

var clockInterval = regexp.MustCompile(`^(\d{1,3}):([0-5]\d)$`)

// ParseSchedule accepts cron ("*/5 * * * *", "@daily", "cron:0 3 * * *"),
// Go durations ("55m") and HH:MM intervals ("02:30"). Intervals may carry an
// "every:" or "interval:" prefix.
func ParseSchedule(raw string) (Spec, error) {
	s := strings.TrimSpace(raw)
	lower := strings.ToLower(s)
	switch {
	case s == "":
		return Spec{}, errors.New("schedule required")
	case strings.HasPrefix(lower, "cron:"):
		return cronSpec(s[len("cron:"):])
	case strings.HasPrefix(lower, "every:"):
		return intervalSpec(s[len("every:"):])
	case strings.HasPrefix(lower, "interval:"):
		return intervalSpec(s[len("interval:"):])
	case s[0] == '@' || strings.ContainsAny(s, " \t"):
		return cronSpec(s)
	}
	return intervalSpec(s)
}

func cronSpec(expr string) (Spec, error) {
	expr = strings.TrimSpace(expr)
	if _, err := cronParser.Parse(expr); err != nil {
		return Spec{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Spec{Cron: expr}, nil
}

func intervalSpec(v string) (Spec, error) {
	v = strings.TrimSpace(v)
	var d time.Duration
	if m := clockInterval.FindStringSubmatch(v); m != nil {
		h, _ := strconv.Atoi(m[1])
		mm, _ := strconv.Atoi(m[2])
		d = time.Duration(h)*time.Hour + time.Duration(mm)*time.Minute
	} else {
		var err error
		if d, err = time.ParseDuration(v); err != nil {
			return Spec{}, fmt.Errorf("invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30' or a duration like '55m')", v)
		}
	}
	if d <= 0 {
		return Spec{}, errors.New("interval must be > 0")
	}
	return Spec{Every: d}, nil
}
