package install

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/robfig/cron/v3"
)

// Named macros usable in both cron.d files and systemd calendars.
var macroCalendar = map[string]string{
	"@hourly":   "hourly",
	"@daily":    "daily",
	"@midnight": "daily",
	"@weekly":   "weekly",
	"@monthly":  "monthly",
	"@yearly":   "yearly",
	"@annually": "yearly",
}

// ParseSchedule validates a 5-field cron expression or a named macro.
// @every and @reboot are rejected: neither has a crontab file or systemd
// calendar equivalent.
func ParseSchedule(expr string) error {
	e := strings.TrimSpace(expr)
	if e == "" {
		return fmt.Errorf("empty cron expression")
	}
	if strings.HasPrefix(e, "@") {
		if _, ok := macroCalendar[e]; !ok {
			return fmt.Errorf("macro %q is not supported", e)
		}
		return nil
	}

	parser5 := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	_, err := parser5.Parse(e)
	return err
}

// OnCalendar renders the schedule in systemd calendar syntax. Supported
// per field: "*", plain numbers, steps, ranges, and comma lists; the
// day-of-week field additionally must be numeric so it can be mapped to
// weekday names. Anything else errors, pointing at crontab mode instead.
func OnCalendar(expr string) (string, error) {
	e := strings.TrimSpace(expr)
	if cal, ok := macroCalendar[e]; ok {
		return cal, nil
	}
	if err := ParseSchedule(e); err != nil {
		return "", err
	}

	fields := strings.Fields(e)
	min, err := calendarField(fields[0], "0")
	if err != nil {
		return "", err
	}
	hour, err := calendarField(fields[1], "0")
	if err != nil {
		return "", err
	}
	dom, err := calendarField(fields[2], "1")
	if err != nil {
		return "", err
	}
	mon, err := calendarField(fields[3], "1")
	if err != nil {
		return "", err
	}
	dow, err := calendarDow(fields[4])
	if err != nil {
		return "", err
	}

	out := fmt.Sprintf("*-%s-%s %s:%s:00", mon, dom, hour, min)
	if dow != "" {
		out = dow + " " + out
	}
	return out, nil
}

// calendarField maps one cron field to calendar syntax. Cron steps start
// implicitly at the field minimum; systemd needs that start spelled out.
func calendarField(f, stepStart string) (string, error) {
	parts := strings.Split(f, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		base, step, hasStep := strings.Cut(p, "/")
		switch {
		case base == "*":
			if hasStep {
				out = append(out, stepStart+"/"+step)
			} else {
				out = append(out, "*")
			}
		case strings.Contains(base, "-"):
			lo, hi, _ := strings.Cut(base, "-")
			r := lo + ".." + hi
			if hasStep {
				r += "/" + step
			}
			out = append(out, r)
		default:
			if _, err := strconv.Atoi(base); err != nil {
				return "", fmt.Errorf("field %q is not representable in calendar syntax", f)
			}
			v := base
			if hasStep {
				v += "/" + step
			}
			out = append(out, v)
		}
	}
	return strings.Join(out, ","), nil
}

var dowNames = [...]string{"Sun", "Mon", "Tue", "Wed", "Thu", "Fri", "Sat", "Sun"}

func calendarDow(f string) (string, error) {
	if f == "*" {
		return "", nil
	}
	parts := strings.Split(f, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		lo, hi, isRange := strings.Cut(p, "-")
		name, err := dowName(lo)
		if err != nil {
			return "", err
		}
		if isRange {
			hiName, err := dowName(hi)
			if err != nil {
				return "", err
			}
			name += ".." + hiName
		}
		out = append(out, name)
	}
	return strings.Join(out, ","), nil
}

func dowName(s string) (string, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n < 0 || n > 7 {
		return "", fmt.Errorf("day-of-week %q must be numeric 0-7 for timer units", s)
	}
	return dowNames[n], nil
}
