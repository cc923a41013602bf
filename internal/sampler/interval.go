package sampler

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DefaultIntervals are the report windows tracked besides the control window.
var DefaultIntervals = []string{"5 seconds", "1 minute", "5 minutes", "15 minutes"}

// Interval names a report window and its capacity in ticks.
type Interval struct {
	Name      string
	ShortName string
	Ticks     int
}

// ParseInterval converts "<n> <unit>" (or a Go duration such as "5m") into an
// Interval sized for the given nominal tick rate.
func ParseInterval(text string, nominalTPS float64) (Interval, error) {
	text = strings.TrimSpace(text)
	var (
		n    int
		unit string
	)
	if fields := strings.Fields(text); len(fields) == 2 {
		v, err := strconv.Atoi(fields[0])
		if err != nil {
			return Interval{}, fmt.Errorf("interval %q: %w", text, err)
		}
		n, unit = v, strings.ToLower(strings.TrimSuffix(fields[1], "s"))
	} else {
		d, err := time.ParseDuration(text)
		if err != nil {
			return Interval{}, fmt.Errorf("interval %q: %w", text, err)
		}
		switch {
		case d%time.Hour == 0:
			n, unit = int(d/time.Hour), "hour"
		case d%time.Minute == 0:
			n, unit = int(d/time.Minute), "minute"
		case d%time.Second == 0:
			n, unit = int(d/time.Second), "second"
		default:
			return Interval{}, fmt.Errorf("interval %q: sub-second intervals are not supported", text)
		}
	}
	if n <= 0 {
		return Interval{}, fmt.Errorf("interval %q: must be positive", text)
	}

	var secs int
	switch unit {
	case "second", "sec":
		secs = n
	case "minute", "min":
		secs = n * 60
	case "hour":
		secs = n * 3600
	default:
		return Interval{}, fmt.Errorf("interval %q: unknown unit %q", text, unit)
	}

	ticks := int(math.Round(float64(secs) * nominalTPS))
	if ticks < 2 {
		return Interval{}, fmt.Errorf("interval %q: shorter than two ticks", text)
	}
	name := fmt.Sprintf("%d %s", n, unit)
	if n != 1 {
		name += "s"
	}
	return Interval{
		Name:      name,
		ShortName: fmt.Sprintf("%d%c", n, unit[0]),
		Ticks:     ticks,
	}, nil
}
