package tool

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ParseTimecode parses "HH:MM:SS[.fff]", "MM:SS[.fff]" or plain seconds.
func ParseTimecode(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty timecode")
	}

	parts := strings.Split(s, ":")
	if len(parts) > 3 {
		return 0, fmt.Errorf("invalid timecode %q", s)
	}

	var total float64
	for i, part := range parts {
		last := i == len(parts)-1
		var v float64
		var err error
		if last {
			v, err = strconv.ParseFloat(part, 64)
		} else {
			var n int
			n, err = strconv.Atoi(part)
			v = float64(n)
		}
		if err != nil || v < 0 || math.IsInf(v, 0) || math.IsNaN(v) {
			return 0, fmt.Errorf("invalid timecode %q", s)
		}
		if i > 0 && v >= 60 {
			return 0, fmt.Errorf("invalid timecode %q", s)
		}
		total = total*60 + v
	}
	return total, nil
}

// FormatSeconds renders seconds for ffmpeg's -ss and -t options.
func FormatSeconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}
