package timeseries

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

var labelEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)

// EscapeLabelValue escapes a value for use inside a double-quoted PromQL string.
func EscapeLabelValue(v string) string {
	return labelEscaper.Replace(v)
}

// Selector builds metric{label="value"}.
func Selector(metric, label, value string) string {
	return fmt.Sprintf(`%s{%s="%s"}`, metric, label, EscapeLabelValue(value))
}

// ContainsSelector builds metric{label=~".*value.*"} with value matched literally.
func ContainsSelector(metric, label, value string) string {
	pattern := ".*" + regexp.QuoteMeta(value) + ".*"
	return fmt.Sprintf(`%s{%s=~"%s"}`, metric, label, EscapeLabelValue(pattern))
}

// AvgOverTime wraps a selector in avg_over_time over the window.
func AvgOverTime(selector string, window time.Duration) string {
	return fmt.Sprintf("avg_over_time(%s[%s])", selector, windowLiteral(window))
}

// MaxOverTime wraps a selector in max_over_time over the window.
func MaxOverTime(selector string, window time.Duration) string {
	return fmt.Sprintf("max_over_time(%s[%s])", selector, windowLiteral(window))
}

func windowLiteral(window time.Duration) string {
	secs := int64(window / time.Second)
	if secs < 1 {
		secs = 1
	}
	return fmt.Sprintf("%ds", secs)
}
