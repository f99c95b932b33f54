package shellplan

import (
	"strconv"
	"strings"
)

// FailureKey tags the stdout line printed right before an explicit exit.
const FailureKey = "failed"

// ParseReport collects key=value lines. Lines without '=' are ignored and
// later keys overwrite earlier ones.
func ParseReport(lines []string) map[string]string {
	report := make(map[string]string)
	for _, line := range lines {
		key, value, ok := strings.Cut(line, "=")
		if !ok || key == "" {
			continue
		}
		report[key] = strings.TrimSpace(value)
	}
	return report
}

// FailureCode returns the code of an explicit failure reported on stdout.
func FailureCode(stdout []string) (int, bool) {
	value, ok := ParseReport(stdout)[FailureKey]
	if !ok {
		return 0, false
	}

	code, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return code, true
}
