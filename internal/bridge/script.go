package bridge

import (
	"encoding/json"
	"strings"

	"deskshell/internal/fingerprint"
)

// Script renders localStorage assignments for the machine info. Keys and
// values are JSON string literals, so quotes, backslashes, line separators
// and "</script>" cannot break out of the statement.
func Script(info fingerprint.MachineInfo) string {
	var b strings.Builder
	for _, p := range info.Pairs() {
		b.WriteString("localStorage.setItem(")
		b.WriteString(jsString(p.Key))
		b.WriteString(", ")
		b.WriteString(jsString(p.Value))
		b.WriteString(");\n")
	}
	return b.String()
}

// LegacyScript renders the single-quoted form older dashboard builds eval.
// Only ' is escaped; a value ending in a backslash or containing a newline
// still breaks the statement. Prefer Script or the message channel.
func LegacyScript(info fingerprint.MachineInfo) string {
	var b strings.Builder
	for _, p := range info.Pairs() {
		b.WriteString("localStorage.setItem('")
		b.WriteString(p.Key)
		b.WriteString("', '")
		b.WriteString(EscapeSingleQuote(p.Value))
		b.WriteString("');\n")
	}
	return b.String()
}

// EscapeSingleQuote replaces every ' with \'.
func EscapeSingleQuote(s string) string {
	return strings.ReplaceAll(s, "'", `\'`)
}

func jsString(s string) string {
	// encoding/json escapes <, >, &, U+2028 and U+2029; marshaling a string cannot fail.
	data, _ := json.Marshal(s)
	return string(data)
}
