// Package logx prints standardized log lines of the form
// "[MODULE] action=... key=value ...".
// Avoid logging customer payloads; summarize instead.
package logx

import (
	"fmt"
	"log"
	"strings"
)

// Event logs one line for module/action followed by key/value pairs.
// A trailing key without a value is printed as key=(missing).
func Event(module, action string, kv ...any) {
	log.Print(Format(module, action, kv...))
}

// Format renders the line Event would print.
func Format(module, action string, kv ...any) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] action=%s", strings.ToUpper(module), action)
	for i := 0; i < len(kv); i += 2 {
		key := fmt.Sprint(kv[i])
		if i+1 >= len(kv) {
			fmt.Fprintf(&b, " %s=(missing)", key)
			break
		}
		fmt.Fprintf(&b, " %s=%s", key, value(kv[i+1]))
	}
	return b.String()
}

func value(v any) string {
	switch x := v.(type) {
	case nil:
		return `""`
	case error:
		return fmt.Sprintf("%q", x.Error())
	case string:
		if x == "" || strings.ContainsAny(x, " \t\r\n\"=") {
			return fmt.Sprintf("%q", x)
		}
		return x
	case fmt.Stringer:
		return value(x.String())
	default:
		return fmt.Sprint(x)
	}
}
