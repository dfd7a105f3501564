package logx

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"
	"unicode/utf8"
)

const (
	maxEventText = 3500
	maxFieldText = 600
)

// FormatEventText turns one JSON log line into a compact chat message:
//
//	[WARN] send to group failed
//	- chat_id=100
//	- err=timeout
//
// Extra keys are listed alphabetically. Input that is not JSON is returned
// trimmed.
func FormatEventText(line []byte) string {
	line = bytes.TrimSpace(line)
	var ev map[string]any
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	if err := dec.Decode(&ev); err != nil {
		return clip(string(line), maxEventText)
	}

	var b strings.Builder
	if lvl, _ := ev["level"].(string); lvl != "" {
		fmt.Fprintf(&b, "[%s] ", strings.ToUpper(lvl))
	}
	msg, _ := ev["message"].(string)
	b.WriteString(msg)

	delete(ev, "level")
	delete(ev, "message")
	delete(ev, "time")
	for _, k := range slices.Sorted(maps.Keys(ev)) {
		fmt.Fprintf(&b, "\n- %s=%s", k, clip(fmt.Sprint(ev[k]), maxFieldText))
	}
	return clip(b.String(), maxEventText)
}

// clip cuts s to at most n bytes on a rune boundary, marking the cut.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n - len("…")
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "…"
}
