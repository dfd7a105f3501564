package commands

import (
	"strings"

	"github.com/google/uuid"
)

// newReqID tags one command invocation in the logs. Eight hex chars are
// plenty for correlating a handful of lines.
func newReqID() string {
	id := uuid.New()
	return strings.ReplaceAll(id.String(), "-", "")[:8]
}

// parseCommand turns "/Name@bot a b" into ("name", [a b], true). Anything
// that is not a slash command, including a bare "/" or "/@bot", gives
// ok=false. Arguments are whitespace separated; no quoting.
func parseCommand(text string) (name string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || fields[0][0] != '/' {
		return "", nil, false
	}
	head, _, _ := strings.Cut(fields[0][1:], "@")
	if head == "" {
		return "", nil, false
	}
	if len(fields) > 1 {
		args = fields[1:]
	}
	return strings.ToLower(head), args, true
}
