package command

import (
	"strings"
)

const (
	CmdInfo   = "info"
	CmdWait   = "wait"
	CmdUnwait = "unwait"
	CmdLogOn  = "log_on"
	CmdLogOff = "log_off"
	CmdHelp   = "help"
)

var aliases = map[string]string{
	"status":  CmdInfo,
	"logon":   CmdLogOn,
	"log-on":  CmdLogOn,
	"logoff":  CmdLogOff,
	"log-off": CmdLogOff,
	"cancel":  CmdUnwait,
}

// Command is a parsed chat command. Name is lower-cased; Args keep their case
// because account names are case-sensitive.
type Command struct {
	Name string
	Args []string
}

// Parse reads "<prefix>name arg, arg" style input. Whitespace after the
// prefix is allowed and ", ", "," and " " all separate arguments.
func Parse(prefix, text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return Command{}, false
	}
	body := strings.TrimSpace(strings.TrimPrefix(text, prefix))
	body = strings.ReplaceAll(body, ",", " ")

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return Command{}, false
	}

	name := strings.ToLower(fields[0])
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	return Command{Name: name, Args: fields[1:]}, true
}
