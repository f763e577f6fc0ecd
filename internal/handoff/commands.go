package handoff

import (
	"strings"
)

// CommandMarker prefixes every agent command.
const CommandMarker = "/"

// Command is a recognized agent command.
type Command string

const (
	CommandNone    Command = ""
	CommandClose   Command = "close"
	CommandSkip    Command = "skip"
	CommandQueue   Command = "queue"
	CommandActive  Command = "active"
	CommandHistory Command = "history"
	CommandHelp    Command = "help"
	CommandOptIn   Command = "optin"
)

var commandAliases = map[string]Command{
	"done":           CommandClose,
	"listo":          CommandClose,
	"cerrar":         CommandClose,
	"close":          CommandClose,
	"fin":            CommandClose,
	"next":           CommandSkip,
	"siguiente":      CommandSkip,
	"skip":           CommandSkip,
	"saltar":         CommandSkip,
	"cola":           CommandQueue,
	"queue":          CommandQueue,
	"lista":          CommandQueue,
	"activo":         CommandActive,
	"actual":         CommandActive,
	"active":         CommandActive,
	"historial":      CommandHistory,
	"history":        CommandHistory,
	"ayuda":          CommandHelp,
	"help":           CommandHelp,
	"optin":          CommandOptIn,
	"consentimiento": CommandOptIn,
}

// ParsedCommand is the result of parsing an agent message.
type ParsedCommand struct {
	Command Command
	Args    string
}

// ParseCommand recognizes an agent command. Text that does not start with
// the marker, or whose first word is not a known alias, is not a command
// and must be forwarded as a normal reply.
func ParseCommand(text string) (ParsedCommand, bool) {
	t := strings.TrimSpace(text)
	if !strings.HasPrefix(t, CommandMarker) {
		return ParsedCommand{}, false
	}
	t = strings.TrimPrefix(t, CommandMarker)
	word, rest, _ := strings.Cut(t, " ")
	cmd, ok := commandAliases[strings.ToLower(word)]
	if !ok {
		return ParsedCommand{}, false
	}
	return ParsedCommand{Command: cmd, Args: strings.TrimSpace(rest)}, true
}

// HelpText lists the available commands.
const HelpText = `Comandos disponibles:
/done (/listo, /cerrar) - cerrar la conversación activa y pasar a la siguiente
/next (/siguiente, /saltar) - mover la conversación activa al final de la cola
/cola - ver la cola de espera
/activo - ver la conversación activa
/historial - ver los últimos mensajes de la conversación activa
/optin - reenviar el pedido de consentimiento al cliente activo
/ayuda - ver esta ayuda`
