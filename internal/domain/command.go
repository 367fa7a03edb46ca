package domain

type CommandKind string

const (
	CommandPause             CommandKind = "pause"
	CommandResume            CommandKind = "resume"
	CommandForceClose        CommandKind = "force_close"
	CommandSwitchCredentials CommandKind = "switch_credentials"
	CommandStatus            CommandKind = "status"
)

// Command is one external instruction delivered to the execution loop. Reply,
// when non-nil, receives exactly one status line.
type Command struct {
	Kind  CommandKind
	Arg   string
	Reply chan string
}

// IncomingMessage is a raw message from the external command source before
// parsing and authorization.
type IncomingMessage struct {
	ChatID string
	Text   string
}
