package models

// CommandCode names a fleet-management command.
type CommandCode string

const (
	CommandRestart        CommandCode = "restart"
	CommandAddSidekick    CommandCode = "add-sidekick"
	CommandReloadCommands CommandCode = "reload-commands"
)

// Keys of SupervisorCommand.Data for CommandAddSidekick. Bindings
// normalize platform-specific option names to these.
const (
	DataName        = "name"
	DataAssistantID = "assistant_id"
	DataToken       = "token"
)

// Length limits for CommandAddSidekick data.
const (
	MaxNameLength        = 200
	MaxAssistantIDLength = 1000
	MaxTokenLength       = 1000
)

// SupervisorCommand is an admitted inbound fleet command.
type SupervisorCommand struct {
	Code     CommandCode
	Data     map[string]string
	User     User
	Original any
}
