package core

import (
	"errors"
	"strings"
	"sync"
)

// ErrUnknownCommand is returned when a frame names an unregistered id
var ErrUnknownCommand = errors.New("unknown command id")

// CommandHandler decodes its own arguments from data
type CommandHandler func(data *[]byte) error

// Command is one entry of the command dictionary. Entries with a nil
// Handler are responses sent from the firmware to the host.
type Command struct {
	ID      uint16
	Name    string
	Format  string // e.g. "oid=%c pin=%u"
	Handler CommandHandler
}

// Signature returns the dictionary key "name format"
func (c *Command) Signature() string {
	if c.Format == "" {
		return c.Name
	}
	return c.Name + " " + c.Format
}

// CommandRegistry assigns ids to commands in registration order
type CommandRegistry struct {
	mu       sync.RWMutex
	commands map[uint16]*Command
	nameToID map[string]uint16
	nextID   uint16
}

var globalRegistry = NewCommandRegistry()

func NewCommandRegistry() *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[uint16]*Command),
		nameToID: make(map[string]uint16),
	}
}

// RegisterCommand registers a handler on the global registry
func RegisterCommand(name string, format string, handler CommandHandler) uint16 {
	return globalRegistry.Register(name, format, handler)
}

// RegisterResponse registers a firmware-to-host message
func RegisterResponse(name string, format string) uint16 {
	return globalRegistry.Register(name, format, nil)
}

// Register adds a command and returns its id. Registering a name twice
// returns the first id.
func (r *CommandRegistry) Register(name string, format string, handler CommandHandler) uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, exists := r.nameToID[name]; exists {
		return id
	}

	id := r.nextID
	r.nextID++
	r.commands[id] = &Command{
		ID:      id,
		Name:    name,
		Format:  format,
		Handler: handler,
	}
	r.nameToID[name] = id
	return id
}

func (r *CommandRegistry) GetCommand(id uint16) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	cmd, ok := r.commands[id]
	return cmd, ok
}

func (r *CommandRegistry) GetCommandByName(name string) (*Command, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.nameToID[name]
	if !ok {
		return nil, false
	}
	return r.commands[id], true
}

func (r *CommandRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.commands)
}

// Dispatch runs the handler for cmdID
func (r *CommandRegistry) Dispatch(cmdID uint16, data *[]byte) error {
	cmd, ok := r.GetCommand(cmdID)
	if !ok {
		return ErrUnknownCommand
	}
	if cmd.Handler == nil {
		// Responses carry no handler; receiving one from the host is a
		// protocol error
		return ErrUnknownCommand
	}
	return cmd.Handler(data)
}

// Commands returns all entries ordered by id
func (r *CommandRegistry) Commands() []*Command {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Command, 0, len(r.commands))
	for i := uint16(0); i < r.nextID; i++ {
		if cmd, ok := r.commands[i]; ok {
			out = append(out, cmd)
		}
	}
	return out
}

// GetCommandsAndResponses splits the dictionary into host-to-firmware
// commands and firmware-to-host responses, keyed by signature
func (r *CommandRegistry) GetCommandsAndResponses() (map[string]int, map[string]int) {
	commands := make(map[string]int)
	responses := make(map[string]int)
	for _, cmd := range r.Commands() {
		if cmd.Handler != nil {
			commands[cmd.Signature()] = int(cmd.ID)
		} else {
			responses[cmd.Signature()] = int(cmd.ID)
		}
	}
	return commands, responses
}

// GetDictionary returns one signature per line, ordered by id
func (r *CommandRegistry) GetDictionary() string {
	var b strings.Builder
	for _, cmd := range r.Commands() {
		b.WriteString(cmd.Signature())
		b.WriteByte('\n')
	}
	return b.String()
}

// DispatchCommand dispatches on the global registry
func DispatchCommand(cmdID uint16, data *[]byte) error {
	return globalRegistry.Dispatch(cmdID, data)
}

func GetGlobalRegistry() *CommandRegistry {
	return globalRegistry
}

func GetCommandCount() int {
	return globalRegistry.Count()
}

// ResetCommands discards every registered command and dictionary entry.
// Tests use it to start from an empty table.
func ResetCommands() {
	globalRegistry = NewCommandRegistry()
	globalDictionary = NewDictionary(globalRegistry)
	resetChannelCommands()
}
