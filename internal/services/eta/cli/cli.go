// Package cli dispatches command-line actions by name. Commands are words
// joined by "/" ("crypto/hash"); spaces in a command are treated as "/".
package cli

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Action runs a command with its remaining arguments.
type Action func(ctx context.Context, args []string) error

// Factory builds an Action the first time its command runs.
type Factory func() (Action, error)

// ErrUnknownCommand is returned for commands with no registered action.
var ErrUnknownCommand = errors.New("unknown command")

// Registry maps commands to actions.
type Registry struct {
	mu        sync.Mutex
	factories map[string]Factory
	actions   map[string]Action
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: map[string]Factory{}, actions: map[string]Action{}}
}

// Normalize trims command and joins its words with "/".
func Normalize(command string) string {
	return strings.Join(strings.Fields(strings.ReplaceAll(command, "/", " ")), "/")
}

// Register adds action under command.
func (r *Registry) Register(command string, action Action) error {
	if action == nil {
		return errors.New("action is required")
	}
	return r.RegisterFactory(command, func() (Action, error) { return action, nil })
}

// RegisterFactory adds a lazily built action under command.
func (r *Registry) RegisterFactory(command string, factory Factory) error {
	command = Normalize(command)
	if command == "" {
		return errors.New("command is required")
	}
	if factory == nil {
		return errors.New("factory is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[command]; exists {
		return fmt.Errorf("command %s already registered", command)
	}
	r.factories[command] = factory
	return nil
}

// Commands returns the sorted registered commands.
func (r *Registry) Commands() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	commands := make([]string, 0, len(r.factories))
	for command := range r.factories {
		commands = append(commands, command)
	}
	sort.Strings(commands)
	return commands
}

// Exec runs command. The action is built once and cached.
func (r *Registry) Exec(ctx context.Context, command string, args ...string) error {
	action, err := r.action(Normalize(command))
	if err != nil {
		return err
	}
	return action(ctx, args)
}

func (r *Registry) action(command string) (Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if action, ok := r.actions[command]; ok {
		return action, nil
	}
	factory, ok := r.factories[command]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCommand, strings.ReplaceAll(command, "/", " "))
	}
	action, err := factory()
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", command, err)
	}
	r.actions[command] = action
	return action, nil
}

// Resolve splits words into the longest registered command and its
// arguments.
func (r *Registry) Resolve(words []string) (string, []string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for n := len(words); n > 0; n-- {
		command := Normalize(strings.Join(words[:n], " "))
		if _, ok := r.factories[command]; ok {
			return command, words[n:], true
		}
	}
	return "", words, false
}

// Run resolves words and executes the command.
func (r *Registry) Run(ctx context.Context, words []string) error {
	command, args, ok := r.Resolve(words)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, strings.Join(words, " "))
	}
	return r.Exec(ctx, command, args...)
}
