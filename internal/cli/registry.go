// Package cli holds the operator command registry and shared bootstrapping
// for sessiongate-cli subcommands.
package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/astrodesk/sessiongate/internal/config"
)

// ErrUsage is returned when the arguments do not name a runnable command
var ErrUsage = errors.New("usage")

// Command is a top-level CLI command
type Command interface {
	Name() string
	Description() string
	Run(args []string) error
}

// Registry dispatches os.Args to registered commands
type Registry struct {
	commands map[string]Command
	out      io.Writer
}

func NewRegistry() *Registry {
	return &Registry{commands: make(map[string]Command), out: os.Stderr}
}

// SetOutput redirects usage output
func (r *Registry) SetOutput(w io.Writer) {
	r.out = w
}

// Register adds cmd, replacing any command with the same name
func (r *Registry) Register(cmd Command) {
	r.commands[cmd.Name()] = cmd
}

// Run executes the command named by args[0] with the remaining args
func (r *Registry) Run(args []string) error {
	if len(args) < 1 {
		r.printUsage()
		return fmt.Errorf("%w: command required", ErrUsage)
	}
	name := args[0]
	if name == "help" || name == "-h" || name == "--help" {
		r.printUsage()
		return nil
	}

	cmd, ok := r.commands[name]
	if !ok {
		r.printUsage()
		return fmt.Errorf("%w: unknown command %s", ErrUsage, name)
	}
	return cmd.Run(args[1:])
}

func (r *Registry) printUsage() {
	names := make([]string, 0, len(r.commands))
	for name := range r.commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintf(r.out, "Usage: sessiongate-cli <command> <subcommand> [args]\n\n")
	fmt.Fprintf(r.out, "Commands:\n")
	for _, name := range names {
		fmt.Fprintf(r.out, "  %-12s %s\n", name, r.commands[name].Description())
	}
}

// LoadConfig reads the environment and the config file it points to, with
// secrets from the environment applied.
func LoadConfig() (*config.Config, *config.Environment, error) {
	env := config.LoadEnv()
	cfg, err := config.Load(env.ConfigPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	env.Apply(cfg)
	if err := env.Validate(cfg); err != nil {
		return nil, nil, err
	}
	return cfg, env, nil
}
