package main

import (
	"fmt"
	"os"

	"github.com/astrodesk/sessiongate/internal/cli"
	"github.com/astrodesk/sessiongate/internal/cli/events"
	"github.com/astrodesk/sessiongate/internal/cli/keys"
	"github.com/astrodesk/sessiongate/internal/cli/sessions"
	"github.com/astrodesk/sessiongate/internal/cli/users"
)

func main() {
	registry := cli.NewRegistry()

	registry.Register(&keys.Command{})
	registry.Register(&sessions.Command{})
	registry.Register(&events.Command{})
	registry.Register(&users.Command{})

	if err := registry.Run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
