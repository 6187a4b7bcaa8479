package cli

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCommand struct {
	name string
	args []string
	err  error
}

func (c *recordingCommand) Name() string        { return c.name }
func (c *recordingCommand) Description() string { return "records its arguments" }
func (c *recordingCommand) Run(args []string) error {
	c.args = args
	return c.err
}

func TestRegistry_Dispatch(t *testing.T) {
	var usage bytes.Buffer
	r := NewRegistry()
	r.SetOutput(&usage)

	sessions := &recordingCommand{name: "sessions"}
	failing := &recordingCommand{name: "events", err: errors.New("boom")}
	r.Register(sessions)
	r.Register(failing)

	require.NoError(t, r.Run([]string{"sessions", "stats", "-v"}))
	assert.Equal(t, []string{"stats", "-v"}, sessions.args)

	assert.EqualError(t, r.Run([]string{"events"}), "boom")
	assert.Empty(t, failing.args)
	assert.Empty(t, usage.String())
}

func TestRegistry_Usage(t *testing.T) {
	var usage bytes.Buffer
	r := NewRegistry()
	r.SetOutput(&usage)
	r.Register(&recordingCommand{name: "users"})
	r.Register(&recordingCommand{name: "keys"})

	err := r.Run(nil)
	assert.ErrorIs(t, err, ErrUsage)

	err = r.Run([]string{"nope"})
	assert.ErrorIs(t, err, ErrUsage)
	assert.Contains(t, err.Error(), "nope")

	usage.Reset()
	require.NoError(t, r.Run([]string{"help"}))
	out := usage.String()
	assert.Contains(t, out, "keys")
	assert.Contains(t, out, "users")
	assert.Less(t, bytes.Index(usage.Bytes(), []byte("keys")), bytes.Index(usage.Bytes(), []byte("users")))
}
