package main

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestClosers_ReverseOrderAndCombinedErrors(t *testing.T) {
	var order []string
	errA := errors.New("a failed")
	errC := errors.New("c failed")

	var c closers
	c.add(func() error { order = append(order, "a"); return errA })
	c.add(func() error { order = append(order, "b"); return nil })
	c.add(func() error { order = append(order, "c"); return errC })

	err := c.close()
	assert.Equal(t, []string{"c", "b", "a"}, order)
	assert.ErrorIs(t, err, errA)
	assert.ErrorIs(t, err, errC)
	assert.Len(t, multierr.Errors(err), 2)
}

func TestRootCmd_Commands(t *testing.T) {
	root := newRootCmd()

	for _, name := range []string{"pending", "migrate"} {
		cmd, _, err := root.Find([]string{name})
		require.NoError(t, err)
		assert.Equal(t, name, cmd.Name())
	}

	require.NoError(t, root.ParseFlags([]string{"--workers", "8", "--dry-run", "-c", "/etc/thumbnailer.yml"}))

	workers, err := root.Flags().GetInt("workers")
	require.NoError(t, err)
	assert.Equal(t, 8, workers)

	dry, err := root.Flags().GetBool("dry-run")
	require.NoError(t, err)
	assert.True(t, dry)

	path, err := root.Flags().GetString("config")
	require.NoError(t, err)
	assert.Equal(t, "/etc/thumbnailer.yml", path)
}
