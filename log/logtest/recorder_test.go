/*
Copyright © 2025 Acronis International GmbH.

Released under MIT license.
*/

package logtest

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/acronis/go-reqguard/log"
)

func TestRecorder(t *testing.T) {
	recorder := NewRecorder()
	logger := recorder.With(log.String("component", "cache"))

	logger.Debug("debug message")
	logger.Error("failed to save snapshot", log.Error(errors.New("disk is full")))
	logger.WithLevel(log.LevelWarn).Info("dropped message")

	entries := recorder.Entries()
	require.Len(t, entries, 2)
	require.Equal(t, log.LevelDebug, entries[0].Level)

	entry, found := recorder.FindEntry("failed to save snapshot")
	require.True(t, found)
	require.Equal(t, log.LevelError, entry.Level)
	field, found := entry.FindField("component")
	require.True(t, found)
	require.Equal(t, "cache", string(field.Bytes))
	_, found = entry.FindField("error")
	require.True(t, found)

	_, found = recorder.FindEntry("dropped message")
	require.False(t, found)

	recorder.Reset()
	require.Empty(t, recorder.Entries())
}
