package common

import (
	"bytes"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserError(t *testing.T) {
	inner := errors.New("disk full")
	err := NewUserError("could not save rule", inner)

	assert.Equal(t, "could not save rule: disk full", err.Error())
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "only message", NewUserError("only message", nil).Error())
}

func TestOwnerMismatchError(t *testing.T) {
	err := OwnerMismatchError(1, 2, "rule 10")

	assert.ErrorIs(t, err, ErrOwnerMismatch)
	assert.Contains(t, err.Error(), "rule 10 belongs to owner 2, expected 1")
	assert.True(t, IsFatal(fmt.Errorf("wrapped: %w", err)))
	assert.False(t, IsFatal(ErrPersistenceConflict))
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input   string
		want    slog.Level
		wantErr bool
	}{
		{input: "debug", want: slog.LevelDebug},
		{input: "info", want: slog.LevelInfo},
		{input: "", want: slog.LevelInfo},
		{input: "warn", want: slog.LevelWarn},
		{input: "error", want: slog.LevelError},
		{input: "verbose", want: slog.LevelInfo, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLevel(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestSetupLoggerTo(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })

	var buf bytes.Buffer
	require.NoError(t, SetupLoggerTo(&buf, slog.LevelInfo, "json"))

	LogInfo("rule merged", Fields{"rule_id": 4})
	LogDebug("hidden", Fields{"rule_id": 5})

	out := buf.String()
	assert.Contains(t, out, `"msg":"rule merged"`)
	assert.Contains(t, out, `"rule_id":4`)
	assert.NotContains(t, out, "hidden")

	assert.ErrorIs(t, SetupLoggerTo(&buf, slog.LevelInfo, "xml"), ErrInvalidConfig)
}
