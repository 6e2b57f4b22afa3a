package internal

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		name  string
		level string
		want  zerolog.Level
	}{
		{"Debug", "debug", zerolog.DebugLevel},
		{"UpperCase", " WARN ", zerolog.WarnLevel},
		{"Unknown", "chatty", zerolog.InfoLevel},
		{"Empty", "", zerolog.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NewLogger(tt.level, false).GetLevel())
		})
	}
}
