package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantCmd string
		wantPos []string
	}{
		{"no args", nil, "chat", nil},
		{"command first", []string{"ask", "what", "is", "x"}, "ask", []string{"what", "is", "x"}},
		{"config before command", []string{"--config", "x.yaml", "ask", "q"}, "ask", []string{"q"}},
		{"config equals before command", []string{"--config=x.yaml", "doctor"}, "doctor", nil},
		{"flags around question", []string{"--metrics", "ask", "--session", "s1", "why?"}, "ask", []string{"why?"}},
		{"only flags", []string{"--config", "x.yaml", "--metrics"}, "chat", nil},
		{"help word", []string{"help"}, "help", nil},
		{"short help", []string{"-h"}, "chat", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd, pos := parseCommand(tt.args)
			assert.Equal(t, tt.wantCmd, cmd)
			assert.Equal(t, tt.wantPos, pos)
		})
	}
}
