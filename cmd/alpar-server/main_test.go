package main

import (
	"testing"
	"time"

	"github.com/alpar-labs/alpar/internal/turn"
	"github.com/stretchr/testify/assert"
)

func TestWriteTimeout(t *testing.T) {
	tests := []struct {
		name string
		cfg  turn.Config
		want time.Duration
	}{
		{"defaults", turn.DefaultConfig(), 90 * time.Second},
		{"poll count only", turn.Config{PollInterval: time.Second, MaxPolls: 60}, 90 * time.Second},
		{"count outlasts timeout", turn.Config{PollInterval: 2 * time.Second, RunTimeout: 10 * time.Second, MaxPolls: 60}, 150 * time.Second},
		{"unbounded", turn.Config{PollInterval: time.Second}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, writeTimeout(tt.cfg))
		})
	}
}
