package server

import (
	"testing"
	"time"

	"lexidraft-realtime/internal/config"

	"github.com/stretchr/testify/assert"
)

func TestHubOptionsFromConfig(t *testing.T) {
	cfg := &config.Config{
		Server: config.ServerConfig{AllowedOrigins: []string{"https://app.lexidraft.com"}},
		WebSocket: config.WebSocketConfig{
			AuthGracePeriod: 3 * time.Second,
			MaxAuthAttempts: 2,
			SendBufferSize:  16,
			MaxMessageSize:  1024,
			WriteWait:       time.Second,
			PongWait:        20 * time.Second,
			PingPeriod:      15 * time.Second,
		},
	}

	opts := hubOptions(cfg)

	assert.Equal(t, 3*time.Second, opts.AuthGracePeriod)
	assert.Equal(t, 2, opts.MaxAuthAttempts)
	assert.Equal(t, 16, opts.SendBufferSize)
	assert.Equal(t, int64(1024), opts.MaxMessageSize)
	assert.Equal(t, 15*time.Second, opts.PingPeriod)
	assert.Equal(t, []string{"https://app.lexidraft.com"}, opts.AllowedOrigins)
}
