package server

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/3liz/qjazz/pkg/config"
	"github.com/3liz/qjazz/pkg/logger"
)

func init() {
	logger.Init("error")
}

func TestNewServer(t *testing.T) {
	cfg := &config.Config{
		App:       config.AppConfig{Name: "test-app"},
		Server:    config.ServerConfig{Listen: "127.0.0.1:50051"},
		RateLimit: config.RateLimitConfig{Enabled: false},
	}

	srv := New(cfg)
	assert.NotNil(t, srv)
	assert.NotNil(t, srv.GetEngine())
}

func TestNewServer_WithOptions(t *testing.T) {
	cfg := &config.Config{
		App:    config.AppConfig{Name: "test-app"},
		Server: config.ServerConfig{Listen: "127.0.0.1:50052", EnableAdminServices: true},
	}

	srv := NewWithOptions(cfg, &ServerOptions{})
	assert.NotNil(t, srv)
	assert.NotNil(t, srv.GetEngine())
}

func TestListenAddr(t *testing.T) {
	network, address := listenAddr("unix:/tmp/qjazzd.sock")
	assert.Equal(t, "unix", network)
	assert.Equal(t, "/tmp/qjazzd.sock", address)

	network, address = listenAddr("127.0.0.1:9090")
	assert.Equal(t, "tcp", network)
	assert.Equal(t, "127.0.0.1:9090", address)
}
