package server

import "github.com/raysh454/zapctl/internal/logging"

type Config struct {
	// ListenAddr is the HTTP listen address for the API server.
	ListenAddr string

	// Logger defaults to a stdout JSON logger.
	Logger logging.Logger
}
