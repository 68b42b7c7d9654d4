package handler

import (
	"hzchat-tcp/internal/app/chat"
	"hzchat-tcp/internal/configs"
)

// AppDeps wires the ambient HTTP sidecar to the running chat server: a
// read-only window onto the registry for /stats, and the config that
// decides CORS behavior.
type AppDeps struct {
	Registry *chat.Registry
	Config   *configs.AppConfig
}
