package handler

import (
	"courier/internal/app/gateway"
	"courier/internal/app/storage"
	"courier/internal/configs"
)

// AppDeps bundles the shared collaborators injected into every handler.
type AppDeps struct {
	Gateway        *gateway.Gateway
	Config         *configs.AppConfig
	StorageService storage.Service
}
