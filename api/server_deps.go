package api

import (
	"time"

	"campus-cms/core/auth"
	"campus-cms/core/resource"
	"campus-cms/core/uploads"
	"github.com/redis/go-redis/v9"
)

// ServerDeps overrides what NewServer would otherwise build from config.
// Zero fields fall back to the configured defaults.
type ServerDeps struct {
	Now            func() time.Time
	AttemptBackend auth.AttemptBackend
	Redis          redis.UniversalClient
	Uploads        uploads.Storage
	Catalogue      *resource.Catalogue
}
