package config

import "github.com/vcon-dev/vcon-server-sub001/internal/domain"

func Defaults() *Document {
	return &Document{
		Links:    map[string]domain.LinkDef{},
		Storages: map[string]domain.StorageDef{},
		Chains:   map[string]domain.Chain{},
		Adapters: map[string]domain.AdapterDef{},
		Settings: Settings{
			DBPath:               "~/.vcon-server/vcon.db",
			LogLevel:             "info",
			DefaultTTLSeconds:    3600,        // 1 hour
			DLQTTLSeconds:        7 * 86400,   // 7 days
			PopTimeoutSeconds:    5,
			TickIntervalSeconds:  10,
			SweepIntervalSeconds: 60,
			RetryMaxAttempts:     3,
			RetryBackoff:         "exponential",
			RetryBaseSeconds:     1,
			API: APISettings{
				Enabled: true,
				Host:    "127.0.0.1",
				Port:    8000,
			},
		},
	}
}
