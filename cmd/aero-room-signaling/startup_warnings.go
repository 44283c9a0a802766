package main

import (
	"log/slog"
	"time"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/config"
)

const minProdPassphraseLen = 8

func logStartupSecurityWarnings(logger *slog.Logger, cfg config.Config) {
	if logger == nil {
		logger = slog.Default()
	}

	if cfg.Passphrase == "" {
		logger.Warn("startup security warning: ROOM_PASSPHRASE is empty (anyone can join the room; /reset is disabled)",
			"warning_code", "passphrase_unset",
			"mode", cfg.Mode,
		)
	} else if cfg.Mode == config.ModeProd && len(cfg.Passphrase) < minProdPassphraseLen {
		logger.Warn("startup security warning: ROOM_PASSPHRASE is very short while --mode=prod",
			"warning_code", "passphrase_short_in_prod",
			"passphrase_len", len(cfg.Passphrase),
			"mode", cfg.Mode,
		)
	}

	if cfg.AllowsAnyOrigin() {
		logger.Warn("startup security warning: ALLOWED_ORIGINS contains '*' (allows any origin)",
			"warning_code", "allowed_origins_wildcard",
			"allowed_origins", cfg.AllowedOrigins,
			"mode", cfg.Mode,
		)
	}

	// A silent participant keeps its slot (and every peer's mesh link) until
	// evicted.
	if cfg.InactivityTimeout > 24*time.Hour {
		logger.Warn("startup security warning: INACTIVITY_MINUTES is very large (stale participants stay in the room)",
			"warning_code", "inactivity_timeout_large",
			"inactivity_timeout", cfg.InactivityTimeout,
			"mode", cfg.Mode,
		)
	}
}
