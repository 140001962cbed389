package telemetry

import (
	"go.uber.org/zap"

	"github.com/wfr/daq-telemetry/internal/config"
	"github.com/wfr/daq-telemetry/internal/dbc"
)

// loadDecoder builds the dbc.Decoder collaborator. Parsing a real .dbc
// file remains out of scope (spec.md §1's external-collaborator
// boundary); when DBCFile is set we log that it was ignored rather than
// silently behave as if no database were configured.
func loadDecoder(cfg config.Config, logger *zap.Logger) dbc.Decoder {
	if cfg.DBCFile != "" {
		logger.Warn("telemetry: DBC_FILE set but no vehicle-database parser is wired; decoding as Raw",
			zap.String("path", cfg.DBCFile))
	}
	return dbc.NullDecoder{}
}
