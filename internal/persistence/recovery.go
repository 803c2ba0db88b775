package persistence

import (
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"
)

// Recover implements steps 2 through 5 of the persisted-state recovery
// order: the DB's latest snapshot blob, then the JSON file (with
// checksum validation and backup fallback), then empty state as an
// absolute last resort. Step 1, reading the structured positions/trades
// tables back when SQLStore.HasStructuredData reports rows, takes
// priority over all of these and is handled by the caller before
// Recover is invoked, since assembling a position snapshot out of those
// rows needs the position package's types and this package stays
// decoupled from it.
func Recover(sql *SQLStore, jsonPath, backupDir string, log zerolog.Logger) (map[string]any, error) {
	if sql != nil {
		if data, err := sql.LatestSnapshotJSON(); err == nil {
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err == nil {
				log.Info().Msg("recovered state from database state_snapshots blob")
				return doc, nil
			}
		}
	}

	doc, err := LoadWithValidation(jsonPath, backupDir)
	if err == nil {
		log.Info().Msg("recovered state from JSON snapshot or backup")
		return doc, nil
	}

	log.Error().Err(err).Msg("no valid persisted state found anywhere, starting from empty state")
	return map[string]any{}, fmt.Errorf("starting from empty state: %w", err)
}
