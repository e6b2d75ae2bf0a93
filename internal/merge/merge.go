// Package merge canonicalizes provider peak-motion records into a single
// station list and produces the engine's input blob. ESM records win over
// RRSM on key conflicts.
package merge

import (
	"fmt"
	"sort"

	"github.com/seismo-tools/finderd/internal/types"
)

// Key builds the merge key for a station: the full SNCL when all four
// codes are present, otherwise rounded coordinates to absorb float drift.
func Key(s types.RawStation) string {
	if s.HasFullSNCL() {
		return s.SNCL()
	}
	return fmt.Sprintf("%.4f_%.4f", s.Latitude, s.Longitude)
}

// Stations merges the two provider lists. RRSM records are indexed first
// and ESM records overwrite on conflict. The result is ordered by PGA
// descending; ties keep a stable order by key so the output is
// deterministic.
func Stations(rrsm, esm []types.RawStation) []types.RawStation {
	merged := make(map[string]types.RawStation, len(rrsm)+len(esm))
	for _, sta := range rrsm {
		merged[Key(sta)] = sta
	}
	for _, sta := range esm {
		merged[Key(sta)] = sta
	}

	out := make([]types.RawStation, 0, len(merged))
	for _, sta := range merged {
		out = append(out, sta)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].PGA != out[j].PGA {
			return out[i].PGA > out[j].PGA
		}
		return Key(out[i]) < Key(out[j])
	})
	return out
}
