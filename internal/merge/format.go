package merge

import (
	"fmt"
	"math"
	"strings"

	"github.com/seismo-tools/finderd/internal/types"
)

// SyntheticSNCL names the artificial epicenter channel inserted to anchor
// the rupture search near the known origin.
const SyntheticSNCL = "XX.NONE.00.HNZ"

// FormatInput describes one engine input generation.
type FormatInput struct {
	EventLatitude  float64
	EventLongitude float64
	EventDepthKm   float64
	EventMagnitude float64
	OriginEpoch    int64
	Stations       []types.RawStation
	// LiveMode selects the five-column live format (lat lon sncl epoch
	// pga in cm/s²); off-line mode emits only lat lon log10(pga).
	LiveMode bool
}

// FormatResult carries the engine input blob and the parallel channel
// manifest, including the synthetic epicenter row.
type FormatResult struct {
	Data     []byte
	Channels []types.FinderChannel
}

// Format renders the engine's data_0 input. The header carries the origin
// epoch and a zero time-step; the second line is always the synthetic
// epicenter row whose PGA is the larger of the magnitude-based prediction
// and 1.2 times the largest observation.
func Format(in FormatInput) (*FormatResult, error) {
	if len(in.Stations) == 0 {
		return nil, fmt.Errorf("no stations to format")
	}

	lines := []string{fmt.Sprintf("# %d 0", in.OriginEpoch)}
	var channels []types.FinderChannel

	// One line per unique SNCL; the merge step already reduced stations,
	// but coordinate-keyed entries can still collide on SNCL here.
	seen := make(map[string]bool, len(in.Stations))
	maxObserved := math.Inf(-1)

	var stationLines []string
	for _, sta := range in.Stations {
		sncl := joinSNCL(sta)
		if seen[sncl] {
			continue
		}
		seen[sncl] = true

		if sta.PGA > maxObserved {
			maxObserved = sta.PGA
		}

		stationLines = append(stationLines, formatLine(
			sta.Latitude, sta.Longitude, sncl, in.OriginEpoch, sta.PGA, in.LiveMode))
		channels = append(channels, types.FinderChannel{
			Latitude:  sta.Latitude,
			Longitude: sta.Longitude,
			Network:   StripCode(sta.Network),
			Station:   StripCode(sta.Station),
			Location:  StripCode(sta.Location),
			Channel:   StripCode(sta.Channel),
			PGA:       sta.PGA,
		})
	}

	// Synthetic epicenter anchor, in linear cm/s²; log10 is applied only
	// at emit time in off-line mode.
	syntheticPGA := math.Max(PredictPGA(in.EventMagnitude, in.EventDepthKm), maxObserved*1.2)
	lines = append(lines, formatLine(
		in.EventLatitude, in.EventLongitude, SyntheticSNCL, in.OriginEpoch, syntheticPGA, in.LiveMode))
	lines = append(lines, stationLines...)

	synthetic := types.FinderChannel{
		Latitude:     in.EventLatitude,
		Longitude:    in.EventLongitude,
		Network:      "XX",
		Station:      "NONE",
		Location:     "00",
		Channel:      "HNZ",
		PGA:          syntheticPGA,
		IsArtificial: true,
	}
	channels = append([]types.FinderChannel{synthetic}, channels...)

	return &FormatResult{
		Data:     []byte(strings.Join(lines, "\n") + "\n"),
		Channels: channels,
	}, nil
}

func formatLine(lat, lon float64, sncl string, epoch int64, pgaCmS2 float64, live bool) string {
	if live {
		return fmt.Sprintf("%g %g %s %d %.3f", lat, lon, sncl, epoch, round3(pgaCmS2))
	}
	return fmt.Sprintf("%g %g %.3f", lat, lon, round3(math.Log10(pgaCmS2)))
}

func joinSNCL(sta types.RawStation) string {
	return strings.Join([]string{
		StripCode(sta.Network),
		StripCode(sta.Station),
		StripCode(sta.Location),
		StripCode(sta.Channel),
	}, ".")
}
