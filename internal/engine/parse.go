package engine

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/seismo-tools/finderd/internal/types"
)

// ParseOutputDir reads the three engine output files from one run
// directory and assembles a FinderSolution shell (event ids are filled by
// the caller).
func ParseOutputDir(dir string) (*types.FinderSolution, error) {
	event, err := parseCoreInfo(filepath.Join(dir, "core_info_0"))
	if err != nil {
		return nil, err
	}
	rupture, err := parseRuptureList(filepath.Join(dir, "finder_rupture_list_0"))
	if err != nil {
		return nil, err
	}
	channels, err := parseChannelData(filepath.Join(dir, "data_0"))
	if err != nil {
		return nil, err
	}
	return &types.FinderSolution{
		Event:    *event,
		Rupture:  *rupture,
		Channels: channels,
	}, nil
}

// parseCoreInfo reads the four-line point-source summary. Depth arrives
// signed (negative = below surface in the engine's convention); we keep
// the absolute value.
func parseCoreInfo(path string) (*types.FinderEvent, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) < 4 {
		return nil, fmt.Errorf("%s: want 4 lines, got %d", filepath.Base(path), len(lines))
	}

	epoch, err := strconv.ParseInt(strings.TrimSpace(lines[0]), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%s line 1: %w", filepath.Base(path), err)
	}
	mag, err := strconv.ParseFloat(strings.TrimSpace(lines[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s line 2: %w", filepath.Base(path), err)
	}
	coords := strings.Fields(lines[2])
	if len(coords) != 2 {
		return nil, fmt.Errorf("%s line 3: want \"lat lon\", got %q", filepath.Base(path), lines[2])
	}
	lat, err := strconv.ParseFloat(coords[0], 64)
	if err != nil {
		return nil, fmt.Errorf("%s latitude: %w", filepath.Base(path), err)
	}
	lon, err := strconv.ParseFloat(coords[1], 64)
	if err != nil {
		return nil, fmt.Errorf("%s longitude: %w", filepath.Base(path), err)
	}
	depth, err := strconv.ParseFloat(strings.TrimSpace(lines[3]), 64)
	if err != nil {
		return nil, fmt.Errorf("%s line 4: %w", filepath.Base(path), err)
	}

	return &types.FinderEvent{
		OriginTimeEpoch: epoch,
		Magnitude:       mag,
		Latitude:        lat,
		Longitude:       lon,
		DepthKm:         math.Abs(depth),
	}, nil
}

// parseRuptureList reads the count-prefixed vertex list. A count of zero
// is a valid solution with no finite rupture.
func parseRuptureList(path string) (*types.FinderRupture, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}
	if len(lines) == 0 {
		return nil, fmt.Errorf("%s: empty file", filepath.Base(path))
	}
	count, err := strconv.Atoi(strings.TrimSpace(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("%s point count: %w", filepath.Base(path), err)
	}
	if count > len(lines)-1 {
		return nil, fmt.Errorf("%s: declares %d points, has %d lines", filepath.Base(path), count, len(lines)-1)
	}

	rupture := &types.FinderRupture{}
	for i := 1; i <= count; i++ {
		fields := strings.Fields(lines[i])
		if len(fields) < 3 {
			return nil, fmt.Errorf("%s line %d: want \"lat lon depth\"", filepath.Base(path), i+1)
		}
		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		depth, err3 := strconv.ParseFloat(fields[2], 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("%s line %d: malformed vertex", filepath.Base(path), i+1)
		}
		rupture.AddPoint(lat, lon, depth)
	}
	return rupture, nil
}

// parseChannelData reads the engine's echoed station list. Lines that do
// not carry the five live-mode columns are skipped, so both input shapes
// round-trip.
func parseChannelData(path string) ([]types.FinderChannel, error) {
	lines, err := readLines(path)
	if err != nil {
		return nil, err
	}

	var channels []types.FinderChannel
	for _, line := range lines {
		if strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 5 {
			continue
		}
		lat, err1 := strconv.ParseFloat(fields[0], 64)
		lon, err2 := strconv.ParseFloat(fields[1], 64)
		trigger, err3 := strconv.Atoi(fields[3])
		pga, err4 := strconv.ParseFloat(fields[4], 64)
		if err1 != nil || err2 != nil || err3 != nil || err4 != nil {
			continue
		}
		ch, err := types.ChannelFromSNCL(fields[2])
		if err != nil {
			continue
		}
		ch.Latitude = lat
		ch.Longitude = lon
		ch.TriggerFlag = trigger
		ch.PGA = pga
		channels = append(channels, ch)
	}
	return channels, nil
}

func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	return lines, nil
}
