// Package export emits ShakeMap input files for a FinDer solution,
// triggers the external shake command, and archives its products.
package export

import (
	"encoding/json"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

// gravity in cm/s² over 100, i.e. g expressed against cm/s² amplitudes.
// The ShakeMap station format wants accelerations in g.
const gravityDivisor = 9.806

// AugmentedID builds the export identity for one stage:
// <event_id>_t<delay zero-padded to 5>.
func AugmentedID(eventID string, delayMinutes int) string {
	return fmt.Sprintf("%s_t%05d", eventID, delayMinutes)
}

// eventXML is the ShakeMap event.xml root.
type eventXML struct {
	XMLName   xml.Name `xml:"earthquake"`
	EventID   string   `xml:"event_id,attr"`
	ID        string   `xml:"id,attr"`
	NetID     string   `xml:"netid,attr"`
	Mag       float64  `xml:"mag,attr"`
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Depth     float64  `xml:"depth,attr"`
	Time      string   `xml:"time,attr"`
	LocString string   `xml:"locstring,attr"`
	EventType string   `xml:"event_type,attr"`
}

// stationListXML is the ShakeMap event_dat.xml root.
type stationListXML struct {
	XMLName  xml.Name     `xml:"stationlist"`
	Created  string       `xml:"created,attr"`
	XMLNS    string       `xml:"xmlns,attr"`
	Stations []stationXML `xml:"station"`
}

type stationXML struct {
	Code      string   `xml:"code,attr"`
	Name      string   `xml:"name,attr"`
	NetID     string   `xml:"netid,attr"`
	Lat       float64  `xml:"lat,attr"`
	Lon       float64  `xml:"lon,attr"`
	Component compXML  `xml:"comp"`
}

type compXML struct {
	Name string `xml:"name,attr"`
	Acc  accXML `xml:"acc"`
}

type accXML struct {
	Value float64 `xml:"value,attr"`
	Flag  string  `xml:"flag,attr"`
}

// Exporter writes ShakeMap inputs for finished runs.
type Exporter struct {
	root string
	log  *zap.Logger
	now  func() time.Time
}

// New builds an exporter rooted at dir.
func New(root string, log *zap.Logger) *Exporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Exporter{root: root, log: log, now: time.Now}
}

// Export writes event.xml, event_dat.xml and rupture.json into a
// directory named by the augmented id and returns that directory.
func (e *Exporter) Export(sol *types.FinderSolution, delayMinutes int) (string, error) {
	dir := filepath.Join(e.root, AugmentedID(sol.EventID, delayMinutes))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}

	if err := e.writeEventXML(dir, sol); err != nil {
		return "", err
	}
	if err := e.writeStationXML(dir, sol); err != nil {
		return "", err
	}
	if err := e.writeRuptureJSON(dir, sol); err != nil {
		return "", err
	}

	e.log.Info("shakemap inputs exported",
		zap.String("event_id", sol.EventID),
		zap.String("dir", dir))
	return dir, nil
}

func (e *Exporter) writeEventXML(dir string, sol *types.FinderSolution) error {
	doc := eventXML{
		EventID:   sol.EventID,
		ID:        sol.EventID,
		NetID:     "FinDer",
		Mag:       sol.Event.Magnitude,
		Lat:       sol.Event.Latitude,
		Lon:       sol.Event.Longitude,
		Depth:     sol.Event.DepthKm,
		Time:      timeutil.Format(time.Unix(sol.Event.OriginTimeEpoch, 0).UTC()),
		LocString: "FinDer Origin",
		EventType: "ACTUAL",
	}
	return writeXML(filepath.Join(dir, "event.xml"), doc)
}

// writeStationXML emits one station per channel, skipping the synthetic
// epicenter row. Acceleration values are converted from cm/s² to g.
func (e *Exporter) writeStationXML(dir string, sol *types.FinderSolution) error {
	doc := stationListXML{
		Created: timeutil.Format(e.now().UTC()),
		XMLNS:   "ch.ethz.sed.shakemap.usgs.xml",
	}
	for _, ch := range sol.Channels {
		if ch.IsArtificial {
			continue
		}
		doc.Stations = append(doc.Stations, stationXML{
			Code:  ch.Station,
			Name:  ch.Station,
			NetID: ch.Network,
			Lat:   ch.Latitude,
			Lon:   ch.Longitude,
			Component: compXML{
				Name: ch.Location + "." + ch.Channel,
				Acc:  accXML{Value: ch.PGA / gravityDivisor, Flag: "0"},
			},
		})
	}
	return writeXML(filepath.Join(dir, "event_dat.xml"), doc)
}

// writeRuptureJSON emits the rupture polygon as a GeoJSON MultiPolygon.
// The ring is closed by repeating the first vertex; coordinates are
// [lon, lat, depth]. An empty rupture still yields a valid document with
// an empty ring list.
func (e *Exporter) writeRuptureJSON(dir string, sol *types.FinderSolution) error {
	ring := make([][]float64, 0, len(sol.Rupture.Points)+1)
	for _, p := range sol.Rupture.Points {
		ring = append(ring, []float64{p.Longitude, p.Latitude, p.DepthKm})
	}
	if len(ring) > 0 {
		first := ring[0]
		last := ring[len(ring)-1]
		if first[0] != last[0] || first[1] != last[1] {
			ring = append(ring, first)
		}
	}

	coordinates := [][][][]float64{}
	if len(ring) > 0 {
		coordinates = append(coordinates, [][][]float64{ring})
	}
	doc := map[string]any{
		"type": "FeatureCollection",
		"metadata": map[string]any{
			"reference": "Source: FinDer finite-fault solution",
		},
		"features": []map[string]any{{
			"type":       "Feature",
			"properties": map[string]any{"rupture type": "rupture extent"},
			"geometry": map[string]any{
				"type":        "MultiPolygon",
				"coordinates": coordinates,
			},
		}},
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rupture: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "rupture.json"), data, 0o644); err != nil {
		return fmt.Errorf("write rupture.json: %w", err)
	}
	return nil
}

func writeXML(path string, doc any) error {
	data, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode %s: %w", filepath.Base(path), err)
	}
	out := append([]byte(xml.Header), data...)
	out = append(out, '\n')
	if err := os.WriteFile(path, out, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	return nil
}
