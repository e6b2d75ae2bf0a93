package export

import (
	"archive/zip"
	"encoding/json"
	"encoding/xml"
	"math"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/types"
)

func sampleSolution() *types.FinderSolution {
	return &types.FinderSolution{
		EventID:       "20230206_0000008",
		FinderEventID: "23",
		Event: types.FinderEvent{
			OriginTimeEpoch: 1675646254,
			Latitude:        37.22,
			Longitude:       37.02,
			DepthKm:         20,
			Magnitude:       7.8,
		},
		Rupture: types.FinderRupture{Points: []types.RupturePoint{
			{Latitude: 37.0, Longitude: 36.9},
			{Latitude: 37.3, Longitude: 37.1},
			{Latitude: 37.6, Longitude: 37.3},
		}},
		Channels: []types.FinderChannel{
			{Network: "XX", Station: "NONE", Location: "00", Channel: "HNZ",
				Latitude: 37.22, Longitude: 37.02, PGA: 1800, IsArtificial: true},
			{Network: "KO", Station: "KHMN", Location: "00", Channel: "HNE",
				Latitude: 36.794, Longitude: 36.7, PGA: 245.2},
		},
	}
}

func TestAugmentedID(t *testing.T) {
	if got := AugmentedID("ev1", 60); got != "ev1_t00060" {
		t.Fatalf("augmented id = %q", got)
	}
	if got := AugmentedID("ev1", 0); got != "ev1_t00000" {
		t.Fatalf("augmented id = %q", got)
	}
}

func TestExportWritesAllFiles(t *testing.T) {
	root := t.TempDir()
	e := New(root, zap.NewNop())

	dir, err := e.Export(sampleSolution(), 60)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if filepath.Base(dir) != "20230206_0000008_t00060" {
		t.Fatalf("export dir = %s", dir)
	}
	for _, name := range []string{"event.xml", "event_dat.xml", "rupture.json"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}
}

func TestEventXMLShape(t *testing.T) {
	root := t.TempDir()
	e := New(root, zap.NewNop())
	dir, err := e.Export(sampleSolution(), 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "event.xml"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var eq struct {
		XMLName   xml.Name `xml:"earthquake"`
		EventID   string   `xml:"event_id,attr"`
		NetID     string   `xml:"netid,attr"`
		Mag       float64  `xml:"mag,attr"`
		Depth     float64  `xml:"depth,attr"`
		Time      string   `xml:"time,attr"`
		LocString string   `xml:"locstring,attr"`
		EventType string   `xml:"event_type,attr"`
	}
	if err := xml.Unmarshal(data, &eq); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if eq.EventID != "20230206_0000008" || eq.NetID != "FinDer" {
		t.Errorf("ids = %s/%s", eq.EventID, eq.NetID)
	}
	if eq.Mag != 7.8 || eq.Depth != 20 {
		t.Errorf("mag/depth = %v/%v", eq.Mag, eq.Depth)
	}
	if eq.Time != "2023-02-06T01:17:34Z" {
		t.Errorf("time = %q", eq.Time)
	}
	if eq.LocString != "FinDer Origin" || eq.EventType != "ACTUAL" {
		t.Errorf("locstring/type = %q/%q", eq.LocString, eq.EventType)
	}
}

func TestEventDatXMLSkipsSyntheticAndConvertsToG(t *testing.T) {
	root := t.TempDir()
	e := New(root, zap.NewNop())
	dir, err := e.Export(sampleSolution(), 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "event_dat.xml"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var list struct {
		XMLName  xml.Name `xml:"stationlist"`
		XMLNS    string   `xml:"xmlns,attr"`
		Stations []struct {
			Code  string `xml:"code,attr"`
			NetID string `xml:"netid,attr"`
			Comp  struct {
				Acc struct {
					Value float64 `xml:"value,attr"`
					Flag  string  `xml:"flag,attr"`
				} `xml:"acc"`
			} `xml:"comp"`
		} `xml:"station"`
	}
	if err := xml.Unmarshal(data, &list); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if list.XMLNS != "ch.ethz.sed.shakemap.usgs.xml" {
		t.Errorf("xmlns = %q", list.XMLNS)
	}
	if len(list.Stations) != 1 {
		t.Fatalf("stations = %d, want synthetic row excluded", len(list.Stations))
	}
	sta := list.Stations[0]
	if sta.Code != "KHMN" || sta.NetID != "KO" {
		t.Errorf("station = %s.%s", sta.NetID, sta.Code)
	}
	wantG := 245.2 / 9.806
	if math.Abs(sta.Comp.Acc.Value-wantG) > 1e-9 {
		t.Errorf("acc = %v g, want %v", sta.Comp.Acc.Value, wantG)
	}
	if sta.Comp.Acc.Flag != "0" {
		t.Errorf("flag = %q", sta.Comp.Acc.Flag)
	}
}

func TestRuptureJSONRingIsClosed(t *testing.T) {
	root := t.TempDir()
	e := New(root, zap.NewNop())
	dir, err := e.Export(sampleSolution(), 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "rupture.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc struct {
		Type     string `json:"type"`
		Features []struct {
			Geometry struct {
				Type        string          `json:"type"`
				Coordinates [][][][]float64 `json:"coordinates"`
			} `json:"geometry"`
		} `json:"features"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if doc.Type != "FeatureCollection" || len(doc.Features) != 1 {
		t.Fatalf("document shape: type=%s features=%d", doc.Type, len(doc.Features))
	}
	geo := doc.Features[0].Geometry
	if geo.Type != "MultiPolygon" {
		t.Fatalf("geometry type = %s", geo.Type)
	}
	ring := geo.Coordinates[0][0]
	if len(ring) != 4 {
		t.Fatalf("ring length = %d, want 3 vertices + closure", len(ring))
	}
	first, last := ring[0], ring[len(ring)-1]
	if first[0] != last[0] || first[1] != last[1] {
		t.Fatal("ring is not closed")
	}
	// Coordinates are [lon, lat, depth].
	if first[0] != 36.9 || first[1] != 37.0 {
		t.Fatalf("first vertex = %v, want lon-first ordering", first)
	}
}

func TestRuptureJSONEmptyRupture(t *testing.T) {
	root := t.TempDir()
	e := New(root, zap.NewNop())
	sol := sampleSolution()
	sol.Rupture.Points = nil

	dir, err := e.Export(sol, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(dir, "rupture.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("empty rupture produced invalid json: %v", err)
	}
}

func TestArchiveProducts(t *testing.T) {
	productDir := t.TempDir()
	destRoot := t.TempDir()
	for name, content := range map[string]string{
		"grid.json":     `{"a":1}`,
		"intensity.jpg": "jpegbytes",
		"notes.txt":     "skip me",
	} {
		if err := os.WriteFile(filepath.Join(productDir, name), []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	s := NewShakeRunner("shake", zap.NewNop())
	archive, err := s.ArchiveProducts(productDir, destRoot)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archive == "" {
		t.Fatal("no archive created")
	}
	if filepath.Dir(archive) != filepath.Join(destRoot, "shakemap_products") {
		t.Fatalf("archive location = %s", archive)
	}

	zr, err := zip.OpenReader(archive)
	if err != nil {
		t.Fatalf("open zip: %v", err)
	}
	defer zr.Close()
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["grid.json"] || !names["intensity.jpg"] {
		t.Fatalf("archive contents = %v", names)
	}
	if names["notes.txt"] {
		t.Fatal("non-product file archived")
	}
}

func TestArchiveProductsEmptyDirIsNotError(t *testing.T) {
	s := NewShakeRunner("shake", zap.NewNop())
	archive, err := s.ArchiveProducts(t.TempDir(), t.TempDir())
	if err != nil {
		t.Fatalf("empty product dir errored: %v", err)
	}
	if archive != "" {
		t.Fatalf("archive = %q, want none", archive)
	}
}
