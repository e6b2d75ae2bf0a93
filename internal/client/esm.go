package client

import (
	"bytes"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/merge"
	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

// DefaultESMBaseURL is the ESM shakemap web-service root.
const DefaultESMBaseURL = "https://esm-db.eu/esmws/shakemap/1"

// ESM shakemap response formats.
const (
	ESMFormatEvent    = "event"
	ESMFormatEventDat = "event_dat"
)

// esmEarthquake is the single element of the format=event response.
type esmEarthquake struct {
	XMLName   xml.Name `xml:"earthquake"`
	ID        string   `xml:"id,attr"`
	Latitude  float64  `xml:"lat,attr"`
	Longitude float64  `xml:"lon,attr"`
	Depth     float64  `xml:"depth,attr"`
	Magnitude float64  `xml:"mag,attr"`
	Time      string   `xml:"time,attr"`
}

// esmStationList is the root of the format=event_dat response. Amplitude
// values arrive as attributes in percent of g.
type esmStationList struct {
	XMLName  xml.Name     `xml:"stationlist"`
	Created  string       `xml:"created,attr"`
	Stations []esmStation `xml:"station"`
}

type esmStation struct {
	Code       string    `xml:"code,attr"`
	Name       string    `xml:"name,attr"`
	NetID      string    `xml:"netid,attr"`
	Latitude   float64   `xml:"lat,attr"`
	Longitude  float64   `xml:"lon,attr"`
	Components []esmComp `xml:"comp"`
}

type esmComp struct {
	Name string `xml:"name,attr"`
	Acc  esmAmp `xml:"acc"`
	Vel  esmAmp `xml:"vel"`
}

type esmAmp struct {
	Value string `xml:"value,attr"`
	Flag  string `xml:"flag,attr"`
}

// NewESMShakeMapClient builds the client for the ESM shakemap endpoint.
// The format option selects between event metadata and station amplitudes;
// both go through the same URL builder.
func NewESMShakeMapClient(baseURL string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultESMBaseURL
	}
	return New(types.ServiceESM,
		&esmURLBuilder{base: baseURL},
		&esmValidator{},
		&esmParser{log: log},
		log)
}

// QueryESMEvent fetches the event metadata and the station amplitudes in
// two calls and folds them into one Result.
func QueryESMEvent(ctx context.Context, c *Client, eventID string) (*Result, error) {
	ev, err := c.Query(ctx, Options{"eventid": eventID, "format": ESMFormatEvent})
	if err != nil {
		return nil, err
	}
	dat, err := c.Query(ctx, Options{"eventid": eventID, "format": ESMFormatEventDat})
	if err != nil {
		return nil, err
	}
	dat.Event = ev.Event
	return dat, nil
}

type esmURLBuilder struct {
	base string
}

func (b *esmURLBuilder) BuildURL(opts Options) (string, error) {
	eventID := opts["eventid"]
	if eventID == "" {
		return "", fmt.Errorf("eventid is required")
	}
	q := url.Values{}
	for k, v := range opts {
		q.Set(k, v)
	}
	return b.base + "/query?" + q.Encode(), nil
}

type esmValidator struct{}

func (v *esmValidator) Validate(opts Options) (Options, error) {
	out := Options{}
	for k, val := range opts {
		switch k {
		case "eventid", "catalog", "format", "flag", "encoding":
			out[k] = val
		default:
			return nil, fmt.Errorf("unsupported option %q", k)
		}
	}
	if out["eventid"] == "" {
		return nil, fmt.Errorf("eventid is required")
	}
	switch out["format"] {
	case "", ESMFormatEvent, ESMFormatEventDat:
	default:
		return nil, fmt.Errorf("unsupported format %q", out["format"])
	}
	return out, nil
}

type esmParser struct {
	log *zap.Logger
}

// Parse sniffs the root element to handle both response formats with one
// parser.
func (p *esmParser) Parse(body []byte) (*Result, error) {
	root, err := rootElement(body)
	if err != nil {
		return nil, err
	}
	switch root {
	case "earthquake":
		return p.parseEvent(body)
	case "stationlist":
		return p.parseStationList(body)
	default:
		return nil, fmt.Errorf("unexpected root element %q", root)
	}
}

func (p *esmParser) parseEvent(body []byte) (*Result, error) {
	var eq esmEarthquake
	if err := xml.Unmarshal(body, &eq); err != nil {
		return nil, fmt.Errorf("decode earthquake element: %w", err)
	}
	info := &EventInfo{
		EventID:   eq.ID,
		Latitude:  eq.Latitude,
		Longitude: eq.Longitude,
		DepthKm:   eq.Depth,
		Magnitude: eq.Magnitude,
	}
	if t, err := timeutil.Parse(eq.Time); err == nil {
		info.OriginTime = t
	}
	return &Result{Event: info}, nil
}

// parseStationList extracts one station per <station>, taking the
// component with the largest acceleration and converting %g to cm/s².
func (p *esmParser) parseStationList(body []byte) (*Result, error) {
	var list esmStationList
	if err := xml.Unmarshal(body, &list); err != nil {
		return nil, fmt.Errorf("decode stationlist: %w", err)
	}

	result := &Result{}
	for _, sta := range list.Stations {
		// The window filter runs inside the selection so a weaker in-range
		// component still wins when the strongest one is out of range.
		var bestPGA float64
		var bestComp string
		found := false
		for _, comp := range sta.Components {
			acc, err := strconv.ParseFloat(comp.Acc.Value, 64)
			if err != nil {
				continue
			}
			pga := merge.PercentGToCmS2(abs(acc))
			if !merge.PGAInRange(pga) {
				continue
			}
			if !found || pga > bestPGA {
				bestPGA, bestComp, found = pga, comp.Name, true
			}
		}
		if !found {
			if p.log != nil {
				p.log.Debug("station has no component in pga range",
					zap.String("station", sta.NetID+"."+sta.Code))
			}
			continue
		}
		location, channel := merge.SplitChannelCode(bestComp)
		result.Stations = append(result.Stations, types.RawStation{
			Network:   merge.StripCode(sta.NetID),
			Station:   merge.StripCode(sta.Code),
			Location:  location,
			Channel:   channel,
			Latitude:  sta.Latitude,
			Longitude: sta.Longitude,
			PGA:       bestPGA,
			Source:    types.ServiceESM,
		})
	}
	return result, nil
}

func rootElement(body []byte) (string, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	for {
		tok, err := dec.Token()
		if err != nil {
			return "", fmt.Errorf("no root element: %w", err)
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start.Name.Local, nil
		}
	}
}
