package client

import (
	"encoding/json"
	"fmt"
	"net/url"
	"sort"

	"go.uber.org/zap"

	"github.com/seismo-tools/finderd/internal/merge"
	"github.com/seismo-tools/finderd/internal/timeutil"
	"github.com/seismo-tools/finderd/internal/types"
)

// DefaultRRSMBaseURL is the ORFEUS RRSM web-service root.
const DefaultRRSMBaseURL = "http://orfeus-eu.org/odcws/rrsm/1"

// rrsmRecord mirrors one entry of the RRSM peak-motion event list. One
// record per station; per-channel amplitudes nest under sensor-channels.
type rrsmRecord struct {
	EventID          string        `json:"event-id"`
	EventTime        string        `json:"event-time"`
	EventMagnitude   float64       `json:"event-magnitude"`
	MagnitudeType    string        `json:"magnitude-type"`
	EventLatitude    float64       `json:"event-latitude"`
	EventLongitude   float64       `json:"event-longitude"`
	EventDepth       float64       `json:"event-depth"`
	NetworkCode      string        `json:"network-code"`
	StationCode      string        `json:"station-code"`
	StationLatitude  float64       `json:"station-latitude"`
	StationLongitude float64       `json:"station-longitude"`
	EpicentralDist   float64       `json:"epicentral-distance"`
	SensorChannels   []rrsmChannel `json:"sensor-channels"`
}

type rrsmChannel struct {
	ChannelCode string  `json:"channel-code"`
	PGAValue    float64 `json:"pga-value"`
	PGVValue    float64 `json:"pgv-value"`
}

// NewRRSMPeakMotionClient builds the client for the RRSM peak-motion
// endpoint. Amplitudes arrive in cm/s² and need no unit conversion.
func NewRRSMPeakMotionClient(baseURL string, log *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultRRSMBaseURL
	}
	return New(types.ServiceRRSM,
		&rrsmURLBuilder{base: baseURL},
		&rrsmValidator{},
		&rrsmParser{log: log},
		log)
}

type rrsmURLBuilder struct {
	base string
}

func (b *rrsmURLBuilder) BuildURL(opts Options) (string, error) {
	eventID := opts["eventid"]
	if eventID == "" {
		return "", fmt.Errorf("eventid is required")
	}
	return fmt.Sprintf("%s/peak-motion?eventid=%s", b.base, url.QueryEscape(eventID)), nil
}

type rrsmValidator struct{}

// Validate keeps only the options the peak-motion endpoint understands.
func (v *rrsmValidator) Validate(opts Options) (Options, error) {
	out := Options{}
	for k, val := range opts {
		switch k {
		case "eventid", "network", "station", "type":
			out[k] = val
		default:
			return nil, fmt.Errorf("unsupported option %q", k)
		}
	}
	if out["eventid"] == "" {
		return nil, fmt.Errorf("eventid is required")
	}
	return out, nil
}

type rrsmParser struct {
	log *zap.Logger
}

// Parse decodes the peak-motion JSON list. Each station contributes its
// strongest in-range channel; stations with no usable channel are dropped
// rather than failing the whole response.
func (p *rrsmParser) Parse(body []byte) (*Result, error) {
	var records []rrsmRecord
	if err := json.Unmarshal(body, &records); err != nil {
		return nil, fmt.Errorf("decode peak-motion list: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty peak-motion list")
	}

	result := &Result{Event: eventFromRRSM(records[0])}
	for _, rec := range records {
		sta, ok := p.bestChannel(rec)
		if !ok {
			continue
		}
		result.Stations = append(result.Stations, sta)
	}
	return result, nil
}

func eventFromRRSM(rec rrsmRecord) *EventInfo {
	info := &EventInfo{
		EventID:       rec.EventID,
		Latitude:      rec.EventLatitude,
		Longitude:     rec.EventLongitude,
		DepthKm:       rec.EventDepth,
		Magnitude:     rec.EventMagnitude,
		MagnitudeType: rec.MagnitudeType,
	}
	if t, err := timeutil.Parse(rec.EventTime); err == nil {
		info.OriginTime = t
	}
	return info
}

// bestChannel picks the channel with the largest |PGA| inside the
// acceptance window.
func (p *rrsmParser) bestChannel(rec rrsmRecord) (types.RawStation, bool) {
	channels := make([]rrsmChannel, 0, len(rec.SensorChannels))
	for _, ch := range rec.SensorChannels {
		if merge.PGAInRange(ch.PGAValue) {
			channels = append(channels, ch)
		}
	}
	if len(channels) == 0 {
		if p.log != nil {
			p.log.Debug("station has no channel in pga range",
				zap.String("station", rec.NetworkCode+"."+rec.StationCode))
		}
		return types.RawStation{}, false
	}
	sort.Slice(channels, func(i, j int) bool {
		return abs(channels[i].PGAValue) > abs(channels[j].PGAValue)
	})
	best := channels[0]
	location, channel := merge.SplitChannelCode(best.ChannelCode)

	sta := types.RawStation{
		Network:   merge.StripCode(rec.NetworkCode),
		Station:   merge.StripCode(rec.StationCode),
		Location:  location,
		Channel:   channel,
		Latitude:  rec.StationLatitude,
		Longitude: rec.StationLongitude,
		PGA:       abs(best.PGAValue),
		Source:    types.ServiceRRSM,
	}
	if t, err := timeutil.Parse(rec.EventTime); err == nil {
		sta.Timestamp = float64(t.Unix())
	}
	return sta, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
