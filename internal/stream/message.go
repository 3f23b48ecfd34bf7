package stream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/signalsfoundry/sattrack/model"
)

// ErrParse wraps every inbound message that does not decode to a snapshot.
var ErrParse = errors.New("malformed telemetry message")

// parseFailureMessage is the LastError value published for malformed messages.
const parseFailureMessage = "failed to parse message"

type wireMessage struct {
	LastUpdated json.RawMessage `json:"last_updated"`
	Satellites  json.RawMessage `json:"satellites"`
}

type wirePosition struct {
	Lat   *float64 `json:"lat"`
	Lon   *float64 `json:"lon"`
	AltKm *float64 `json:"alt_km"`
}

// DecodeSnapshot decodes one telemetry payload:
//
//	{"last_updated": "<ISO-8601>" | null,
//	 "satellites": {"<id>": {"lat": f, "lon": f, "alt_km": f}, ...}}
//
// Unknown top-level fields are ignored. Any other shape yields an error
// wrapping ErrParse; nothing is partially decoded.
func DecodeSnapshot(data []byte) (model.Snapshot, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return model.Snapshot{}, fmt.Errorf("%w: payload is not a JSON object", ErrParse)
	}

	var msg wireMessage
	if err := json.Unmarshal(trimmed, &msg); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: %v", ErrParse, err)
	}

	ts, err := decodeTimestamp(msg.LastUpdated)
	if err != nil {
		return model.Snapshot{}, err
	}

	if len(msg.Satellites) == 0 || bytes.Equal(msg.Satellites, []byte("null")) {
		return model.Snapshot{}, fmt.Errorf("%w: missing satellites", ErrParse)
	}
	var raw map[string]wirePosition
	if err := json.Unmarshal(msg.Satellites, &raw); err != nil {
		return model.Snapshot{}, fmt.Errorf("%w: satellites: %v", ErrParse, err)
	}

	positions := make(map[model.EntityID]model.Position, len(raw))
	for id, p := range raw {
		if id == "" {
			return model.Snapshot{}, fmt.Errorf("%w: empty entity id", ErrParse)
		}
		if p.Lat == nil || p.Lon == nil || p.AltKm == nil {
			return model.Snapshot{}, fmt.Errorf("%w: entity %q lacks lat/lon/alt_km", ErrParse, id)
		}
		positions[model.EntityID(id)] = model.Position{
			Latitude:   *p.Lat,
			Longitude:  *p.Lon,
			AltitudeKm: *p.AltKm,
		}
	}

	return model.NewSnapshot(positions, ts), nil
}

func decodeTimestamp(raw json.RawMessage) (time.Time, error) {
	if len(raw) == 0 {
		return time.Time{}, fmt.Errorf("%w: missing last_updated", ErrParse)
	}
	if bytes.Equal(raw, []byte("null")) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return time.Time{}, fmt.Errorf("%w: last_updated: %v", ErrParse, err)
	}
	ts, err := model.ParseTimestamp(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: last_updated: %v", ErrParse, err)
	}
	return ts, nil
}

// EncodeSnapshot renders snap in the wire format DecodeSnapshot accepts.
func EncodeSnapshot(snap model.Snapshot) ([]byte, error) {
	sats := make(map[string]map[string]float64, snap.Len())
	snap.Range(func(id model.EntityID, pos model.Position) bool {
		sats[string(id)] = map[string]float64{
			"lat":    pos.Latitude,
			"lon":    pos.Longitude,
			"alt_km": pos.AltitudeKm,
		}
		return true
	})
	var lastUpdated *string
	if ts := snap.Timestamp(); !ts.IsZero() {
		s := ts.UTC().Format(time.RFC3339Nano)
		lastUpdated = &s
	}
	return json.Marshal(struct {
		LastUpdated *string                       `json:"last_updated"`
		Satellites  map[string]map[string]float64 `json:"satellites"`
	}{lastUpdated, sats})
}
