package nbi

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/signalsfoundry/energy-network-editor/model"
)

// Params is the decoded body of one command. Values arrive either from
// encoding/json or from structpb.Struct.AsMap, so numbers are float64.
type Params map[string]any

// Cmd returns the command name.
func (p Params) Cmd() (string, error) {
	return p.String("cmd")
}

// String returns a required, non-empty string parameter.
func (p Params) String(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", fmt.Errorf("%w: missing %s", ErrInvalidCommand, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidCommand, key, v)
	}
	if s == "" {
		return "", fmt.Errorf("%w: %s is empty", ErrInvalidCommand, key)
	}
	return s, nil
}

// OptString returns an optional string parameter, "" when absent.
func (p Params) OptString(key string) (string, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return "", nil
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", ErrInvalidCommand, key, v)
	}
	return s, nil
}

// OptUint64 returns an optional non-negative integer parameter. nil means
// the parameter was absent.
func (p Params) OptUint64(key string) (*uint64, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, nil
	}
	var n uint64
	switch x := v.(type) {
	case float64:
		if x < 0 || x != math.Trunc(x) {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidCommand, key)
		}
		n = uint64(x)
	case int:
		if x < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidCommand, key)
		}
		n = uint64(x)
	case int64:
		if x < 0 {
			return nil, fmt.Errorf("%w: %s must be a non-negative integer", ErrInvalidCommand, key)
		}
		n = uint64(x)
	case uint64:
		n = x
	case json.Number:
		parsed, err := strconv.ParseUint(x.String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, key, err)
		}
		n = parsed
	case string:
		parsed, err := strconv.ParseUint(x, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, key, err)
		}
		n = parsed
	default:
		return nil, fmt.Errorf("%w: %s must be a number, got %T", ErrInvalidCommand, key, v)
	}
	return &n, nil
}

// Coord returns a required {lat, lng} object.
func (p Params) Coord(key string) (model.Coord, error) {
	raw, ok := p[key].(map[string]any)
	if !ok {
		return model.Coord{}, fmt.Errorf("%w: %s must be an object with lat and lng", ErrInvalidCommand, key)
	}
	lat, latOK := raw["lat"].(float64)
	lng, lngOK := raw["lng"].(float64)
	if !latOK || !lngOK {
		return model.Coord{}, fmt.Errorf("%w: %s must have numeric lat and lng", ErrInvalidCommand, key)
	}
	return model.Coord{Lat: lat, Lng: lng}, nil
}

// JSON returns the raw JSON of a required parameter. A string value is
// taken to already be JSON text.
func (p Params) JSON(key string) ([]byte, error) {
	v, ok := p[key]
	if !ok || v == nil {
		return nil, fmt.Errorf("%w: missing %s", ErrInvalidCommand, key)
	}
	if s, ok := v.(string); ok {
		return []byte(s), nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidCommand, key, err)
	}
	return data, nil
}

// journalJSON encodes the parameters for the command journal, leaving
// out the bulky energy system body of load_esdl.
func (p Params) journalJSON() string {
	trimmed := make(map[string]any, len(p))
	for k, v := range p {
		if k == "system" {
			continue
		}
		trimmed[k] = v
	}
	data, err := json.Marshal(trimmed)
	if err != nil {
		return ""
	}
	return string(data)
}
