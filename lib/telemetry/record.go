// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/bureau-foundation/modelfleet/lib/codec"
)

// ErrMalformed is returned for payloads that cannot be decoded or lack
// a node id, IP, or valid port.
var ErrMalformed = errors.New("malformed telemetry")

// Content types understood by Decode.
const (
	ContentTypeJSON = "application/json"
	ContentTypeCBOR = "application/cbor"
)

// Record is one telemetry report from a node.
type Record struct {
	NodeID string
	IP     string
	Port   int

	// CPUPercent and MemoryPercent are nil when the reporter omitted
	// them. The scheduler treats a missing value as fully loaded.
	CPUPercent    *float64
	MemoryPercent *float64

	// Timestamp is the sender's clock. Informational only; staleness
	// is judged by arrival time.
	Timestamp time.Time

	// Extra holds every other top-level block of the payload.
	Extra map[string]any
}

// coreKeys are consumed into Record fields and excluded from Extra.
// cpu and memory blocks stay in Extra too: they often carry more than
// the percent (times, counts, swap).
var coreKeys = map[string]bool{
	"nodeId":    true,
	"node_id":   true,
	"laptop_id": true,
	"ip":        true,
	"port":      true,
	"timestamp": true,
}

// Decode parses a payload. contentEncoding names the compression
// (empty for none); contentType selects JSON or CBOR (empty means
// JSON).
func Decode(payload []byte, contentType, contentEncoding string) (Record, error) {
	encoding, err := codec.ParseEncoding(contentEncoding)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	raw, err := codec.Decompress(payload, encoding)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}

	var fields map[string]any
	if isCBOR(contentType) {
		err = codec.Unmarshal(raw, &fields)
	} else {
		err = json.Unmarshal(raw, &fields)
	}
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if fields == nil {
		return Record{}, fmt.Errorf("%w: payload is not an object", ErrMalformed)
	}
	return FromMap(fields)
}

// FromMap builds a Record from a decoded payload object.
func FromMap(fields map[string]any) (Record, error) {
	record := Record{
		NodeID: nodeID(fields),
		Extra:  make(map[string]any),
	}
	if record.NodeID == "" {
		return Record{}, fmt.Errorf("%w: no node id (nodeId, laptop_id, or system.hostname)", ErrMalformed)
	}

	record.IP, _ = fields["ip"].(string)
	record.IP = strings.TrimSpace(record.IP)
	if record.IP == "" {
		return Record{}, fmt.Errorf("%w: node %s: missing ip", ErrMalformed, record.NodeID)
	}

	port, ok := toInt(fields["port"])
	if !ok || port < 1 || port > 65535 {
		return Record{}, fmt.Errorf("%w: node %s: missing or invalid port %v", ErrMalformed, record.NodeID, fields["port"])
	}
	record.Port = port

	record.CPUPercent = percent(fields, "cpu")
	record.MemoryPercent = percent(fields, "memory")
	record.Timestamp = timestamp(fields["timestamp"])

	for key, value := range fields {
		if !coreKeys[key] {
			record.Extra[key] = value
		}
	}
	return record, nil
}

// ToMap renders a Record as a payload object. Inverse of FromMap.
func (r Record) ToMap() map[string]any {
	fields := make(map[string]any, len(r.Extra)+6)
	for key, value := range r.Extra {
		fields[key] = value
	}
	fields["nodeId"] = r.NodeID
	fields["ip"] = r.IP
	fields["port"] = r.Port
	if !r.Timestamp.IsZero() {
		fields["timestamp"] = r.Timestamp.UTC().Format(time.RFC3339Nano)
	}
	setPercent(fields, "cpu", r.CPUPercent)
	setPercent(fields, "memory", r.MemoryPercent)
	return fields
}

// Encode serializes a Record. contentType and contentEncoding take the
// same values Decode accepts.
func Encode(record Record, contentType, contentEncoding string) ([]byte, error) {
	encoding, err := codec.ParseEncoding(contentEncoding)
	if err != nil {
		return nil, err
	}
	var raw []byte
	if isCBOR(contentType) {
		raw, err = codec.Marshal(record.ToMap())
	} else {
		raw, err = json.Marshal(record.ToMap())
	}
	if err != nil {
		return nil, fmt.Errorf("encoding telemetry for %s: %w", record.NodeID, err)
	}
	return codec.Compress(raw, encoding)
}

func isCBOR(contentType string) bool {
	mediaType, _, _ := strings.Cut(contentType, ";")
	return strings.EqualFold(strings.TrimSpace(mediaType), ContentTypeCBOR)
}

// nodeID picks the node identifier. Reporters that predate nodeId
// key by laptop_id or only send a system block with the hostname.
func nodeID(fields map[string]any) string {
	for _, key := range []string{"nodeId", "node_id", "laptop_id"} {
		if value, ok := fields[key].(string); ok && strings.TrimSpace(value) != "" {
			return strings.TrimSpace(value)
		}
	}
	if system, ok := fields["system"].(map[string]any); ok {
		if hostname, ok := system["hostname"].(string); ok {
			return strings.TrimSpace(hostname)
		}
	}
	return ""
}

// percent reads block.percent as a float, or nil.
func percent(fields map[string]any, block string) *float64 {
	values, ok := fields[block].(map[string]any)
	if !ok {
		return nil
	}
	value, ok := toFloat(values["percent"])
	if !ok || math.IsNaN(value) || math.IsInf(value, 0) {
		return nil
	}
	return &value
}

func setPercent(fields map[string]any, block string, value *float64) {
	if value == nil {
		return
	}
	values, ok := fields[block].(map[string]any)
	if ok {
		copied := make(map[string]any, len(values)+1)
		for key, inner := range values {
			copied[key] = inner
		}
		values = copied
	} else {
		values = make(map[string]any, 1)
	}
	values["percent"] = *value
	fields[block] = values
}

// timestamp accepts RFC 3339 strings and unix seconds.
func timestamp(value any) time.Time {
	switch typed := value.(type) {
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, typed); err == nil {
			return parsed
		}
		if seconds, err := strconv.ParseFloat(typed, 64); err == nil {
			return unixSeconds(seconds)
		}
	case time.Time:
		return typed
	default:
		if seconds, ok := toFloat(value); ok {
			return unixSeconds(seconds)
		}
	}
	return time.Time{}
}

func unixSeconds(seconds float64) time.Time {
	whole, fraction := math.Modf(seconds)
	return time.Unix(int64(whole), int64(fraction*1e9)).UTC()
}

// toFloat converts the numeric types JSON and CBOR decoding produce.
func toFloat(value any) (float64, bool) {
	switch typed := value.(type) {
	case float64:
		return typed, true
	case float32:
		return float64(typed), true
	case int:
		return float64(typed), true
	case int64:
		return float64(typed), true
	case uint64:
		return float64(typed), true
	case json.Number:
		parsed, err := typed.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(typed), 64)
		return parsed, err == nil
	}
	return 0, false
}

// toInt accepts whole numbers in any numeric form, including numeric
// strings ("8091").
func toInt(value any) (int, bool) {
	number, ok := toFloat(value)
	if !ok || number != math.Trunc(number) || number > math.MaxInt32 || number < math.MinInt32 {
		return 0, false
	}
	return int(number), true
}
