package pipeline

import (
	"strings"

	"github.com/pkg/errors"
)

// ErrDecode marks a telemetry frame that could not be turned into a record.
var ErrDecode = errors.New("telemetry decode")

const (
	attributesSuffix = "attributes"
	idSegment        = 2
)

// IsAttributesTopic reports whether topic carries tracker attributes, e.g.
// espresense/companion/<id>/attributes.
func IsAttributesTopic(topic string) bool {
	i := strings.LastIndexByte(topic, '/')
	return i >= 0 && topic[i+1:] == attributesSuffix
}

// TrackerID extracts the entity id from its fixed topic segment.
func TrackerID(topic string) (string, error) {
	fields := strings.Split(topic, "/")
	if len(fields) <= idSegment+1 {
		return "", errors.Wrapf(ErrDecode, "topic %q has no tracker segment", topic)
	}
	id := fields[idSegment]
	if id == "" {
		return "", errors.Wrapf(ErrDecode, "topic %q has an empty tracker id", topic)
	}
	return id, nil
}

// Decode builds a full TrackerRecord from an attributes frame. The id taken
// from the topic always wins over any id inside the payload.
func Decode(topic string, payload []byte) (TrackerRecord, error) {
	id, err := TrackerID(topic)
	if err != nil {
		return TrackerRecord{}, err
	}

	var rec TrackerRecord
	if err := rec.UnmarshalJSON(payload); err != nil {
		return TrackerRecord{}, errors.Wrapf(ErrDecode, "tracker %s: %v", id, err)
	}
	rec.ID = id
	return rec, nil
}
