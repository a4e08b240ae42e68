package log

import (
	"fmt"
	"io"
	"reflect"

	"github.com/fxamacker/cbor/v2"
)

// EventTag is the CBOR tag wrapping every record in a .plog capture
// ("plog" in ASCII). Readers accept untagged records as well.
const EventTag uint64 = 0x706C6F67

// maxEventNesting bounds decoding depth. Events are shallow, so anything
// deeper is a corrupt capture.
const maxEventNesting = 8

var (
	plogEnc cbor.EncMode
	plogDec cbor.DecMode
)

func init() {
	tags := cbor.NewTagSet()
	err := tags.Add(
		cbor.TagOptions{EncTag: cbor.EncTagRequired, DecTag: cbor.DecTagOptional},
		reflect.TypeOf(Event{}),
		EventTag,
	)
	if err != nil {
		panic(fmt.Sprintf("plog: register event tag: %v", err))
	}

	plogEnc, err = cbor.EncOptions{
		Sort:          cbor.SortCoreDeterministic,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}.EncModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("plog: encoder: %v", err))
	}

	plogDec, err = cbor.DecOptions{
		DupMapKey:       cbor.DupMapKeyQuiet,
		MaxNestedLevels: maxEventNesting,
	}.DecModeWithTags(tags)
	if err != nil {
		panic(fmt.Sprintf("plog: decoder: %v", err))
	}
}

// EncodeEvent returns the tagged .plog record for event.
func EncodeEvent(event Event) ([]byte, error) {
	return plogEnc.Marshal(event)
}

// DecodeEvent parses one .plog record.
func DecodeEvent(data []byte) (Event, error) {
	var event Event
	if err := plogDec.Unmarshal(data, &event); err != nil {
		return Event{}, err
	}
	return event, nil
}

// NewEncoder returns a stream encoder writing tagged records to w.
func NewEncoder(w io.Writer) *cbor.Encoder {
	return plogEnc.NewEncoder(w)
}

// NewDecoder returns a stream decoder reading records from r.
func NewDecoder(r io.Reader) *cbor.Decoder {
	return plogDec.NewDecoder(r)
}
