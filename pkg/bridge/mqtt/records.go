package mqtt

import (
	"bytes"
	"encoding/json"

	"github.com/golang/protobuf/jsonpb"
	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"
)

// ToStruct converts a JSON-tagged value to a protobuf Struct.
func ToStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := &structpb.Struct{}
	if err := jsonpb.Unmarshal(bytes.NewReader(data), s); err != nil {
		return nil, err
	}
	return s, nil
}

// FromStruct fills a JSON-tagged value from a protobuf Struct.
func FromStruct(s *structpb.Struct, v interface{}) error {
	m := jsonpb.Marshaler{OrigName: true}
	str, err := m.MarshalToString(s)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(str), v)
}

// Encode encodes a JSON-tagged value as a serialized Struct.
func Encode(v interface{}) ([]byte, error) {
	s, err := ToStruct(v)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}

// Decode decodes a serialized Struct into a JSON-tagged value.
func Decode(payload []byte, v interface{}) error {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return err
	}
	return FromStruct(&s, v)
}

// DecodeJSON renders a serialized Struct as JSON.
func DecodeJSON(payload []byte) (string, error) {
	var s structpb.Struct
	if err := proto.Unmarshal(payload, &s); err != nil {
		return "", err
	}
	m := jsonpb.Marshaler{OrigName: true, Indent: "  "}
	return m.MarshalToString(&s)
}
