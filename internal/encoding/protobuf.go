package encoding

import (
	"github.com/synheart/shakewatch/internal/models"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ProtobufEncoder encodes events as a google.protobuf.Struct message.
// Field names match the JSON envelope, so any protobuf runtime can decode
// them without generated code.
type ProtobufEncoder struct{}

func NewProtobufEncoder() *ProtobufEncoder {
	return &ProtobufEncoder{}
}

func (e *ProtobufEncoder) Encode(event models.ShakeEvent) ([]byte, error) {
	pb, err := eventToProto(event)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pb)
}

func (e *ProtobufEncoder) ContentType() string {
	return "application/x-protobuf"
}

func eventToProto(e models.ShakeEvent) (*structpb.Struct, error) {
	session := map[string]any{"run_id": e.Session.RunID}
	if e.Session.Scenario != "" {
		session["scenario"] = e.Session.Scenario
	}
	if e.Session.Seed != 0 {
		session["seed"] = float64(e.Session.Seed)
	}

	return structpb.NewStruct(map[string]any{
		"schema_version": e.SchemaVersion,
		"event_id":       e.EventID,
		"ts":             e.Timestamp,
		"source":         e.Source,
		"session":        session,
		"shake": map[string]any{
			"at_ms":           float64(e.Shake.AtMs),
			"first_change_ms": float64(e.Shake.FirstChangeMs),
			"changes":         float64(e.Shake.Changes),
		},
		"meta": map[string]any{
			"sequence": float64(e.Meta.Sequence),
		},
	})
}
