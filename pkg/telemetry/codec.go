// Package telemetry publishes stabilizer snapshots over MQTT.
//
// Payloads are protobuf encoded google.protobuf.Struct messages, so any
// protobuf runtime can read them without generated code.
package telemetry

import (
	"fmt"
	"time"

	"github.com/golang/protobuf/proto"
	structpb "github.com/golang/protobuf/ptypes/struct"

	"github.com/robotalks/stabilizer/pkg/host"
	"github.com/robotalks/stabilizer/pkg/pid"
)

func number(v float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_NumberValue{NumberValue: v}}
}

func boolean(v bool) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_BoolValue{BoolValue: v}}
}

func str(v string) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StringValue{StringValue: v}}
}

func triple(p, i, d float64) *structpb.Value {
	return &structpb.Value{Kind: &structpb.Value_StructValue{StructValue: &structpb.Struct{
		Fields: map[string]*structpb.Value{"p": number(p), "i": number(i), "d": number(d)},
	}}}
}

// EncodeSnapshot serializes a snapshot.
func EncodeSnapshot(s host.Snapshot) ([]byte, error) {
	msg := &structpb.Struct{Fields: map[string]*structpb.Value{
		"time":        str(s.Time.UTC().Format(time.RFC3339Nano)),
		"watts":       number(s.Watts),
		"target":      number(s.Target),
		"freq":        number(float64(s.Freq)),
		"duty":        number(float64(s.Duty)),
		"duty_delta":  number(float64(s.DutyDelta)),
		"gains":       triple(s.Gains.P, s.Gains.I, s.Gains.D),
		"terms":       triple(s.Terms.P, s.Terms.I, s.Terms.D),
		"integral":    number(s.Integral),
		"closed_loop": boolean(s.ClosedLoop),
		"sampling":    boolean(s.Sampling),
	}}
	return proto.Marshal(msg)
}

// DecodeSnapshot parses a payload from EncodeSnapshot.
func DecodeSnapshot(payload []byte) (host.Snapshot, error) {
	var s host.Snapshot
	var msg structpb.Struct
	if err := proto.Unmarshal(payload, &msg); err != nil {
		return s, err
	}
	f := msg.GetFields()
	if f["time"] == nil {
		return s, fmt.Errorf("missing time")
	}
	t, err := time.Parse(time.RFC3339Nano, f["time"].GetStringValue())
	if err != nil {
		return s, err
	}
	s.Time = t
	s.Watts = f["watts"].GetNumberValue()
	s.Target = f["target"].GetNumberValue()
	s.Freq = int(f["freq"].GetNumberValue())
	s.Duty = int(f["duty"].GetNumberValue())
	s.DutyDelta = int(f["duty_delta"].GetNumberValue())
	gains := tripleOf(f["gains"])
	s.Gains = pid.Gains{P: gains[0], I: gains[1], D: gains[2]}
	terms := tripleOf(f["terms"])
	s.Terms = pid.Terms{P: terms[0], I: terms[1], D: terms[2]}
	s.Integral = f["integral"].GetNumberValue()
	s.ClosedLoop = f["closed_loop"].GetBoolValue()
	s.Sampling = f["sampling"].GetBoolValue()
	return s, nil
}

func tripleOf(v *structpb.Value) (res [3]float64) {
	f := v.GetStructValue().GetFields()
	for n, key := range []string{"p", "i", "d"} {
		res[n] = f[key].GetNumberValue()
	}
	return
}
