package feed

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	ChangeFeedServiceName = "orderflow.feed.v1.ChangeFeed"
	WatchMethod           = "/" + ChangeFeedServiceName + "/Watch"
)

// ChangeFeedServer streams feed events for the channel named in the request.
type ChangeFeedServer interface {
	Watch(req *structpb.Struct, stream grpc.ServerStream) error
}

var ChangeFeedServiceDesc = grpc.ServiceDesc{
	ServiceName: ChangeFeedServiceName,
	HandlerType: (*ChangeFeedServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Watch",
			Handler:       watchHandler,
			ServerStreams: true,
		},
	},
	Metadata: "orderflow/feed/v1/feed.proto",
}

func watchHandler(srv any, stream grpc.ServerStream) error {
	req := new(structpb.Struct)
	if err := stream.RecvMsg(req); err != nil {
		return err
	}
	return srv.(ChangeFeedServer).Watch(req, stream)
}

// NewWatchRequest names the channel to follow.
func NewWatchRequest(channel string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"channel": structpb.NewStringValue(channel),
	}}
}

func WatchRequestChannel(req *structpb.Struct) string {
	if req == nil {
		return ""
	}
	return req.GetFields()["channel"].GetStringValue()
}

// ToStruct carries an event over gRPC as a generic struct message.
func ToStruct(ev Event) (*structpb.Struct, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return nil, fmt.Errorf("cannot encode feed event: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("cannot encode feed event: %w", err)
	}
	s, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("cannot encode feed event: %w", err)
	}
	return s, nil
}

func FromStruct(s *structpb.Struct) (Event, error) {
	data, err := json.Marshal(s.AsMap())
	if err != nil {
		return Event{}, fmt.Errorf("cannot decode feed event: %w", err)
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("cannot decode feed event: %w", err)
	}
	return ev, nil
}
