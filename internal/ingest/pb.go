package ingest

import (
	"encoding/json"

	"google.golang.org/grpc"
)

const serviceName = "ridematch.ingest.Ingest"

// Registration is one streamed provider or request.
type Registration struct {
	ID string  `json:"id"`
	X  float64 `json:"x"`
	Y  float64 `json:"y"`
}

// Ack closes a stream with per-stream totals.
type Ack struct {
	Accepted int `json:"accepted"`
	Refused  int `json:"refused"`
}

// Codec carries ingest messages as JSON so no generated stubs are needed.
// Servers install it with grpc.ForceServerCodec.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (Codec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (Codec) Name() string                       { return "json" }

// IngestServer is the service contract.
type IngestServer interface {
	StreamProviders(Ingest_StreamServer) error
	StreamRequests(Ingest_StreamServer) error
}

// Ingest_StreamServer is the server side of a client stream.
type Ingest_StreamServer interface {
	grpc.ServerStream
	SendAndClose(*Ack) error
	Recv() (*Registration, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*IngestServer)(nil),
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "StreamProviders",
			Handler:       _Ingest_StreamProviders_Handler,
			ClientStreams: true,
		},
		{
			StreamName:    "StreamRequests",
			Handler:       _Ingest_StreamRequests_Handler,
			ClientStreams: true,
		},
	},
}

// Register attaches srv to s.
func Register(s grpc.ServiceRegistrar, srv IngestServer) {
	s.RegisterService(&serviceDesc, srv)
}

func _Ingest_StreamProviders_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(IngestServer).StreamProviders(&ingestStreamServer{ServerStream: stream})
}

func _Ingest_StreamRequests_Handler(srv any, stream grpc.ServerStream) error {
	return srv.(IngestServer).StreamRequests(&ingestStreamServer{ServerStream: stream})
}

type ingestStreamServer struct {
	grpc.ServerStream
}

func (s *ingestStreamServer) SendAndClose(ack *Ack) error { return s.ServerStream.SendMsg(ack) }

func (s *ingestStreamServer) Recv() (*Registration, error) {
	msg := new(Registration)
	if err := s.ServerStream.RecvMsg(msg); err != nil {
		return nil, err
	}
	return msg, nil
}
