package ingest

import (
	"context"
	"errors"
	"io"

	"go.uber.org/zap"

	"github.com/example/ridematch/internal/dispatch/domain"
)

// Target receives what the streams carry. *matching.Dispatcher satisfies it.
type Target interface {
	Submit(r domain.Request) error
	AddProvider(ctx context.Context, p domain.Provider) error
}

// Server implements IngestServer on top of a Target.
type Server struct {
	target Target
	logger *zap.Logger
}

func NewServer(target Target, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{target: target, logger: logger}
}

// StreamProviders pools every streamed provider. Duplicates and registrations
// without an ID are refused and counted in the Ack.
func (s *Server) StreamProviders(stream Ingest_StreamServer) error {
	return s.consume(stream, "providers", func(ctx context.Context, reg *Registration) error {
		return s.target.AddProvider(ctx, domain.Provider{ID: reg.ID, Position: domain.Point{X: reg.X, Y: reg.Y}})
	})
}

// StreamRequests queues every streamed request.
func (s *Server) StreamRequests(stream Ingest_StreamServer) error {
	return s.consume(stream, "requests", func(_ context.Context, reg *Registration) error {
		return s.target.Submit(domain.Request{ID: reg.ID, Position: domain.Point{X: reg.X, Y: reg.Y}})
	})
}

var errMissingID = errors.New("registration without id")

func (s *Server) consume(stream Ingest_StreamServer, name string, apply func(context.Context, *Registration) error) error {
	var ack Ack
	for {
		msg, err := stream.Recv()
		if err == io.EOF {
			s.logger.Info("ingest stream closed", zap.String("stream", name), zap.Int("accepted", ack.Accepted), zap.Int("refused", ack.Refused))
			return stream.SendAndClose(&ack)
		}
		if err != nil {
			return err
		}
		if msg.ID == "" {
			err = errMissingID
		} else {
			err = apply(stream.Context(), msg)
		}
		if err != nil {
			ack.Refused++
			messagesTotal.WithLabelValues(name, "refused").Inc()
			s.logger.Debug("registration refused", zap.String("stream", name), zap.String("id", msg.ID), zap.Error(err))
			continue
		}
		ack.Accepted++
		messagesTotal.WithLabelValues(name, "accepted").Inc()
	}
}
