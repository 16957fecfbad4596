package ingest

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
)

// Client streams registrations to an ingest server.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

func (c *Client) SendProviders(ctx context.Context, regs []Registration) (Ack, error) {
	return c.send(ctx, 0, regs)
}

func (c *Client) SendRequests(ctx context.Context, regs []Registration) (Ack, error) {
	return c.send(ctx, 1, regs)
}

func (c *Client) send(ctx context.Context, idx int, regs []Registration) (Ack, error) {
	desc := &serviceDesc.Streams[idx]
	method := "/" + serviceName + "/" + desc.StreamName
	stream, err := c.conn.NewStream(ctx, desc, method, grpc.ForceCodec(Codec{}))
	if err != nil {
		return Ack{}, fmt.Errorf("open %s: %w", desc.StreamName, err)
	}
	for i := range regs {
		if err := stream.SendMsg(&regs[i]); err != nil {
			return Ack{}, fmt.Errorf("send %s: %w", desc.StreamName, err)
		}
	}
	if err := stream.CloseSend(); err != nil {
		return Ack{}, fmt.Errorf("close %s: %w", desc.StreamName, err)
	}
	var ack Ack
	if err := stream.RecvMsg(&ack); err != nil {
		return Ack{}, fmt.Errorf("ack %s: %w", desc.StreamName, err)
	}
	return ack, nil
}
