package grpcclient

import (
	"context"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/emptypb"

	"retranslator-svr/internal/pipeline"
)

const DefaultMethod = "/retranslator.Forwarder/SendPosition"

// GRPCClient forwards tracking objects as google.protobuf.Struct messages
// over a unary call.
type GRPCClient struct {
	conn    *grpc.ClientConn
	method  string
	timeout time.Duration
}

func NewGRPCClient(addr, method string, opts ...grpc.DialOption) (*GRPCClient, error) {
	if method == "" {
		method = DefaultMethod
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, err
	}
	return &GRPCClient{conn: conn, method: method, timeout: 5 * time.Second}, nil
}

func (g *GRPCClient) Close() error {
	return g.conn.Close()
}

func (g *GRPCClient) Name() string { return "grpc" }

func (g *GRPCClient) Send(ctx context.Context, tr *pipeline.TrackingObject) error {
	req, err := pipeline.ToStruct(tr)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	if err := g.conn.Invoke(ctx, g.method, req, &emptypb.Empty{}); err != nil {
		return fmt.Errorf("forward %s: %w", tr.DeviceID, err)
	}
	return nil
}
