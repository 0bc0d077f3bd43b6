// Package grpc implements the gRPC transport for audipro.
//
// The service audipro.v1.ChatService mirrors the HTTP API: Chat answers a
// typed message and ChatAudio answers a recording. Messages are exchanged
// with the "json" codec registered by this package, so clients need no
// generated stubs; they call with grpc.CallContentSubtype("json") (see
// [Client]). The standard grpc.health.v1 service is registered alongside.
package grpc

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"sync"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/nadzzz/audipro/internal/message"
	"github.com/nadzzz/audipro/internal/observe"
	"github.com/nadzzz/audipro/internal/transport"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "audipro.v1.ChatService"

// codecName is the content subtype clients must request.
const codecName = "json"

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// AudioRequest is the ChatAudio request message.
type AudioRequest struct {
	Audio       []byte `json:"audio"`
	ContentType string `json:"content_type,omitempty"`
	FileName    string `json:"file_name,omitempty"`
}

// ChatServiceServer is the server API for ChatService.
type ChatServiceServer interface {
	Chat(context.Context, *message.ChatRequest) (*message.ChatResponse, error)
	ChatAudio(context.Context, *AudioRequest) (*message.ChatResponse, error)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ChatServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Chat", Handler: chatHandler},
		{MethodName: "ChatAudio", Handler: chatAudioHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "audipro/v1/chat.proto",
}

func chatHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(message.ChatRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).Chat(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/Chat"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).Chat(ctx, req.(*message.ChatRequest))
	})
}

func chatAudioHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(AudioRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ChatServiceServer).ChatAudio(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/ChatAudio"}
	return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
		return srv.(ChatServiceServer).ChatAudio(ctx, req.(*AudioRequest))
	})
}

// Transport implements transport.Transport over gRPC.
type Transport struct {
	port    int
	metrics *observe.Metrics

	mu     sync.Mutex
	server *grpc.Server
}

// New creates a new gRPC transport on the given port. metrics may be nil.
func New(port int, metrics *observe.Metrics) *Transport {
	return &Transport{port: port, metrics: metrics}
}

// Name returns the transport identifier.
func (t *Transport) Name() string { return "grpc" }

// Listen starts the gRPC server and routes incoming requests to the handler.
func (t *Transport) Listen(ctx context.Context, handler transport.Handler) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", t.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc transport listening", "port", t.port)
	return t.Serve(ctx, lis, handler)
}

// Serve runs the gRPC server on lis until the context is cancelled.
func (t *Transport) Serve(ctx context.Context, lis net.Listener, handler transport.Handler) error {
	srv := grpc.NewServer()
	srv.RegisterService(&serviceDesc, &service{transport: t, handler: handler})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	t.mu.Lock()
	t.server = srv
	t.mu.Unlock()

	go func() {
		<-ctx.Done()
		slog.Info("grpc transport shutting down")
		hs.Shutdown()
		srv.GracefulStop()
	}()

	if err := srv.Serve(lis); err != nil {
		return fmt.Errorf("grpc serve: %w", err)
	}
	return nil
}

// Close gracefully stops the gRPC server.
func (t *Transport) Close() error {
	t.mu.Lock()
	srv := t.server
	t.mu.Unlock()
	if srv != nil {
		srv.GracefulStop()
	}
	return nil
}

// service adapts the transport handler to ChatServiceServer.
type service struct {
	transport *Transport
	handler   transport.Handler
}

func (s *service) Chat(ctx context.Context, in *message.ChatRequest) (*message.ChatResponse, error) {
	return s.dispatch(ctx, &message.Message{Text: in.Message})
}

func (s *service) ChatAudio(ctx context.Context, in *AudioRequest) (*message.ChatResponse, error) {
	audio := in.Audio
	if audio == nil {
		audio = []byte{}
	}
	contentType := in.ContentType
	if contentType == "" {
		contentType = message.DefaultContentType
	}
	return s.dispatch(ctx, &message.Message{
		Audio:       audio,
		ContentType: contentType,
		FileName:    in.FileName,
	})
}

func (s *service) dispatch(ctx context.Context, msg *message.Message) (*message.ChatResponse, error) {
	resp, err := s.handler(ctx, msg)
	outcome := transport.Outcome(err)
	if s.transport.metrics != nil {
		s.transport.metrics.RecordRequest(ctx, s.transport.Name(), transport.Kind(msg), outcome)
	}

	switch outcome {
	case observe.StatusOK:
		return resp, nil
	case observe.StatusBadRequest:
		return nil, status.Error(codes.InvalidArgument, message.NoInputText)
	case observe.StatusUnsupported:
		return nil, status.Error(codes.Unimplemented, message.AudioUnsupportedText)
	default:
		slog.Error("grpc chat request failed", "message_id", msg.ID, "error", err)
		return nil, status.Error(codes.Unavailable, err.Error())
	}
}

// Client calls ChatService over an existing connection.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps conn.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Chat sends a typed message.
func (c *Client) Chat(ctx context.Context, text string) (string, error) {
	out := new(message.ChatResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/Chat", &message.ChatRequest{Message: text}, out,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return "", err
	}
	return out.Response, nil
}

// ChatAudio sends a recording.
func (c *Client) ChatAudio(ctx context.Context, p message.Payload) (string, error) {
	in := &AudioRequest{Audio: p.Data, ContentType: p.ContentType, FileName: p.FileName}
	out := new(message.ChatResponse)
	err := c.conn.Invoke(ctx, "/"+ServiceName+"/ChatAudio", in, out,
		grpc.CallContentSubtype(codecName))
	if err != nil {
		return "", err
	}
	return out.Response, nil
}
