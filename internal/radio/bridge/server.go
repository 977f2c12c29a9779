package bridge

import (
	"context"
	"errors"
	"net"
	"time"

	"bytemomo/whisper/internal/domain"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// Server serves a local radio to bridge clients.
type Server struct {
	Log   *logrus.Entry
	Radio domain.Radio
}

var _ radioService = (*Server)(nil)

// Register adds the radio service to g.
func (s *Server) Register(g *grpc.Server) {
	g.RegisterService(&serviceDesc, s)
}

// Serve runs a gRPC server on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	g := grpc.NewServer()
	s.Register(g)

	errCh := make(chan error, 1)
	go func() { errCh <- g.Serve(lis) }()
	s.Log.WithField("listen", lis.Addr().String()).Info("Radio bridge listening")

	select {
	case <-ctx.Done():
		g.GracefulStop()
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

func (s *Server) open(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	h, err := s.Radio.Open(ctx)
	if err != nil {
		s.Log.WithError(err).Warn("Bridge open failed")
		return nil, toStatus(err)
	}
	s.Log.WithField("handle", h).Debug("Bridge handle opened")
	return message(map[string]any{"handle": string(h)})
}

func (s *Server) connect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr, err := addressField(req)
	if err != nil {
		return nil, err
	}
	if err := s.Radio.Connect(ctx, handleOf(req), addr); err != nil {
		return nil, toStatus(err)
	}
	return message(nil)
}

func (s *Server) send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr, err := addressField(req)
	if err != nil {
		return nil, err
	}
	frame, err := bytesField(req, "frame")
	if err != nil {
		return nil, err
	}
	resp, err := s.Radio.Send(ctx, handleOf(req), addr, frame)
	if err != nil {
		return nil, toStatus(err)
	}
	return message(map[string]any{"response": encodeBytes(resp)})
}

func (s *Server) disconnect(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	addr, err := addressField(req)
	if err != nil {
		return nil, err
	}
	if err := s.Radio.Disconnect(handleOf(req), addr); err != nil {
		return nil, toStatus(err)
	}
	return message(nil)
}

func (s *Server) close(_ context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	if err := s.Radio.Close(handleOf(req)); err != nil {
		return nil, toStatus(err)
	}
	s.Log.WithField("handle", handleOf(req)).Debug("Bridge handle closed")
	return message(nil)
}

func (s *Server) advertisements(req *structpb.Struct, stream grpc.ServerStream) error {
	d := time.Duration(req.GetFields()["duration_ms"].GetNumberValue()) * time.Millisecond
	if d < 0 {
		return status.Error(codes.InvalidArgument, "negative duration")
	}

	ctx := stream.Context()
	ch, err := s.Radio.Advertisements(ctx, handleOf(req), d)
	if err != nil {
		return toStatus(err)
	}
	ready, err := message(map[string]any{"ready": true})
	if err != nil {
		return err
	}
	if err := stream.SendMsg(ready); err != nil {
		return err
	}
	for rec := range ch {
		msg, err := encodeRecord(rec)
		if err != nil {
			return err
		}
		if err := stream.SendMsg(msg); err != nil {
			return err
		}
	}
	return nil
}

func handleOf(req *structpb.Struct) domain.Handle {
	return domain.Handle(stringField(req, "handle"))
}
