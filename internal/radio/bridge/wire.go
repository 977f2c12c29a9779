// Package bridge exposes a domain.Radio over gRPC so the radio can live in a
// separate, privileged process. Messages are google.protobuf.Struct values;
// no generated code is involved.
package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"time"

	"bytemomo/whisper/internal/domain"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const serviceName = "whisper.radio.v1.Radio"

var errBridgeDown = errors.New("radio bridge unreachable")

const (
	methodOpen           = "Open"
	methodAdvertisements = "Advertisements"
	methodConnect        = "Connect"
	methodSend           = "Send"
	methodDisconnect     = "Disconnect"
	methodClose          = "Close"
)

func fullMethod(name string) string { return "/" + serviceName + "/" + name }

// radioService is the handler type checked by grpc.Server.RegisterService.
type radioService interface {
	open(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	connect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	send(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	disconnect(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	close(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	advertisements(req *structpb.Struct, stream grpc.ServerStream) error
}

func unary(name string, call func(radioService, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			svc := srv.(radioService)
			if interceptor == nil {
				return call(svc, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(svc, ctx, req.(*structpb.Struct))
			})
		},
	}
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*radioService)(nil),
	Methods: []grpc.MethodDesc{
		unary(methodOpen, radioService.open),
		unary(methodConnect, radioService.connect),
		unary(methodSend, radioService.send),
		unary(methodDisconnect, radioService.disconnect),
		unary(methodClose, radioService.close),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName: methodAdvertisements,
			Handler: func(srv any, stream grpc.ServerStream) error {
				in := new(structpb.Struct)
				if err := stream.RecvMsg(in); err != nil {
					return err
				}
				return srv.(radioService).advertisements(in, stream)
			},
			ServerStreams: true,
		},
	},
	Metadata: "whisper/radio/v1/radio.proto",
}

func message(fields map[string]any) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode message: %v", err)
	}
	return s, nil
}

func stringField(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

func bytesField(s *structpb.Struct, key string) ([]byte, error) {
	raw := stringField(s, key)
	if raw == "" {
		return nil, nil
	}
	b, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "%s: %v", key, err)
	}
	return b, nil
}

func addressField(s *structpb.Struct) (net.HardwareAddr, error) {
	addr, err := domain.ParseAddress(stringField(s, "address"))
	if err != nil {
		return nil, status.Errorf(codes.InvalidArgument, "address: %v", err)
	}
	return addr, nil
}

func encodeRecord(rec domain.RawPeerRecord) (*structpb.Struct, error) {
	return message(map[string]any{
		"address": rec.Address.String(),
		"name":    rec.Name,
		"rssi":    float64(rec.RSSI),
		"payload": base64.StdEncoding.EncodeToString(rec.Payload),
		"seen_at": rec.SeenAt.UTC().Format(time.RFC3339Nano),
	})
}

func decodeRecord(s *structpb.Struct) (domain.RawPeerRecord, error) {
	addr, err := addressField(s)
	if err != nil {
		return domain.RawPeerRecord{}, err
	}
	payload, err := bytesField(s, "payload")
	if err != nil {
		return domain.RawPeerRecord{}, err
	}
	seen, err := time.Parse(time.RFC3339Nano, stringField(s, "seen_at"))
	if err != nil {
		seen = time.Now()
	}
	return domain.RawPeerRecord{
		Address: addr,
		Name:    stringField(s, "name"),
		RSSI:    int(s.GetFields()["rssi"].GetNumberValue()),
		Payload: payload,
		SeenAt:  seen,
	}, nil
}

// toStatus maps radio errors onto status codes for the wire.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	switch {
	case errors.Is(err, domain.ErrCapabilityUnavailable):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrPeerUnreachable):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// fromStatus turns a status back into the radio error it stands for.
func fromStatus(op string, err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("%s: %w", op, err)
	}
	switch st.Code() {
	case codes.FailedPrecondition:
		return domain.E(op, st.Message(), domain.ErrCapabilityUnavailable)
	case codes.NotFound:
		return domain.E(op, st.Message(), domain.ErrPeerUnreachable)
	case codes.DeadlineExceeded:
		return domain.E(op, st.Message(), context.DeadlineExceeded)
	case codes.Canceled:
		return domain.E(op, st.Message(), context.Canceled)
	case codes.Unavailable:
		return domain.E(op, st.Message(), errBridgeDown)
	}
	return domain.E(op, st.Code().String(), errors.New(st.Message()))
}
