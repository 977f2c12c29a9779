package bridge

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"bytemomo/whisper/internal/domain"

	"github.com/cenkalti/backoff"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"
)

// Client is a domain.Radio served by a remote bridge Server.
type Client struct {
	Log  *logrus.Entry
	conn grpc.ClientConnInterface

	// OpenTimeout bounds how long Open keeps retrying an unreachable bridge.
	OpenTimeout time.Duration

	closer io.Closer
}

var _ domain.Radio = (*Client)(nil)

// Dial prepares a client for the bridge at addr. The connection is made
// lazily by the first call.
func Dial(log *logrus.Entry, addr string, openTimeout time.Duration, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", addr, err)
	}
	c := NewClient(log, conn)
	c.OpenTimeout = openTimeout
	c.closer = conn
	return c, nil
}

// NewClient wraps an existing connection.
func NewClient(log *logrus.Entry, conn grpc.ClientConnInterface) *Client {
	return &Client{Log: log, conn: conn}
}

// Shutdown closes the underlying connection when the client owns it.
func (c *Client) Shutdown() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}

func (c *Client) invoke(ctx context.Context, method string, fields map[string]any) (*structpb.Struct, error) {
	req, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("bridge %s: %w", method, err)
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, fullMethod(method), req, resp); err != nil {
		return nil, fromStatus("bridge "+method, err)
	}
	return resp, nil
}

// Open retries while the bridge itself is unreachable, up to OpenTimeout.
// A bridge that answers but has no radio fails at once, as does any error
// when OpenTimeout is zero.
func (c *Client) Open(ctx context.Context) (domain.Handle, error) {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = 100 * time.Millisecond
	exp.MaxElapsedTime = c.OpenTimeout
	exp.Reset()
	bo := backoff.WithContext(exp, ctx)

	for {
		resp, err := c.invoke(ctx, methodOpen, nil)
		if err == nil {
			return domain.Handle(stringField(resp, "handle")), nil
		}
		if !errors.Is(err, errBridgeDown) || c.OpenTimeout <= 0 {
			return "", domain.Unavailable("bridge open", err)
		}

		wait := bo.NextBackOff()
		if wait == backoff.Stop {
			return "", domain.Unavailable("bridge open", err)
		}
		c.Log.WithError(err).WithField("retry_in", wait).Debug("Bridge not reachable")

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", domain.Unavailable("bridge open", ctx.Err())
		case <-timer.C:
		}
	}
}

func (c *Client) Advertisements(ctx context.Context, h domain.Handle, d time.Duration) (<-chan domain.RawPeerRecord, error) {
	req, err := structpb.NewStruct(map[string]any{
		"handle":      string(h),
		"duration_ms": float64(d / time.Millisecond),
	})
	if err != nil {
		return nil, err
	}

	stream, err := c.conn.NewStream(ctx, &serviceDesc.Streams[0], fullMethod(methodAdvertisements))
	if err != nil {
		return nil, fromStatus("bridge advertisements", err)
	}
	if err := stream.SendMsg(req); err != nil {
		return nil, fromStatus("bridge advertisements", err)
	}
	if err := stream.CloseSend(); err != nil {
		return nil, fromStatus("bridge advertisements", err)
	}

	// The server acknowledges once the remote radio accepted the request.
	ready := new(structpb.Struct)
	if err := stream.RecvMsg(ready); err != nil {
		return nil, fromStatus("bridge advertisements", err)
	}
	if !ready.GetFields()["ready"].GetBoolValue() {
		return nil, fmt.Errorf("bridge advertisements: missing ready message")
	}

	out := make(chan domain.RawPeerRecord, 64)
	go func() {
		defer close(out)
		for {
			msg := new(structpb.Struct)
			if err := stream.RecvMsg(msg); err != nil {
				if !errors.Is(err, io.EOF) && ctx.Err() == nil {
					c.Log.WithError(err).Warn("Bridge advertisement stream ended")
				}
				return
			}
			rec, err := decodeRecord(msg)
			if err != nil {
				c.Log.WithError(err).Debug("Dropping malformed bridge record")
				continue
			}
			select {
			case out <- rec:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

func (c *Client) Connect(ctx context.Context, h domain.Handle, addr net.HardwareAddr) error {
	_, err := c.invoke(ctx, methodConnect, map[string]any{"handle": string(h), "address": addr.String()})
	return err
}

func (c *Client) Send(ctx context.Context, h domain.Handle, addr net.HardwareAddr, frame []byte) ([]byte, error) {
	resp, err := c.invoke(ctx, methodSend, map[string]any{
		"handle":  string(h),
		"address": addr.String(),
		"frame":   encodeBytes(frame),
	})
	if err != nil {
		return nil, err
	}
	return bytesField(resp, "response")
}

func (c *Client) Disconnect(h domain.Handle, addr net.HardwareAddr) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.invoke(ctx, methodDisconnect, map[string]any{"handle": string(h), "address": addr.String()})
	return err
}

func (c *Client) Close(h domain.Handle) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := c.invoke(ctx, methodClose, map[string]any{"handle": string(h)})
	return err
}

func encodeBytes(b []byte) string { return base64.StdEncoding.EncodeToString(b) }
