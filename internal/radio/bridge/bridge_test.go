package bridge

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"bytemomo/whisper/internal/domain"
	"bytemomo/whisper/internal/radio/sim"
	"bytemomo/whisper/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

func startBridge(t *testing.T, radio domain.Radio) *Client {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	g := grpc.NewServer()
	(&Server{Log: testutil.Logger(), Radio: radio}).Register(g)
	go func() { _ = g.Serve(lis) }()
	t.Cleanup(g.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewClient(testutil.Logger(), conn)
}

func simRadio(t *testing.T, fx sim.Fixture) *sim.Radio {
	t.Helper()
	r, err := sim.New(fx)
	require.NoError(t, err)
	return r
}

func TestBridge_OpenUnavailable(t *testing.T) {
	c := startBridge(t, simRadio(t, sim.Fixture{Unavailable: true}))

	_, err := c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapabilityUnavailable))
}

func TestBridge_Advertisements(t *testing.T) {
	c := startBridge(t, simRadio(t, sim.Fixture{Peers: []sim.Peer{
		{Address: "aa:bb:cc:00:00:01", Name: "buds", RSSI: -42, Advertisement: domain.HexBytes{0x02, 0x01, 0x06}, Interval: 10 * time.Millisecond},
	}}))

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	assert.NotEmpty(t, h)

	ch, err := c.Advertisements(context.Background(), h, 60*time.Millisecond)
	require.NoError(t, err)

	var recs []domain.RawPeerRecord
	for rec := range ch {
		recs = append(recs, rec)
	}
	require.NotEmpty(t, recs)
	assert.Equal(t, "aa:bb:cc:00:00:01", recs[0].Address.String())
	assert.Equal(t, "buds", recs[0].Name)
	assert.Equal(t, -42, recs[0].RSSI)
	assert.Equal(t, []byte{0x02, 0x01, 0x06}, recs[0].Payload)
	assert.False(t, recs[0].SeenAt.IsZero())
}

func TestBridge_AdvertisementsUnknownHandle(t *testing.T) {
	c := startBridge(t, simRadio(t, sim.Fixture{}))

	_, err := c.Advertisements(context.Background(), "nope", time.Second)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapabilityUnavailable))
}

func TestBridge_Exchange(t *testing.T) {
	radio := simRadio(t, sim.Fixture{Peers: []sim.Peer{
		{Address: "aa:bb:cc:00:00:01", Replies: []sim.Reply{{Respond: domain.HexBytes{0x01, 0x02}}}},
		{Address: "aa:bb:cc:00:00:02", Unreachable: true},
	}})
	c := startBridge(t, radio)

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	addr := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}

	require.NoError(t, c.Connect(context.Background(), h, addr))
	resp, err := c.Send(context.Background(), h, addr, []byte{0x00, 0xff})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, resp)
	assert.Equal(t, [][]byte{{0x00, 0xff}}, radio.Sent(addr))

	err = c.Connect(context.Background(), h, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 2})
	assert.True(t, errors.Is(err, domain.ErrPeerUnreachable))

	require.NoError(t, c.Disconnect(h, addr))
	require.NoError(t, c.Close(h))
}

func TestBridge_SilentPeerDeadline(t *testing.T) {
	c := startBridge(t, simRadio(t, sim.Fixture{Peers: []sim.Peer{{Address: "aa:bb:cc:00:00:01"}}}))

	h, err := c.Open(context.Background())
	require.NoError(t, err)
	addr := net.HardwareAddr{0xaa, 0xbb, 0xcc, 0, 0, 1}
	require.NoError(t, c.Connect(context.Background(), h, addr))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Send(ctx, h, addr, []byte{0x00})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestBridge_OpenRetriesUntilTimeout(t *testing.T) {
	lis := bufconn.Listen(1 << 10)
	require.NoError(t, lis.Close())

	c, err := Dial(testutil.Logger(), "passthrough:///down", 300*time.Millisecond,
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	)
	require.NoError(t, err)
	defer c.Shutdown()

	start := time.Now()
	_, err = c.Open(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrCapabilityUnavailable))
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{name: "capability", err: domain.Unavailable("open", errors.New("no adapter")), want: domain.ErrCapabilityUnavailable},
		{name: "unreachable", err: domain.ErrPeerUnreachable, want: domain.ErrPeerUnreachable},
		{name: "deadline", err: context.DeadlineExceeded, want: context.DeadlineExceeded},
		{name: "cancel", err: context.Canceled, want: context.Canceled},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := fromStatus("op", toStatus(tc.err))
			assert.True(t, errors.Is(got, tc.want), "got %v", got)
		})
	}
	assert.Nil(t, toStatus(nil))
	assert.Nil(t, fromStatus("op", nil))
}
