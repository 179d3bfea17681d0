package broker

import (
	"net"
	"testing"

	"github.com/fortytw2/leaktest"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/relaymq/relaymq/internal/frames"
)

// TestDeliverMessageChunksBodyAtFrameMax pins the concrete large-body
// scenario: a 70000-byte body over a 4096-byte negotiated frame-max
// must arrive as ceil(70000/4096) = 18 content-body frames, each no
// larger than frameMax, with no byte lost or reordered.
func TestDeliverMessageChunksBodyAtFrameMax(t *testing.T) {
	defer leaktest.Check(t)()

	clientSide, serverSide := net.Pipe()
	defer clientSide.Close()
	defer serverSide.Close()

	c := &Connection{
		conn:     serverSide,
		stream:   frames.NewStream(serverSide),
		frameMax: 4096,
		channels: make(map[uint16]*channelState),
		logger:   zap.NewNop(),
	}
	cs := newChannelState()

	body := make([]byte, 70000)
	for i := range body {
		body[i] = byte(i)
	}
	msg := &Message{Exchange: "bulk", RoutingKey: "", Body: body}

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.deliverMessage(1, cs, "ctag-1", msg)
	}()

	peer := frames.NewStream(clientSide)

	f, err := peer.Next()
	require.NoError(t, err)
	deliver, ok := f.Method.(*frames.BasicDeliver)
	require.True(t, ok)
	require.Equal(t, "ctag-1", deliver.ConsumerTag)

	f, err = peer.Next()
	require.NoError(t, err)
	require.NotNil(t, f.Header)
	require.Equal(t, uint64(len(body)), f.Header.BodySize)

	var reassembled []byte
	bodyFrames := 0
	for len(reassembled) < len(body) {
		f, err = peer.Next()
		require.NoError(t, err)
		require.LessOrEqual(t, len(f.Body), 4096)
		reassembled = append(reassembled, f.Body...)
		bodyFrames++
	}

	require.Equal(t, 18, bodyFrames)
	require.Equal(t, body, reassembled)

	<-done
}
