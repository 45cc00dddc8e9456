package transport

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oracle/coherence-sub061/internal/collector"
	"github.com/oracle/coherence-sub061/internal/protocol"
)

type recorder struct {
	mu       sync.Mutex
	messages []*protocol.Message
	got      chan struct{}
}

func newRecorder() *recorder {
	return &recorder{got: make(chan struct{}, 16)}
}

func (r *recorder) handle(_ *Channel, m *protocol.Message) {
	r.mu.Lock()
	r.messages = append(r.messages, m)
	r.mu.Unlock()
	r.got <- struct{}{}
}

func (r *recorder) wait(t *testing.T) {
	t.Helper()
	select {
	case <-r.got:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a message")
	}
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestChannel_SendReachesServerHandler(t *testing.T) {
	rec := newRecorder()
	server := NewServer(rec.handle, nil)
	connected := make(chan *Channel, 1)
	server.OnConnect(func(ch *Channel) { connected <- ch })
	srv := httptest.NewServer(server)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), "runner-a", nil, nil)
	require.NoError(t, err)
	defer ch.Close()

	peer := <-connected
	assert.Equal(t, "runner-a", peer.Name())

	result := collector.NewTestResult()
	result.IncSuccessCount(3)
	require.NoError(t, ch.Send(protocol.NewResult(4, "runner-a", result)))

	rec.wait(t)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.messages, 1)
	assert.Equal(t, protocol.KindTestResult, rec.messages[0].Kind)
	assert.Equal(t, int64(3), rec.messages[0].Result.Result.SuccessCount())
}

func TestChannel_RequestIsCorrelated(t *testing.T) {
	// The dialing side answers load requests with the cache name length.
	answer := func(ch *Channel, m *protocol.Message) {
		resp, err := protocol.NewResponse(m.ID, len(m.Job.CacheName))
		if assert.NoError(t, err) {
			assert.NoError(t, ch.Reply(resp))
		}
	}
	server := NewServer(nil, nil)
	peers := make(chan *Channel, 1)
	server.OnConnect(func(ch *Channel) { peers <- ch })
	srv := httptest.NewServer(server)
	defer srv.Close()

	client, err := Dial(context.Background(), wsURL(srv), "r", answer, nil)
	require.NoError(t, err)
	defer client.Close()
	peer := <-peers

	factory := protocol.NewFactory()
	var wg sync.WaitGroup
	for _, name := range []string{"a", "bb", "ccc"} {
		name := name
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := factory.NewRequest(protocol.KindLoadRequest, &protocol.JobParams{CacheName: name})
			if !assert.NoError(t, err) {
				return
			}
			resp, err := peer.Request(context.Background(), m)
			if !assert.NoError(t, err) {
				return
			}
			var n int
			assert.NoError(t, resp.Decode(&n))
			assert.Equal(t, len(name), n)
		}()
	}
	wg.Wait()
}

func TestChannel_RequestWithoutID(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, nil))
	defer srv.Close()
	ch, err := Dial(context.Background(), wsURL(srv), "", nil, nil)
	require.NoError(t, err)
	defer ch.Close()

	_, err = ch.Request(context.Background(), &protocol.Message{Kind: protocol.KindLoadRequest, Job: &protocol.JobParams{}})
	assert.Error(t, err)
	assert.NotEmpty(t, ch.Name(), "unnamed channels are named by id")
	assert.Equal(t, ch.ID(), ch.Name())
}

func TestChannel_RequestTimesOut(t *testing.T) {
	srv := httptest.NewServer(NewServer(nil, nil))
	defer srv.Close()
	ch, err := Dial(context.Background(), wsURL(srv), "", nil, nil)
	require.NoError(t, err)
	defer ch.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = ch.Request(ctx, protocol.NewFactory().NewSampleRequest(1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannel_CloseFailsPendingAndNotifiesServer(t *testing.T) {
	server := NewServer(nil, nil)
	gone := make(chan *Channel, 1)
	server.OnDisconnect(func(ch *Channel) { gone <- ch })
	srv := httptest.NewServer(server)
	defer srv.Close()

	ch, err := Dial(context.Background(), wsURL(srv), "leaving", nil, nil)
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := ch.Request(context.Background(), protocol.NewFactory().NewSampleRequest(1))
		errs <- err
	}()
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, ch.Close())

	assert.ErrorIs(t, <-errs, ErrClosed)
	assert.ErrorIs(t, ch.Send(protocol.NewFactory().NewSampleRequest(2)), ErrClosed)

	select {
	case peer := <-gone:
		assert.Equal(t, "leaving", peer.Name())
	case <-time.After(2 * time.Second):
		t.Fatal("server did not observe the disconnect")
	}
}

func TestDial_Unreachable(t *testing.T) {
	_, err := Dial(context.Background(), "ws://127.0.0.1:1/", "", nil, nil)
	assert.Error(t, err)
}
