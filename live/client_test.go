package live

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"blive-greeting/directory"
	"blive-greeting/domain"
	"blive-greeting/hub"
	"blive-greeting/metrics"
	"blive-greeting/protocol"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type relayScript func(t *testing.T, conn *websocket.Conn)

func newRelay(t *testing.T, script relayScript) (host string, port uint16) {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !assert.Equal(t, "/sub", r.URL.Path) {
			http.NotFound(w, r)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if !assert.NoError(t, err) {
			return
		}
		defer conn.Close()
		script(t, conn)
	}))
	t.Cleanup(srv.Close)

	u, err := url.Parse(srv.URL)
	require.NoError(t, err)
	h, p, err := net.SplitHostPort(u.Host)
	require.NoError(t, err)
	n, err := strconv.Atoi(p)
	require.NoError(t, err)
	return h, uint16(n)
}

type fakeResolver struct {
	info *domain.RoomInfo
	err  error
}

func (f *fakeResolver) ResolveRoom(ctx context.Context, roomID uint32, creds domain.Credentials) (*domain.RoomInfo, error) {
	return f.info, f.err
}

func resolverFor(host string, port uint16) *fakeResolver {
	return &fakeResolver{info: &domain.RoomInfo{
		Token:    "relay-token",
		HostList: []domain.RelayHost{{Host: host, Port: port, WSSPort: port, WSPort: port}},
	}}
}

type recordingHandler struct {
	got []domain.Notification
	err error
	mu  sync.Mutex
}

func (r *recordingHandler) React(ctx context.Context, roomID uint32, n domain.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	return r.err
}

func (r *recordingHandler) notifications() []domain.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Notification(nil), r.got...)
}

var testCreds = domain.Credentials{"DedeUserID": "10086", "buvid3": "BUVID", "bili_jct": "csrf"}

func frame(version uint16, op uint32, body string) []byte {
	f := &protocol.Frame{Version: version, Operation: op, Sequence: 1, Body: []byte(body)}
	return f.Encode()
}

func concat(frames ...[]byte) []byte {
	var out []byte
	for _, f := range frames {
		out = append(out, f...)
	}
	return out
}

// expectAuth reads the first client frame and checks it is a valid auth request.
func expectAuth(t *testing.T, conn *websocket.Conn) bool {
	mt, data, err := conn.ReadMessage()
	if !assert.NoError(t, err) {
		return false
	}
	assert.Equal(t, websocket.BinaryMessage, mt)
	if !assert.GreaterOrEqual(t, len(data), protocol.HeaderLength) {
		return false
	}
	assert.Equal(t, protocol.OpAuth, binary.BigEndian.Uint32(data[8:12]))

	var body map[string]any
	if !assert.NoError(t, json.Unmarshal(data[protocol.HeaderLength:], &body)) {
		return false
	}
	assert.Equal(t, float64(10086), body["uid"])
	assert.Equal(t, float64(4588774), body["roomid"])
	assert.Equal(t, float64(3), body["protover"])
	assert.Equal(t, "BUVID", body["buvid"])
	assert.Equal(t, "web", body["platform"])
	assert.Equal(t, float64(2), body["type"])
	assert.Equal(t, "relay-token", body["key"])
	return true
}

func closeNormally(conn *websocket.Conn) {
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	conn.SetReadDeadline(time.Now().Add(time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func TestConnectAndRun_AuthThenLive(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		msg := concat(
			frame(protocol.VersionPlain, protocol.OpAuthAck, `{"code":0}`),
			frame(protocol.VersionJSON, protocol.OpMessage, `{"cmd":"LIVE"}`),
		)
		conn.WriteMessage(websocket.BinaryMessage, msg)
		closeNormally(conn)
	})

	reg := prometheus.NewRegistry()
	h := hub.New()
	handler := &recordingHandler{}
	client := NewClient(resolverFor(host, port),
		WithScheme("ws"),
		WithRegistry(h),
		WithMetrics(metrics.New(reg)),
	)

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, handler)
	require.NoError(t, err)

	got := handler.notifications()
	require.Len(t, got, 2)
	assert.Equal(t, domain.NotifyAuth, got[0].Kind)
	assert.Equal(t, domain.NotifyEvent, got[1].Kind)
	assert.Equal(t, domain.EventLive, got[1].Event.Kind)

	rooms, conns := h.Stats()
	assert.Zero(t, rooms)
	assert.Zero(t, conns)
}

func TestConnectAndRun_Heartbeat(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		_, data, err := conn.ReadMessage()
		if !assert.NoError(t, err) {
			return
		}
		assert.Equal(t, protocol.BuildHeartbeatFrame(), data)

		conn.WriteMessage(websocket.BinaryMessage, frame(protocol.VersionPlain, protocol.OpHeartbeatAck, "\x00\x00\x00\x01"))
		closeNormally(conn)
	})

	handler := &recordingHandler{}
	client := NewClient(resolverFor(host, port), WithScheme("ws"), WithHeartbeatInterval(20*time.Millisecond))

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, handler)
	require.NoError(t, err)

	got := handler.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, domain.NotifyHeartbeat, got[0].Kind)
}

func TestConnectAndRun_AuthRejected(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		msg := concat(
			frame(protocol.VersionPlain, protocol.OpAuthAck, `{"code":-101}`),
			frame(protocol.VersionJSON, protocol.OpMessage, `{"cmd":"LIVE"}`),
		)
		conn.WriteMessage(websocket.BinaryMessage, msg)
		conn.SetReadDeadline(time.Now().Add(time.Second))
		conn.ReadMessage()
	})

	handler := &recordingHandler{}
	client := NewClient(resolverFor(host, port), WithScheme("ws"))

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, handler)
	assert.ErrorIs(t, err, protocol.ErrAuthRejected)
	assert.Empty(t, handler.notifications())
}

func TestConnectAndRun_RecoverableReplies(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		msg := concat(
			frame(protocol.VersionPlain, protocol.OpHeartbeatAck, "\x01\x02\x03\x04"),
			frame(protocol.VersionJSON, protocol.OpMessage, `{"cmd":"DANMU_MSG","info":[]}`),
			frame(protocol.VersionJSON, protocol.OpMessage, `{"cmd":"PREPARING"}`),
		)
		conn.WriteMessage(websocket.BinaryMessage, msg)
		closeNormally(conn)
	})

	handler := &recordingHandler{}
	client := NewClient(resolverFor(host, port), WithScheme("ws"))

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, handler)
	require.NoError(t, err)

	got := handler.notifications()
	require.Len(t, got, 1)
	assert.Equal(t, domain.EventPreparing, got[0].Event.Kind)
}

func TestConnectAndRun_DecodeErrorIsFatal(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, []byte{0, 0, 1})
		conn.SetReadDeadline(time.Now().Add(time.Second))
		conn.ReadMessage()
	})

	client := NewClient(resolverFor(host, port), WithScheme("ws"))

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, &recordingHandler{})
	assert.ErrorIs(t, err, protocol.ErrInvalidLength)
}

func TestConnectAndRun_HandlerAbort(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, frame(protocol.VersionJSON, protocol.OpMessage, `{"cmd":"LIVE"}`))
		conn.SetReadDeadline(time.Now().Add(time.Second))
		conn.ReadMessage()
	})

	stop := errors.New("stop")
	client := NewClient(resolverFor(host, port), WithScheme("ws"))

	err := client.ConnectAndRun(context.Background(), testCreds, 4588774, &recordingHandler{err: stop})
	assert.ErrorIs(t, err, stop)
}

func TestConnectAndRun_ContextCanceled(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		expectAuth(t, conn)
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})

	h := hub.New()
	handler := domain.HandlerFunc(func(ctx context.Context, roomID uint32, n domain.Notification) error { return nil })
	client := NewClient(resolverFor(host, port), WithScheme("ws"), WithRegistry(h))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- client.ConnectAndRun(ctx, testCreds, 4588774, handler) }()

	require.Eventually(t, func() bool {
		rooms, _ := h.Stats()
		return rooms == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []uint32{4588774}, h.Rooms())

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("ConnectAndRun did not return after cancel")
	}
}

func TestConnectAndRun_ResolutionFailures(t *testing.T) {
	lookupErr := errors.New("lookup failed")

	tests := []struct {
		name     string
		resolver *fakeResolver
		creds    domain.Credentials
		wantErr  error
	}{
		{
			name:     "resolver error",
			resolver: &fakeResolver{err: lookupErr},
			creds:    testCreds,
			wantErr:  lookupErr,
		},
		{
			name:     "no relay host",
			resolver: &fakeResolver{info: &domain.RoomInfo{Token: "t"}},
			creds:    testCreds,
			wantErr:  directory.ErrNoRelayHost,
		},
		{
			name:     "missing uid",
			resolver: resolverFor("127.0.0.1", 1),
			creds:    domain.Credentials{"buvid3": "x"},
			wantErr:  domain.ErrMissingUID,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := NewClient(tt.resolver, WithScheme("ws"))
			err := client.ConnectAndRun(context.Background(), tt.creds, 1, &recordingHandler{})
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestConnectAndRun_DialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := uint16(ln.Addr().(*net.TCPAddr).Port)
	ln.Close()

	client := NewClient(resolverFor("127.0.0.1", port), WithScheme("ws"))
	err = client.ConnectAndRun(context.Background(), testCreds, 1, &recordingHandler{})
	assert.ErrorContains(t, err, "dial")
}

func newRecordingProvider(t *testing.T) (*sdktrace.TracerProvider, *tracetest.SpanRecorder) {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	t.Cleanup(func() { tp.Shutdown(context.Background()) })
	return tp, rec
}

func spanAttr(span sdktrace.ReadOnlySpan, key attribute.Key) (attribute.Value, bool) {
	for _, kv := range span.Attributes() {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return attribute.Value{}, false
}

func TestConnectAndRun_Span(t *testing.T) {
	host, port := newRelay(t, func(t *testing.T, conn *websocket.Conn) {
		if !expectAuth(t, conn) {
			return
		}
		conn.WriteMessage(websocket.BinaryMessage, frame(protocol.VersionPlain, protocol.OpAuthAck, `{"code":0}`))
		closeNormally(conn)
	})

	tp, rec := newRecordingProvider(t)
	client := NewClient(resolverFor(host, port), WithScheme("ws"), WithTracerProvider(tp))
	require.NoError(t, client.ConnectAndRun(context.Background(), testCreds, 4588774, &recordingHandler{}))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "live.ConnectAndRun", spans[0].Name())
	assert.Equal(t, codes.Unset, spans[0].Status().Code)

	room, ok := spanAttr(spans[0], "room.id")
	require.True(t, ok)
	assert.Equal(t, int64(4588774), room.AsInt64())

	relay, ok := spanAttr(spans[0], "relay.url")
	require.True(t, ok)
	assert.Equal(t, RelayURL("ws", host, port), relay.AsString())
}

func TestConnectAndRun_SpanRecordsError(t *testing.T) {
	tp, rec := newRecordingProvider(t)
	client := NewClient(&fakeResolver{err: errors.New("lookup failed")}, WithTracerProvider(tp))

	err := client.ConnectAndRun(context.Background(), testCreds, 1, &recordingHandler{})
	require.Error(t, err)

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, codes.Error, spans[0].Status().Code)
	assert.Contains(t, spans[0].Status().Description, "lookup failed")
	require.NotEmpty(t, spans[0].Events())
	assert.Equal(t, "exception", spans[0].Events()[0].Name)
}

func TestRelayURL(t *testing.T) {
	assert.Equal(t, "wss://broadcastlv.chat.bilibili.com:443/sub", RelayURL("wss", "broadcastlv.chat.bilibili.com", 443))
	assert.Equal(t, "ws://[::1]:2244/sub", RelayURL("ws", "::1", 2244))
}
