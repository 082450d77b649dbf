package remote

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-gaze/internal/log"
	"github.com/teslashibe/go-gaze/pkg/camera"
	"github.com/teslashibe/go-gaze/pkg/gaze"
	"github.com/teslashibe/go-gaze/pkg/protocol"
)

// fakeEngine is a scripted remote engine.
type fakeEngine struct {
	t        *testing.T
	reject   *protocol.ErrorData
	points   []protocol.GazeData
	drop     int // connections closed right after ready
	mu       sync.Mutex
	conns    int
	received []protocol.MessageType
	begin    *protocol.BeginData
}

func (f *fakeEngine) handler(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()

	f.mu.Lock()
	f.conns++
	n := f.conns
	f.mu.Unlock()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := protocol.ParseMessage(data)
		if err != nil {
			continue
		}

		f.mu.Lock()
		f.received = append(f.received, msg.Type)
		f.mu.Unlock()

		switch msg.Type {
		case protocol.TypeBegin:
			b, _ := msg.GetBeginData()
			f.mu.Lock()
			f.begin = b
			f.mu.Unlock()

			if f.reject != nil {
				reply, _ := protocol.NewErrorMessage(f.reject.Code, f.reject.Message)
				writeMessage(conn, reply)
				return
			}
			ready, _ := protocol.NewReadyMessage("fake", "test")
			writeMessage(conn, ready)
			for _, p := range f.points {
				m, _ := protocol.NewGazeMessage(p.X, p.Y, p.Confidence, p.T)
				writeMessage(conn, m)
			}
			if n <= f.drop {
				return
			}
		case protocol.TypeEnd:
			return
		}
	}
}

func (f *fakeEngine) connections() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns
}

func (f *fakeEngine) got() []protocol.MessageType {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]protocol.MessageType(nil), f.received...)
}

func startFake(t *testing.T, f *fakeEngine) string {
	f.t = t
	srv := httptest.NewServer(http.HandlerFunc(f.handler))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestEngine_StreamsPoints(t *testing.T) {
	f := &fakeEngine{points: []protocol.GazeData{{X: 10, Y: 20, Confidence: 0.7, T: 1}, {X: 30, Y: 40, Confidence: 0.8, T: 2}}}
	url := startFake(t, f)

	e := New(url, log.Discard())
	e.SetCameraConstraints(camera.Constraints{Width: 1280, Height: 720, FrameRate: 30, Facing: camera.FacingUser})
	e.Params().Set(gaze.ParamModelBasePath, "models")

	var mu sync.Mutex
	var got []gaze.RawPoint
	e.SetGazeListener(func(p gaze.RawPoint) {
		mu.Lock()
		got = append(got, p)
		mu.Unlock()
	})

	require.NoError(t, e.Begin(context.Background()))
	assert.True(t, e.Connected())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Equal(t, 30.0, got[1].X)
	assert.Equal(t, gaze.SourceRemote, got[1].Source)
	assert.Equal(t, int64(2), got[1].TimestampMs)
	mu.Unlock()

	f.mu.Lock()
	require.NotNil(t, f.begin)
	assert.Equal(t, 1280, f.begin.Camera.Width)
	assert.Equal(t, "models", f.begin.Params[gaze.ParamModelBasePath])
	f.mu.Unlock()

	require.NoError(t, e.Pause())
	require.NoError(t, e.Resume())
	e.SetVideoViewerSize(320, 180)
	require.NoError(t, e.End())
	assert.False(t, e.Connected())

	require.Eventually(t, func() bool {
		types := f.got()
		return len(types) > 0 && types[len(types)-1] == protocol.TypeEnd
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []protocol.MessageType{
		protocol.TypeBegin, protocol.TypePause, protocol.TypeResume, protocol.TypeViewer, protocol.TypeEnd,
	}, f.got())
}

func TestEngine_BeginRejected(t *testing.T) {
	tests := []struct {
		code string
		want error
		st   gaze.Status
	}{
		{protocol.CodePermissionDenied, gaze.ErrPermissionDenied, gaze.StatusDenied},
		{protocol.CodeUnsupported, gaze.ErrUnsupported, gaze.StatusUnsupported},
		{protocol.CodeInternal, nil, gaze.StatusError},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			url := startFake(t, &fakeEngine{reject: &protocol.ErrorData{Code: tt.code, Message: "nope"}})

			e := New(url, log.Discard())
			err := e.Begin(context.Background())
			require.Error(t, err)
			if tt.want != nil {
				assert.True(t, errors.Is(err, tt.want), "got %v", err)
			}
			assert.Equal(t, tt.st, gaze.Classify(err))
			assert.False(t, e.Connected())
		})
	}
}

func TestEngine_NotConnected(t *testing.T) {
	e := New("ws://127.0.0.1:1/none", log.Discard())

	assert.ErrorIs(t, e.Pause(), ErrNotConnected)
	assert.NoError(t, e.End())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := e.Begin(ctx)
	require.Error(t, err)
	assert.Equal(t, gaze.StatusError, gaze.Classify(err))
}

func TestLoader(t *testing.T) {
	_, err := Loader("", log.Discard())(context.Background())
	assert.Error(t, err)

	e, err := Loader("ws://localhost:9000/engine", log.Discard())(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, e)
}

func TestEngine_WithLifecycle(t *testing.T) {
	url := startFake(t, &fakeEngine{points: []protocol.GazeData{{X: 5, Y: 6, Confidence: 1}}})

	cfg := gaze.DefaultConfig()
	cfg.GraceWindow = 10 * time.Millisecond
	lc := gaze.NewLifecycle(cfg, Loader(url, log.Discard()), nil, log.Discard())

	var seen sync.WaitGroup
	seen.Add(1)
	var once sync.Once
	cancel := lc.Subscribe(func(p gaze.RawPoint) { once.Do(seen.Done) })
	defer cancel()

	_, err := lc.Acquire(context.Background())
	require.NoError(t, err)
	seen.Wait()

	lc.Release()
	require.Eventually(t, func() bool { return !lc.Running() }, time.Second, 5*time.Millisecond)
}

func TestEngine_DetectsDroppedConnection(t *testing.T) {
	f := &fakeEngine{drop: 1}
	url := startFake(t, f)

	e := New(url, log.Discard())
	lost := make(chan error, 1)
	e.SetLossHandler(func(err error) { lost <- err })

	require.NoError(t, e.Begin(context.Background()))

	select {
	case err := <-lost:
		assert.Contains(t, err.Error(), "connection lost")
	case <-time.After(2 * time.Second):
		t.Fatal("dropped connection was not reported")
	}
	assert.False(t, e.Connected())
	assert.ErrorIs(t, e.Pause(), ErrNotConnected)

	// Begin dials again instead of trusting the dead connection.
	require.NoError(t, e.Begin(context.Background()))
	assert.True(t, e.Connected())
	assert.Equal(t, 2, f.connections())

	require.NoError(t, e.End())
	select {
	case err := <-lost:
		t.Fatalf("End reported as a loss: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEngine_LifecycleRestartsAfterDrop(t *testing.T) {
	f := &fakeEngine{drop: 1, points: []protocol.GazeData{{X: 5, Y: 6, Confidence: 1}}}
	url := startFake(t, f)

	cfg := gaze.DefaultConfig()
	cfg.GraceWindow = 10 * time.Millisecond
	lc := gaze.NewLifecycle(cfg, Loader(url, log.Discard()), nil, log.Discard())
	t.Cleanup(lc.Shutdown)

	_, err := lc.Acquire(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := lc.Stats()
		return st.Losses == 1 && st.Begins == 2 && st.Running
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.connections())
	assert.Equal(t, 1, lc.RefCount())
}
