package supervisor

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gidra39/modelselect/logging"
)

type fakeServer struct {
	started  chan struct{}
	stop     chan struct{}
	shutdown atomic.Int32
	failWith error
}

func newFakeServer() *fakeServer {
	return &fakeServer{started: make(chan struct{}, 1), stop: make(chan struct{})}
}

func (f *fakeServer) ListenAndServe() error {
	select {
	case f.started <- struct{}{}:
	default:
	}
	if f.failWith != nil {
		return f.failWith
	}
	<-f.stop
	return http.ErrServerClosed
}

func (f *fakeServer) Shutdown(context.Context) error {
	f.shutdown.Add(1)
	close(f.stop)
	return nil
}

func TestHTTPServiceShutsDownOnCancel(t *testing.T) {
	srv := newFakeServer()
	svc := NewHTTPService(srv, time.Second)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()
	<-srv.started
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("service did not stop")
	}
	assert.Equal(t, int32(1), srv.shutdown.Load())
	assert.Equal(t, "http-server", svc.String())
}

func TestHTTPServiceReportsListenFailure(t *testing.T) {
	srv := newFakeServer()
	srv.failWith = errors.New("address in use")
	err := NewHTTPService(srv, 0).Serve(context.Background())
	assert.ErrorContains(t, err, "address in use")
}

func TestTreeRunsRouterService(t *testing.T) {
	logger := logging.NewWatermillAdapter()
	pubsub := gochannel.NewGoChannel(gochannel.Config{Persistent: true}, logger)
	t.Cleanup(func() { _ = pubsub.Close() })

	var handled atomic.Int32
	built := make(chan *message.Router, 1)
	svc := NewRouterService(func() (*message.Router, error) {
		r, err := message.NewRouter(message.RouterConfig{CloseTimeout: time.Second}, logger)
		if err != nil {
			return nil, err
		}
		r.AddNoPublisherHandler("count", "tasks", pubsub, func(*message.Message) error {
			handled.Add(1)
			return nil
		})
		built <- r
		return r, nil
	})

	tree := NewTree(logging.NewSlogLogger(), TreeConfig{ShutdownTimeout: time.Second})
	tree.AddMessagingService(svc)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := tree.ServeBackground(ctx)

	router := <-built
	<-router.Running()
	require.NoError(t, pubsub.Publish("tasks", message.NewMessage("1", []byte("x"))))
	require.Eventually(t, func() bool { return handled.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-errCh:
	case <-time.After(5 * time.Second):
		t.Fatal("tree did not stop")
	}
}
