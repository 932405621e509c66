// Package controlplanetest runs an in-process control plane for tests.
package controlplanetest

import (
	"context"
	"net"
	"sync"
	"testing"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/transport"
)

const bufSize = 1 << 20

// Env is an in-process control plane and a client connected to it.
type Env struct {
	Store  *controlplane.MemoryStore
	Server *controlplane.Server
	Conn   *grpc.ClientConn
	Calls  *CallLog
}

// Options customize the environment.
type Options struct {
	// ServerInterceptors run before the recording interceptor.
	ServerInterceptors []grpc.UnaryServerInterceptor

	// ServerOptions configure the reference server.
	ServerOptions []controlplane.ServerOption

	// Retry enables the client retry interceptor.
	Retry *transport.RetryPolicy
}

// New starts a server over a fresh memory store. It is stopped on test cleanup.
func New(t testing.TB, opts Options) *Env {
	t.Helper()

	store := controlplane.NewMemoryStore()
	srv := controlplane.NewServer(store, opts.ServerOptions...)
	calls := &CallLog{}

	lis := bufconn.Listen(bufSize)
	interceptors := append(append([]grpc.UnaryServerInterceptor(nil), opts.ServerInterceptors...), calls.interceptor())
	gs := grpc.NewServer(grpc.ChainUnaryInterceptor(interceptors...))
	controlplane.RegisterControlPlaneServer(gs, srv)
	go func() { _ = gs.Serve(lis) }()

	cfg := controlplane.DialConfig{
		Endpoint: "passthrough:///bufnet",
		Insecure: true,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
	if opts.Retry != nil {
		cfg.Retry = *opts.Retry
	}
	conn, err := controlplane.Dial(cfg)
	if err != nil {
		t.Fatalf("dial in-process control plane: %v", err)
	}

	t.Cleanup(func() {
		_ = conn.Close()
		gs.Stop()
		_ = lis.Close()
	})

	return &Env{Store: store, Server: srv, Conn: conn, Calls: calls}
}

// Client returns a typed client bound to workspace.
func (e *Env) Client(workspace string) *controlplane.Client {
	return controlplane.NewClient(e.Conn, workspace)
}

// Call is one completed server call.
type Call struct {
	Method string
	Err    error
}

// CallLog records completed server calls in completion order.
type CallLog struct {
	mu    sync.Mutex
	calls []Call
}

func (l *CallLog) interceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		resp, err := handler(ctx, req)
		l.mu.Lock()
		l.calls = append(l.calls, Call{Method: controlplane.ShortMethod(info.FullMethod), Err: err})
		l.mu.Unlock()
		return resp, err
	}
}

// Calls returns a copy of the recorded calls.
func (l *CallLog) Calls() []Call {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Call(nil), l.calls...)
}

// Index returns the position of the first completed call to method, or -1.
func (l *CallLog) Index(method string) int {
	for i, c := range l.Calls() {
		if c.Method == method {
			return i
		}
	}
	return -1
}

// Count returns how many calls to method completed.
func (l *CallLog) Count(method string) int {
	n := 0
	for _, c := range l.Calls() {
		if c.Method == method {
			n++
		}
	}
	return n
}

// Mutations returns the methods of completed calls that change state.
func (l *CallLog) Mutations() []string {
	var out []string
	for _, c := range l.Calls() {
		if !controlplane.IsReadOnly(controlplane.FullMethod(c.Method)) {
			out = append(out, c.Method)
		}
	}
	return out
}

// Reset clears the log.
func (l *CallLog) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = nil
}
