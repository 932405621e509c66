package controlplane_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/controlplane"
	"github.com/openfroyo/converge/pkg/controlplane/controlplanetest"
	"github.com/openfroyo/converge/pkg/engine"
	"github.com/openfroyo/converge/pkg/transport"
)

func appSpec(t *testing.T, refs ...controlplane.ServiceRef) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(controlplane.ApplicationSpec{Services: refs})
	require.NoError(t, err)
	return b
}

func TestServer_CreateGetList(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{ServerOptions: []controlplane.ServerOption{controlplane.WithPageSize(2)}})
	c := env.Client("ws")

	for _, name := range []string{"c", "a", "b", "e", "d"} {
		_, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseService, Name: name, Spec: json.RawMessage(`{}`)})
		require.NoError(t, err)
	}

	got, err := c.Get(ctx, controlplane.KindDatabaseService, "", "a")
	require.NoError(t, err)
	assert.Equal(t, "a", got.Name)
	assert.False(t, got.CreatedAt.IsZero())

	all, err := c.List(ctx, controlplane.KindDatabaseService, "")
	require.NoError(t, err)
	names := make([]string, 0, len(all))
	for _, r := range all {
		names = append(names, r.Name)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, names)
	assert.Equal(t, 3, env.Calls.Count("ListDatabaseServices"))
}

func TestServer_ErrorsAreClassified(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})
	c := env.Client("ws")

	_, err := c.Get(ctx, controlplane.KindAuthService, "", "missing")
	assert.True(t, transport.IsNotFound(err))

	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindAuthService, Name: "x"})
	require.NoError(t, err)
	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindAuthService, Name: "x"})
	assert.True(t, engine.IsRemoteRejection(err))
}

func TestServer_SubResourcesRequireParent(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})
	c := env.Client("ws")

	_, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseType, Namespace: "orders", Name: "Order"})
	assert.True(t, engine.IsRemoteRejection(err), "got %v", err)

	// Listing children of a missing parent is reported as empty by the client.
	items, err := c.List(ctx, controlplane.KindDatabaseType, "orders")
	require.NoError(t, err)
	assert.Empty(t, items)
	_, _, err = c.ListPage(ctx, controlplane.KindDatabaseType, "orders", "")
	assert.True(t, transport.IsNotFound(err))

	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseService, Name: "orders"})
	require.NoError(t, err)
	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseType, Namespace: "orders", Name: "Order"})
	require.NoError(t, err)

	// Deleting the service cascades to its types and their metadata.
	id := engine.ResourceIdentity{Kind: controlplane.KindDatabaseType, Namespace: "orders", Name: "Order"}
	require.NoError(t, c.SetLabels(ctx, id.TRN("ws"), map[string]string{engine.OwnerLabelKey: "shop"}))
	require.NoError(t, c.Delete(ctx, controlplane.KindDatabaseService, "", "orders"))

	labels, err := c.GetLabels(ctx, id.TRN("ws"))
	require.NoError(t, err)
	assert.Empty(t, labels)
	_, err = env.Store.Get(ctx, "ws", controlplane.KindDatabaseType, "orders", "Order")
	assert.ErrorIs(t, err, controlplane.ErrNotFound)
}

func TestServer_ReferencedServiceCannotBeDeleted(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})
	c := env.Client("ws")

	_, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindApplication, Name: "shop",
		Spec: appSpec(t, controlplane.ServiceRef{Kind: controlplane.KindDatabaseService, Name: "orders"})})
	assert.True(t, engine.IsRemoteRejection(err), "application referencing a missing service: %v", err)

	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindDatabaseService, Name: "orders"})
	require.NoError(t, err)
	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindApplication, Name: "shop",
		Spec: appSpec(t, controlplane.ServiceRef{Kind: controlplane.KindDatabaseService, Name: "orders"})})
	require.NoError(t, err)

	err = c.Delete(ctx, controlplane.KindDatabaseService, "", "orders")
	require.Error(t, err)
	assert.True(t, engine.IsRemoteRejection(err))
	assert.Contains(t, err.Error(), "still referenced")

	require.NoError(t, c.Delete(ctx, controlplane.KindApplication, "", "shop"))
	require.NoError(t, c.Delete(ctx, controlplane.KindDatabaseService, "", "orders"))
}

func TestServer_DependentsRequireApplication(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})
	c := env.Client("ws")

	_, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindExecutor, Name: "cron"})
	assert.True(t, engine.IsRemoteRejection(err))

	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindApplication, Name: "shop"})
	require.NoError(t, err)
	_, err = c.Create(ctx, controlplane.Resource{Kind: controlplane.KindExecutor, Name: "cron"})
	require.NoError(t, err)

	err = c.Delete(ctx, controlplane.KindApplication, "", "shop")
	assert.True(t, engine.IsRemoteRejection(err))
}

func TestServer_StaticWebsiteURL(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})
	c := env.Client("ws")

	site, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindStaticWebsite, Name: "web"})
	require.NoError(t, err)
	assert.Equal(t, "https://web--ws.sites.converge.local", site.URL)

	updated, err := c.Update(ctx, controlplane.Resource{Kind: controlplane.KindStaticWebsite, Name: "web", Spec: json.RawMessage(`{"index":"a.html"}`)})
	require.NoError(t, err)
	assert.Equal(t, site.URL, updated.URL)
}

func TestServer_WorkspacesAreIsolated(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{})

	_, err := env.Client("a").Create(ctx, controlplane.Resource{Kind: controlplane.KindIdPService, Name: "idp"})
	require.NoError(t, err)

	items, err := env.Client("b").List(ctx, controlplane.KindIdPService, "")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestClient_RetriesUnavailable(t *testing.T) {
	ctx := context.Background()
	var failures atomic.Int32
	failures.Store(2)
	flaky := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if failures.Add(-1) >= 0 {
			return nil, status.Error(codes.Unavailable, "try again")
		}
		return handler(ctx, req)
	}

	policy := transport.DefaultRetryPolicy(controlplane.IsRetrySafe)
	policy.BaseDelay = time.Millisecond
	env := controlplanetest.New(t, controlplanetest.Options{
		ServerInterceptors: []grpc.UnaryServerInterceptor{flaky},
		Retry:              &policy,
	})

	_, err := env.Client("ws").Create(ctx, controlplane.Resource{Kind: controlplane.KindPipelineService, Name: "p"})
	require.NoError(t, err)
	assert.Equal(t, 1, env.Calls.Count("CreatePipelineService"))
}

func TestClient_InternalOnCreateNotRetried(t *testing.T) {
	ctx := context.Background()
	var attempts atomic.Int32
	broken := func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		attempts.Add(1)
		return nil, status.Error(codes.Internal, "boom")
	}

	policy := transport.DefaultRetryPolicy(controlplane.IsRetrySafe)
	policy.BaseDelay = time.Millisecond
	env := controlplanetest.New(t, controlplanetest.Options{
		ServerInterceptors: []grpc.UnaryServerInterceptor{broken},
		Retry:              &policy,
	})
	c := env.Client("ws")

	_, err := c.Create(ctx, controlplane.Resource{Kind: controlplane.KindPipelineService, Name: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(1), attempts.Load())

	attempts.Store(0)
	_, err = c.Update(ctx, controlplane.Resource{Kind: controlplane.KindPipelineService, Name: "p"})
	require.Error(t, err)
	assert.Equal(t, int32(3), attempts.Load())
}

func TestMethodTable(t *testing.T) {
	tests := []struct {
		method string
		want   controlplane.IdempotencyLevel
	}{
		{"CreateDatabaseService", controlplane.IdempotencyUnknown},
		{"UpdateDatabaseService", controlplane.Idempotent},
		{"DeleteExecutor", controlplane.Idempotent},
		{"GetStaticWebsite", controlplane.NoSideEffects},
		{"ListPipelineResolvers", controlplane.NoSideEffects},
		{"GetMetadata", controlplane.NoSideEffects},
		{"SetMetadata", controlplane.Idempotent},
		{"Unknown", controlplane.IdempotencyUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.method, func(t *testing.T) {
			assert.Equal(t, tt.want, controlplane.Idempotency(controlplane.FullMethod(tt.method)))
		})
	}
	assert.Len(t, controlplane.ServiceDesc.Methods, len(controlplane.Kinds())*5+2)
}

func TestTokenAuth(t *testing.T) {
	ctx := context.Background()
	env := controlplanetest.New(t, controlplanetest.Options{
		ServerInterceptors: []grpc.UnaryServerInterceptor{controlplane.TokenAuthInterceptor("secret")},
	})

	_, err := env.Client("ws").Get(ctx, controlplane.KindApplication, "", "x")
	require.Error(t, err)
	assert.True(t, engine.IsRemoteRejection(err))
}
