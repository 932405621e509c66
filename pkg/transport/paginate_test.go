package transport

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/engine"
)

func TestFetchAll_ConcatenatesPages(t *testing.T) {
	pages := map[string]struct {
		items []int
		next  string
	}{
		"":   {[]int{1, 2}, "p2"},
		"p2": {[]int{3}, "p3"},
		"p3": {nil, "p4"},
		"p4": {[]int{4, 5}, ""},
	}
	var tokens []string

	items, err := FetchAll(context.Background(), func(_ context.Context, token string) ([]int, string, error) {
		tokens = append(tokens, token)
		p := pages[token]
		return p.items, p.next, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, items)
	assert.Equal(t, []string{"", "p2", "p3", "p4"}, tokens)
}

func TestFetchAll_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	_, err := FetchAll(context.Background(), func(_ context.Context, token string) ([]string, string, error) {
		if token == "" {
			return []string{"a"}, "next", nil
		}
		return nil, "", boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestFetchAllOrEmpty_NotFoundIsEmpty(t *testing.T) {
	items, err := FetchAllOrEmpty(context.Background(), func(context.Context, string) ([]string, string, error) {
		return nil, "", status.Error(codes.NotFound, "service orders not found")
	})
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFetchAll_StopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	_, err := FetchAll(ctx, func(context.Context, string) ([]int, string, error) {
		calls++
		if calls == 3 {
			cancel()
		}
		return []int{calls}, "again", nil
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 3, calls)
}

func TestClassify(t *testing.T) {
	tests := []struct {
		code  codes.Code
		check func(error) bool
	}{
		{codes.Unavailable, engine.IsTransient},
		{codes.ResourceExhausted, engine.IsTransient},
		{codes.FailedPrecondition, engine.IsRemoteRejection},
		{codes.InvalidArgument, engine.IsRemoteRejection},
		{codes.AlreadyExists, engine.IsRemoteRejection},
		{codes.PermissionDenied, engine.IsRemoteRejection},
		{codes.Internal, engine.IsPermanent},
		{codes.NotFound, engine.IsPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			err := Classify(status.Error(tt.code, "x"), "delete", "database_service/orders")
			assert.True(t, tt.check(err), "unexpected class for %v: %v", tt.code, err)
		})
	}

	assert.NoError(t, Classify(nil, "", ""))
	assert.True(t, IsNotFound(Classify(status.Error(codes.NotFound, "gone"), "get", "x")))
}

func TestIgnoreNotFound(t *testing.T) {
	assert.NoError(t, IgnoreNotFound(status.Error(codes.NotFound, "missing")))
	other := status.Error(codes.Internal, "boom")
	assert.Equal(t, other, IgnoreNotFound(other))
}
