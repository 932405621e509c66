package prompt

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/converge/pkg/engine"
)

func newTestTerminal(input io.Reader, out *bytes.Buffer) *Terminal {
	return NewTerminal(
		WithInput(input),
		WithOutput(out),
		WithTerminalCheck(func() bool { return true }),
	)
}

func TestTerminal_Answers(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"sure\n", false},
		{"y", true},
		{"", false},
	}

	p := engine.Prompt{Title: "2 resource(s) will be deleted", Body: "TYPE  NAME\nDB    orders\n", Question: "Delete these resources?"}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			var out bytes.Buffer
			got, err := newTestTerminal(strings.NewReader(tt.input), &out).Confirm(context.Background(), p)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTerminal_RendersPrompt(t *testing.T) {
	var out bytes.Buffer
	p := engine.Prompt{Title: "1 resource(s) are owned by another application", Body: "orders (blog)\n", Question: `Transfer ownership of these resources to "shop"?`}

	_, err := newTestTerminal(strings.NewReader("n\n"), &out).Confirm(context.Background(), p)
	require.NoError(t, err)

	got := out.String()
	assert.Contains(t, got, p.Title)
	assert.Contains(t, got, "orders (blog)")
	assert.True(t, strings.HasSuffix(got, `Transfer ownership of these resources to "shop"? [y/N]: `), got)
}

func TestTerminal_NotATerminal(t *testing.T) {
	var out bytes.Buffer
	c := NewTerminal(WithInput(strings.NewReader("y\n")), WithOutput(&out))

	ok, err := c.Confirm(context.Background(), engine.Prompt{Title: "Adopt", Question: "Adopt?"})
	require.Error(t, err)
	assert.False(t, ok)
	assert.True(t, engine.IsValidation(err))
	assert.Contains(t, err.Error(), "--yes")
	assert.Empty(t, out.String())
}

func TestTerminal_ContextCancelled(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	ok, err := newTestTerminal(pr, &out).Confirm(ctx, engine.Prompt{Title: "t", Question: "q"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, ok)
}

func TestTerminal_GateIntegration(t *testing.T) {
	var out bytes.Buffer
	report := &engine.Report{
		Application: "shop",
		Conflicts:   []engine.OwnerConflict{{ResourceType: "database_service", ResourceName: "orders", CurrentOwner: "blog"}},
	}

	gate := engine.NewGate(newTestTerminal(strings.NewReader("n\n"), &out), false, zerolog.Nop())
	err := gate.Check(context.Background(), report)
	assert.ErrorIs(t, err, engine.ErrCancelled)
	assert.Contains(t, out.String(), "owned by another application")
}

func TestTerminal_SuccessivePromptsShareInput(t *testing.T) {
	var out bytes.Buffer
	c := newTestTerminal(strings.NewReader("y\nn\n"), &out)

	first, err := c.Confirm(context.Background(), engine.Prompt{Title: "first", Question: "q1"})
	require.NoError(t, err)
	second, err := c.Confirm(context.Background(), engine.Prompt{Title: "second", Question: "q2"})
	require.NoError(t, err)

	assert.True(t, first)
	assert.False(t, second)
}

func TestTerminal_GateAsksEveryQuestion(t *testing.T) {
	report := &engine.Report{
		Application: "shop",
		Conflicts:   []engine.OwnerConflict{{ResourceType: "database_service", ResourceName: "orders", CurrentOwner: "blog"}},
		Adoptions:   []engine.UnmanagedResource{{ResourceType: "auth_service", ResourceName: "login"}},
		Rows: []engine.ChangeRow{{
			Kind: "database", ResourceType: "database_type", Namespace: "orders", Name: "Order",
			Operation: engine.OperationDelete, Important: true,
		}},
	}

	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{name: "all accepted", input: "y\ny\ny\n"},
		{name: "last declined", input: "y\nyes\nn\n", wantErr: engine.ErrCancelled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			gate := engine.NewGate(newTestTerminal(strings.NewReader(tt.input), &out), false, zerolog.Nop())

			err := gate.Check(context.Background(), report)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}

			got := out.String()
			assert.Contains(t, got, "owned by another application")
			assert.Contains(t, got, "not managed by any application")
			assert.Contains(t, got, "will be deleted and their data lost")
		})
	}
}
