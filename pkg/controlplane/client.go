package controlplane

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/transport"
)

// Client is the typed control-plane client. Errors it returns are classified
// engine errors (see transport.Classify).
type Client struct {
	cc        grpc.ClientConnInterface
	workspace string
	pageSize  int
}

// NewClient creates a client bound to one workspace.
func NewClient(cc grpc.ClientConnInterface, workspace string) *Client {
	return &Client{cc: cc, workspace: workspace}
}

// WithPageSize returns a copy of c requesting pages of n resources.
func (c *Client) WithPageSize(n int) *Client {
	cp := *c
	cp.pageSize = n
	return &cp
}

// Workspace returns the workspace the client is bound to.
func (c *Client) Workspace() string {
	return c.workspace
}

func (c *Client) invoke(ctx context.Context, op string, kind, resource string, in, out any) error {
	var method string
	switch op {
	case MethodGetMetadata, MethodSetMetadata:
		method = op
	default:
		info, ok := Lookup(kind)
		if !ok {
			return transport.Classify(status.Errorf(codes.Unimplemented, "unknown kind %q", kind), op, resource)
		}
		method = MethodName(op, info)
	}
	err := c.cc.Invoke(ctx, FullMethod(method), in, out, grpc.CallContentSubtype(CodecName))
	return transport.Classify(err, op, resource)
}

// Create creates r and returns the stored resource.
func (c *Client) Create(ctx context.Context, r Resource) (*Resource, error) {
	out := new(Resource)
	req := &WriteRequest{Workspace: c.workspace, Resource: r}
	if err := c.invoke(ctx, OpCreate, r.Kind, ref(r.Kind, r.Namespace, r.Name), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Update replaces r and returns the stored resource.
func (c *Client) Update(ctx context.Context, r Resource) (*Resource, error) {
	out := new(Resource)
	req := &WriteRequest{Workspace: c.workspace, Resource: r}
	if err := c.invoke(ctx, OpUpdate, r.Kind, ref(r.Kind, r.Namespace, r.Name), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// Delete deletes a resource.
func (c *Client) Delete(ctx context.Context, kind, namespace, name string) error {
	req := &ResourceRequest{Workspace: c.workspace, Namespace: namespace, Name: name}
	return c.invoke(ctx, OpDelete, kind, ref(kind, namespace, name), req, new(Empty))
}

// Get returns a resource.
func (c *Client) Get(ctx context.Context, kind, namespace, name string) (*Resource, error) {
	out := new(Resource)
	req := &ResourceRequest{Workspace: c.workspace, Namespace: namespace, Name: name}
	if err := c.invoke(ctx, OpGet, kind, ref(kind, namespace, name), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPage returns one page of resources and the next page token.
func (c *Client) ListPage(ctx context.Context, kind, namespace, token string) ([]Resource, string, error) {
	out := new(ListResponse)
	req := &ListRequest{Workspace: c.workspace, Namespace: namespace, PageToken: token, PageSize: c.pageSize}
	if err := c.invoke(ctx, OpList, kind, ref(kind, namespace, ""), req, out); err != nil {
		return nil, "", err
	}
	return out.Resources, out.NextPageToken, nil
}

// List drains every page of kind in namespace. A missing parent service is
// reported as an empty list.
func (c *Client) List(ctx context.Context, kind, namespace string) ([]Resource, error) {
	return transport.FetchAllOrEmpty(ctx, func(ctx context.Context, token string) ([]Resource, string, error) {
		return c.ListPage(ctx, kind, namespace, token)
	})
}

// GetLabels implements engine.LabelStore over the metadata RPCs.
func (c *Client) GetLabels(ctx context.Context, trn string) (map[string]string, error) {
	out := new(Metadata)
	if err := c.invoke(ctx, MethodGetMetadata, "", trn, &MetadataRequest{TRN: trn}, out); err != nil {
		return nil, err
	}
	return out.Labels, nil
}

// SetLabels implements engine.LabelStore over the metadata RPCs.
func (c *Client) SetLabels(ctx context.Context, trn string, labels map[string]string) error {
	return c.invoke(ctx, MethodSetMetadata, "", trn, &SetMetadataRequest{TRN: trn, Labels: labels}, new(Empty))
}

func ref(kind, namespace, name string) string {
	switch {
	case namespace == "":
		return fmt.Sprintf("%s/%s", kind, name)
	case name == "":
		return fmt.Sprintf("%s/%s", kind, namespace)
	default:
		return fmt.Sprintf("%s/%s/%s", kind, namespace, name)
	}
}
