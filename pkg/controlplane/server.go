package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/openfroyo/converge/pkg/engine"
)

// DefaultPageSize is the page size used when a list request does not set one.
const DefaultPageSize = 100

// DefaultSiteHost is the domain static website URLs are assigned under.
const DefaultSiteHost = "sites.converge.local"

// Server is a reference control plane over a Store. It enforces the
// referential rules of the hosted service:
//
//   - sub-resources require their parent service
//   - applications may only reference existing services
//   - a service referenced by an application cannot be deleted
//   - executors and workflows require an application in the workspace
//   - the last application cannot be deleted while executors or workflows remain
//
// Deleting a service removes its sub-resources. Deleting any resource removes
// its metadata.
type Server struct {
	store    Store
	logger   zerolog.Logger
	pageSize int
	siteHost string

	// mu serializes writes so referential checks see a stable state.
	mu sync.RWMutex
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithServerLogger sets the server logger.
func WithServerLogger(l zerolog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// WithPageSize sets the default list page size.
func WithPageSize(n int) ServerOption {
	return func(s *Server) { s.pageSize = n }
}

// WithSiteHost sets the domain static website URLs are assigned under.
func WithSiteHost(host string) ServerOption {
	return func(s *Server) { s.siteHost = host }
}

// NewServer creates a control-plane server backed by store.
func NewServer(store Store, opts ...ServerOption) *Server {
	s := &Server{
		store:    store,
		logger:   zerolog.Nop(),
		pageSize: DefaultPageSize,
		siteHost: DefaultSiteHost,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With().Str("component", "controlplane").Logger()
	return s
}

func (s *Server) Create(ctx context.Context, kind string, req *WriteRequest) (*Resource, error) {
	info, r, err := s.prepareWrite(kind, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkWrite(ctx, req.Workspace, info, r); err != nil {
		return nil, err
	}
	if info.NeedsApplication {
		apps, err := s.store.List(ctx, req.Workspace, KindApplication, "")
		if err != nil {
			return nil, storeError(err, kind, r.Name)
		}
		if len(apps) == 0 {
			return nil, status.Errorf(codes.FailedPrecondition,
				"%s %q requires an application in workspace %q", kind, r.Name, req.Workspace)
		}
	}

	now := time.Now().UTC()
	r.CreatedAt, r.UpdatedAt = now, now
	if kind == KindStaticWebsite {
		r.URL = fmt.Sprintf("https://%s--%s.%s", r.Name, req.Workspace, s.siteHost)
	}
	if err := s.store.Create(ctx, req.Workspace, r); err != nil {
		return nil, storeError(err, kind, r.Name)
	}

	s.logger.Debug().Str("kind", kind).Str("namespace", r.Namespace).Str("name", r.Name).Msg("Resource created")
	return r, nil
}

func (s *Server) Update(ctx context.Context, kind string, req *WriteRequest) (*Resource, error) {
	info, r, err := s.prepareWrite(kind, req)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.store.Get(ctx, req.Workspace, kind, r.Namespace, r.Name)
	if err != nil {
		return nil, storeError(err, kind, r.Name)
	}
	if err := s.checkWrite(ctx, req.Workspace, info, r); err != nil {
		return nil, err
	}

	r.CreatedAt = current.CreatedAt
	r.UpdatedAt = time.Now().UTC()
	r.URL = current.URL
	if err := s.store.Update(ctx, req.Workspace, r); err != nil {
		return nil, storeError(err, kind, r.Name)
	}

	s.logger.Debug().Str("kind", kind).Str("namespace", r.Namespace).Str("name", r.Name).Msg("Resource updated")
	return r, nil
}

func (s *Server) Delete(ctx context.Context, kind string, req *ResourceRequest) (*Empty, error) {
	info, ok := Lookup(kind)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown kind %q", kind)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.store.Get(ctx, req.Workspace, kind, req.Namespace, req.Name); err != nil {
		return nil, storeError(err, kind, req.Name)
	}

	if info.Referenceable {
		apps, err := s.store.List(ctx, req.Workspace, KindApplication, "")
		if err != nil {
			return nil, storeError(err, KindApplication, "")
		}
		for _, app := range apps {
			var spec ApplicationSpec
			if err := json.Unmarshal(app.Spec, &spec); err != nil {
				continue
			}
			if spec.References(kind, req.Name) {
				return nil, status.Errorf(codes.FailedPrecondition,
					"%s %q is still referenced by application %q", kind, req.Name, app.Name)
			}
		}
	}

	if kind == KindApplication {
		if err := s.checkLastApplication(ctx, req.Workspace); err != nil {
			return nil, err
		}
	}

	for _, child := range Children(kind) {
		items, err := s.store.List(ctx, req.Workspace, child, req.Name)
		if err != nil {
			return nil, storeError(err, child, "")
		}
		for _, item := range items {
			if err := s.deleteOne(ctx, req.Workspace, child, req.Name, item.Name); err != nil {
				return nil, err
			}
		}
	}

	if err := s.deleteOne(ctx, req.Workspace, kind, req.Namespace, req.Name); err != nil {
		return nil, err
	}
	s.logger.Debug().Str("kind", kind).Str("namespace", req.Namespace).Str("name", req.Name).Msg("Resource deleted")
	return &Empty{}, nil
}

func (s *Server) Get(ctx context.Context, kind string, req *ResourceRequest) (*Resource, error) {
	if _, ok := Lookup(kind); !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown kind %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	r, err := s.store.Get(ctx, req.Workspace, kind, req.Namespace, req.Name)
	if err != nil {
		return nil, storeError(err, kind, req.Name)
	}
	return r, nil
}

func (s *Server) List(ctx context.Context, kind string, req *ListRequest) (*ListResponse, error) {
	info, ok := Lookup(kind)
	if !ok {
		return nil, status.Errorf(codes.Unimplemented, "unknown kind %q", kind)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if info.Parent != "" {
		if _, err := s.store.Get(ctx, req.Workspace, info.Parent, "", req.Namespace); err != nil {
			return nil, storeError(err, info.Parent, req.Namespace)
		}
	}

	all, err := s.store.List(ctx, req.Workspace, kind, req.Namespace)
	if err != nil {
		return nil, storeError(err, kind, "")
	}

	offset := 0
	if req.PageToken != "" {
		offset, err = strconv.Atoi(req.PageToken)
		if err != nil || offset < 0 || offset > len(all) {
			return nil, status.Errorf(codes.InvalidArgument, "invalid page token %q", req.PageToken)
		}
	}
	size := req.PageSize
	if size <= 0 {
		size = s.pageSize
	}

	end := min(offset+size, len(all))
	resp := &ListResponse{Resources: all[offset:end]}
	if end < len(all) {
		resp.NextPageToken = strconv.Itoa(end)
	}
	return resp, nil
}

func (s *Server) GetMetadata(ctx context.Context, req *MetadataRequest) (*Metadata, error) {
	if req.TRN == "" {
		return nil, status.Error(codes.InvalidArgument, "trn is required")
	}
	labels, err := s.store.GetMetadata(ctx, req.TRN)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "failed to read metadata: %v", err)
	}
	return &Metadata{TRN: req.TRN, Labels: labels}, nil
}

func (s *Server) SetMetadata(ctx context.Context, req *SetMetadataRequest) (*Empty, error) {
	if req.TRN == "" {
		return nil, status.Error(codes.InvalidArgument, "trn is required")
	}
	labels := req.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	if err := s.store.SetMetadata(ctx, req.TRN, labels); err != nil {
		return nil, status.Errorf(codes.Internal, "failed to write metadata: %v", err)
	}
	return &Empty{}, nil
}

func (s *Server) prepareWrite(kind string, req *WriteRequest) (KindInfo, *Resource, error) {
	info, ok := Lookup(kind)
	if !ok {
		return KindInfo{}, nil, status.Errorf(codes.Unimplemented, "unknown kind %q", kind)
	}
	if req.Workspace == "" {
		return info, nil, status.Error(codes.InvalidArgument, "workspace is required")
	}
	r := req.Resource
	r.Kind = kind
	if r.Name == "" {
		return info, nil, status.Errorf(codes.InvalidArgument, "%s name is required", kind)
	}
	if info.Parent != "" && r.Namespace == "" {
		return info, nil, status.Errorf(codes.InvalidArgument, "%s %q requires a parent %s", kind, r.Name, info.Parent)
	}
	if info.Parent == "" && r.Namespace != "" {
		return info, nil, status.Errorf(codes.InvalidArgument, "%s %q cannot be namespaced", kind, r.Name)
	}
	if len(r.Spec) > 0 && !json.Valid(r.Spec) {
		return info, nil, status.Errorf(codes.InvalidArgument, "%s %q has an invalid spec", kind, r.Name)
	}
	return info, &r, nil
}

// checkWrite validates references of a create or update. Callers hold mu.
func (s *Server) checkWrite(ctx context.Context, workspace string, info KindInfo, r *Resource) error {
	if info.Parent != "" {
		if _, err := s.store.Get(ctx, workspace, info.Parent, "", r.Namespace); err != nil {
			if errors.Is(err, ErrNotFound) {
				return status.Errorf(codes.FailedPrecondition,
					"%s %q requires %s %q", info.Kind, r.Name, info.Parent, r.Namespace)
			}
			return storeError(err, info.Parent, r.Namespace)
		}
	}

	if info.Kind == KindApplication {
		var spec ApplicationSpec
		if len(r.Spec) > 0 {
			if err := json.Unmarshal(r.Spec, &spec); err != nil {
				return status.Errorf(codes.InvalidArgument, "invalid application spec: %v", err)
			}
		}
		for _, ref := range spec.Services {
			target, ok := Lookup(ref.Kind)
			if !ok || !target.Referenceable {
				return status.Errorf(codes.InvalidArgument, "application cannot reference kind %q", ref.Kind)
			}
			if _, err := s.store.Get(ctx, workspace, ref.Kind, "", ref.Name); err != nil {
				if errors.Is(err, ErrNotFound) {
					return status.Errorf(codes.FailedPrecondition,
						"application %q references missing %s %q", r.Name, ref.Kind, ref.Name)
				}
				return storeError(err, ref.Kind, ref.Name)
			}
		}
	}
	return nil
}

// checkLastApplication refuses to delete the only application while
// resources that need one remain. Callers hold mu.
func (s *Server) checkLastApplication(ctx context.Context, workspace string) error {
	apps, err := s.store.List(ctx, workspace, KindApplication, "")
	if err != nil {
		return storeError(err, KindApplication, "")
	}
	if len(apps) > 1 {
		return nil
	}
	for _, info := range kindTable {
		if !info.NeedsApplication {
			continue
		}
		items, err := s.store.List(ctx, workspace, info.Kind, "")
		if err != nil {
			return storeError(err, info.Kind, "")
		}
		if len(items) > 0 {
			return status.Errorf(codes.FailedPrecondition,
				"application is still required by %s %q", info.Kind, items[0].Name)
		}
	}
	return nil
}

func (s *Server) deleteOne(ctx context.Context, workspace, kind, namespace, name string) error {
	if err := s.store.Delete(ctx, workspace, kind, namespace, name); err != nil {
		return storeError(err, kind, name)
	}
	id := engine.ResourceIdentity{Kind: kind, Namespace: namespace, Name: name}
	if err := s.store.SetMetadata(ctx, id.TRN(workspace), nil); err != nil {
		s.logger.Warn().Err(err).Str("trn", id.TRN(workspace)).Msg("Failed to drop metadata of deleted resource")
	}
	return nil
}

func storeError(err error, kind, name string) error {
	switch {
	case errors.Is(err, ErrNotFound):
		return status.Errorf(codes.NotFound, "%s %q not found", kind, name)
	case errors.Is(err, ErrAlreadyExists):
		return status.Errorf(codes.AlreadyExists, "%s %q already exists", kind, name)
	default:
		return status.Errorf(codes.Internal, "%s %q: %v", kind, name, err)
	}
}
