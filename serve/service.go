package serve

import (
	"context"
	"iter"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/registry"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "noderegistry.v1.NodeRegistry"

// NodeRegistryServer is the server API of the NodeRegistry service.
type NodeRegistryServer interface {
	AddNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateMetadata(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SetParent(context.Context, *structpb.Struct) (*structpb.Struct, error)
	DeleteNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNode(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNodeByName(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNodeByKey(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ListNodes(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetNodes(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryFunc func(NodeRegistryServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unary(method string, fn unaryFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return fn(srv.(NodeRegistryServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{
				Server:     srv,
				FullMethod: "/" + ServiceName + "/" + method,
			}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return fn(srv.(NodeRegistryServer), ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes the NodeRegistry service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*NodeRegistryServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("AddNode", NodeRegistryServer.AddNode),
		unary("SetNode", NodeRegistryServer.SetNode),
		unary("UpdateMetadata", NodeRegistryServer.UpdateMetadata),
		unary("SetParent", NodeRegistryServer.SetParent),
		unary("DeleteNode", NodeRegistryServer.DeleteNode),
		unary("GetNode", NodeRegistryServer.GetNode),
		unary("GetNodeByName", NodeRegistryServer.GetNodeByName),
		unary("GetNodeByKey", NodeRegistryServer.GetNodeByKey),
		unary("ListNodes", NodeRegistryServer.ListNodes),
		unary("GetNodes", NodeRegistryServer.GetNodes),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "noderegistry/v1/noderegistry",
}

// RegisterNodeRegistryServer registers srv on s.
func RegisterNodeRegistryServer(s grpc.ServiceRegistrar, srv NodeRegistryServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// nodeService exposes a Registry over gRPC.
type nodeService struct {
	reg *registry.Registry
}

// NewNodeService returns the NodeRegistry implementation backed by reg.
func NewNodeService(reg *registry.Registry) NodeRegistryServer {
	return &nodeService{reg: reg}
}

func (s *nodeService) AddNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req addNodeRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.reg.AddNode(ctx, req.Node); err != nil {
		return nil, toStatus(err)
	}
	return s.respondNode(ctx, req.Node.ID)
}

func (s *nodeService) SetNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req setNodeRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	err := s.reg.SetNode(ctx, req.ID, node.Update{
		Name:       req.Update.Name,
		Definition: req.Update.Definition,
		Metadata:   req.Update.Metadata,
		Tags:       req.Update.Tags,
		Keys:       req.Update.Keys,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return s.respondNode(ctx, req.ID)
}

func (s *nodeService) UpdateMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req updateMetadataRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.reg.UpdateMetadata(ctx, req.ID, req.Metadata, req.Delete...); err != nil {
		return nil, toStatus(err)
	}
	return s.respondNode(ctx, req.ID)
}

func (s *nodeService) SetParent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req setParentRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.reg.SetParent(ctx, req.ID, req.Parent); err != nil {
		return nil, toStatus(err)
	}
	return s.respondNode(ctx, req.ID)
}

func (s *nodeService) DeleteNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if err := s.reg.DeleteNode(ctx, req.ID); err != nil {
		return nil, toStatus(err)
	}
	return respond(struct{}{})
}

func (s *nodeService) GetNode(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req idRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.respondNode(ctx, req.ID)
}

func (s *nodeService) GetNodeByName(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req lookupRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	n, ok := s.reg.GetNodeByName(ctx, req.Name)
	return respond(lookupResponse{Found: ok, Node: n})
}

func (s *nodeService) GetNodeByKey(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req lookupRequest
	if err := decode(in, &req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	n, ok := s.reg.GetNodeByKey(ctx, req.Key)
	return respond(lookupResponse{Found: ok, Node: n})
}

func (s *nodeService) ListNodes(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	return respond(listResponse{IDs: s.reg.ListNodes(ctx)})
}

func (s *nodeService) GetNodes(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var f Filter
	if err := decode(in, &f); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	nodes := []*node.Node{}
	if f.Expr != "" {
		selected, err := s.reg.Select(ctx, f.Expr)
		if err != nil {
			return nil, toStatus(err)
		}
		for _, n := range selected {
			if f.matches(n) {
				nodes = append(nodes, n)
			}
		}
		return respond(nodesResponse{Nodes: nodes})
	}

	for n := range s.candidates(ctx, f) {
		if f.matches(n) {
			nodes = append(nodes, n)
		}
	}
	return respond(nodesResponse{Nodes: nodes})
}

// candidates picks the narrowest registry sequence for f.
func (s *nodeService) candidates(ctx context.Context, f Filter) iter.Seq[*node.Node] {
	switch {
	case f.Root:
		return s.reg.NodesWithParent(ctx, "")
	case f.Parent != "":
		return s.reg.NodesWithParent(ctx, f.Parent)
	case f.Type != "":
		return s.reg.NodesWithType(ctx, f.Type)
	case f.Tag != "":
		return s.reg.NodesWithTag(ctx, f.Tag)
	}
	return func(yield func(*node.Node) bool) {
		for _, n := range s.reg.GetNodes(ctx) {
			if !yield(n) {
				return
			}
		}
	}
}

func (f Filter) matches(n *node.Node) bool {
	switch {
	case f.Root && n.Parent != "":
		return false
	case !f.Root && f.Parent != "" && n.Parent != f.Parent:
		return false
	case f.Type != "" && n.Type != f.Type:
		return false
	case f.Tag != "" && !n.HasTag(f.Tag):
		return false
	}
	return true
}

func (s *nodeService) respondNode(ctx context.Context, id string) (*structpb.Struct, error) {
	n, err := s.reg.GetNode(ctx, id)
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(nodeResponse{Node: n})
}

func respond(v any) (*structpb.Struct, error) {
	out, err := encode(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
