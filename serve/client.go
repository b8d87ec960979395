package serve

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/zero-day-ai/noderegistry/node"
)

// Client is a NodeRegistry client. Errors returned by the server are
// converted back into *registry.Error values, so errors.Is works against
// the registry sentinels.
type Client struct {
	conn   grpc.ClientConnInterface
	closer func() error
}

// NewClient wraps an existing connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Dial connects to target. Without options the connection is insecure.
func Dial(target string, opts ...grpc.DialOption) (*Client, error) {
	if len(opts) == 0 {
		opts = []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	}

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return &Client{conn: conn, closer: conn.Close}, nil
}

// Close closes a connection opened by Dial.
func (c *Client) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer()
}

// AddNode inserts n and returns the stored record.
func (c *Client) AddNode(ctx context.Context, n *node.Node) (*node.Node, error) {
	var resp nodeResponse
	if err := c.call(ctx, "AddNode", addNodeRequest{Node: n}, &resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// SetNode applies a partial update and returns the updated record.
func (c *Client) SetNode(ctx context.Context, id string, u node.Update) (*node.Node, error) {
	req := setNodeRequest{
		ID: id,
		Update: updateMessage{
			Name:       u.Name,
			Definition: u.Definition,
			Metadata:   u.Metadata,
			Tags:       u.Tags,
			Keys:       u.Keys,
		},
	}

	var resp nodeResponse
	if err := c.call(ctx, "SetNode", req, &resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// UpdateMetadata merges extra into the node's metadata after removing
// deleteKeys.
func (c *Client) UpdateMetadata(ctx context.Context, id string, extra map[string]any, deleteKeys ...string) (*node.Node, error) {
	var resp nodeResponse
	req := updateMetadataRequest{ID: id, Metadata: extra, Delete: deleteKeys}
	if err := c.call(ctx, "UpdateMetadata", req, &resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// SetParent assigns or, with an empty parentID, clears the parent.
func (c *Client) SetParent(ctx context.Context, id, parentID string) (*node.Node, error) {
	var resp nodeResponse
	if err := c.call(ctx, "SetParent", setParentRequest{ID: id, Parent: parentID}, &resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// DeleteNode removes a node.
func (c *Client) DeleteNode(ctx context.Context, id string) error {
	return c.call(ctx, "DeleteNode", idRequest{ID: id}, nil)
}

// GetNode returns the node with id.
func (c *Client) GetNode(ctx context.Context, id string) (*node.Node, error) {
	var resp nodeResponse
	if err := c.call(ctx, "GetNode", idRequest{ID: id}, &resp); err != nil {
		return nil, err
	}
	return resp.Node, nil
}

// GetNodeByName looks a node up by name.
func (c *Client) GetNodeByName(ctx context.Context, name string) (*node.Node, bool, error) {
	var resp lookupResponse
	if err := c.call(ctx, "GetNodeByName", lookupRequest{Name: name}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Node, resp.Found, nil
}

// GetNodeByKey looks a node up by alternate key.
func (c *Client) GetNodeByKey(ctx context.Context, key string) (*node.Node, bool, error) {
	var resp lookupResponse
	if err := c.call(ctx, "GetNodeByKey", lookupRequest{Key: key}, &resp); err != nil {
		return nil, false, err
	}
	return resp.Node, resp.Found, nil
}

// ListNodes returns all node ids, sorted.
func (c *Client) ListNodes(ctx context.Context) ([]string, error) {
	var resp listResponse
	if err := c.call(ctx, "ListNodes", struct{}{}, &resp); err != nil {
		return nil, err
	}
	return resp.IDs, nil
}

// GetNodes returns the nodes matching f, sorted by id.
func (c *Client) GetNodes(ctx context.Context, f Filter) ([]*node.Node, error) {
	var resp nodesResponse
	if err := c.call(ctx, "GetNodes", f, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

func (c *Client) call(ctx context.Context, method string, req, resp any) error {
	in, err := encode(req)
	if err != nil {
		return err
	}

	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, "/"+ServiceName+"/"+method, in, out); err != nil {
		return fromStatus(err)
	}

	if resp == nil {
		return nil
	}
	return decode(out, resp)
}
