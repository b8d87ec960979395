package main

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/zero-day-ai/noderegistry/node"
	"github.com/zero-day-ai/noderegistry/serve"
)

func newNodeCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Manage nodes of a running registry",
		Long: `Manage nodes of a running registry over gRPC.

The daemon address defaults to localhost:50051 and can be set with --addr
or NODEREGISTRY_ADDR. Results are printed as YAML.`,
	}
	cmd.PersistentFlags().String("addr", "", "registry address (host:port)")
	_ = a.v.BindPFlag("addr", cmd.PersistentFlags().Lookup("addr"))

	cmd.AddCommand(
		newNodeAddCmd(a),
		newNodeGetCmd(a),
		newNodeListCmd(a),
		newNodeSetCmd(a),
		newNodeMetaCmd(a),
		newNodeParentCmd(a),
		newNodeDeleteCmd(a),
	)
	return cmd
}

// withClient dials the daemon for the duration of fn.
func (a *app) withClient(fn func(*serve.Client) error) error {
	client, err := serve.Dial(a.v.GetString("addr"))
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func newNodeAddCmd(a *app) *cobra.Command {
	var (
		id, name, typ, parent string
		definition, metadata  string
		tags, keys            []string
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a node",
		Long: `Add a node. Without --id a random id is assigned.

Examples:
  noderegistry node add --name web-1 --type vm --key 10.0.0.5 --tag prod
  noderegistry node add --name host-a --type host --definition '{cpus: 64}'
  noderegistry node add --name web-2 --type vm --parent <host-id>`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			n := &node.Node{ID: id, Name: name, Type: typ, Tags: tags, Keys: keys}
			if n.ID == "" {
				n.ID = node.NewID()
			}

			var err error
			if n.Definition, err = parseDocument("definition", definition); err != nil {
				return err
			}
			if n.Metadata, err = parseDocument("metadata", metadata); err != nil {
				return err
			}

			return a.withClient(func(c *serve.Client) error {
				added, err := c.AddNode(cmd.Context(), n)
				if err != nil {
					return err
				}
				if parent != "" {
					if added, err = c.SetParent(cmd.Context(), added.ID, parent); err != nil {
						return fmt.Errorf("node %s added but parent not set: %w", n.ID, err)
					}
				}
				return printYAML(a.out, added)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&id, "id", "", "node id (default: random)")
	flags.StringVar(&name, "name", "", "unique node name")
	flags.StringVar(&typ, "type", "", "node type, e.g. vm or host")
	flags.StringVar(&parent, "parent", "", "parent node id")
	flags.StringVar(&definition, "definition", "", "definition as a YAML or JSON mapping")
	flags.StringVar(&metadata, "metadata", "", "metadata as a YAML or JSON mapping")
	flags.StringSliceVarP(&tags, "tag", "t", nil, "tag (repeatable)")
	flags.StringSliceVarP(&keys, "key", "k", nil, "unique lookup key (repeatable)")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func newNodeGetCmd(a *app) *cobra.Command {
	var byName, byKey bool

	cmd := &cobra.Command{
		Use:   "get <id|name|key>",
		Short: "Show a node",
		Long: `Show a node by id, or by name or key with --name / --key.

Examples:
  noderegistry node get 3f6c...
  noderegistry node get --name web-1
  noderegistry node get --key 10.0.0.5`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if byName && byKey {
				return errors.New("--name and --key are mutually exclusive")
			}

			return a.withClient(func(c *serve.Client) error {
				var (
					n     *node.Node
					found = true
					err   error
				)
				switch {
				case byName:
					n, found, err = c.GetNodeByName(cmd.Context(), args[0])
				case byKey:
					n, found, err = c.GetNodeByKey(cmd.Context(), args[0])
				default:
					n, err = c.GetNode(cmd.Context(), args[0])
				}
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no node matches %q", args[0])
				}
				return printYAML(a.out, n)
			})
		},
	}

	cmd.Flags().BoolVar(&byName, "name", false, "look the argument up as a name")
	cmd.Flags().BoolVar(&byKey, "key", false, "look the argument up as a key")
	return cmd
}

func newNodeListCmd(a *app) *cobra.Command {
	var (
		filter  serve.Filter
		idsOnly bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List nodes",
		Long: `List nodes, optionally filtered. Filters combine with AND logic.

Examples:
  # All node ids
  noderegistry node list --ids

  # Virtual machines of a host
  noderegistry node list --type vm --parent <host-id>

  # Unparented nodes tagged prod
  noderegistry node list --root --tag prod

  # Selector expression
  noderegistry node list --expr 'node.type == "vm" && "prod" in node.tags'`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withClient(func(c *serve.Client) error {
				if idsOnly && filter == (serve.Filter{}) {
					ids, err := c.ListNodes(cmd.Context())
					if err != nil {
						return err
					}
					return printYAML(a.out, ids)
				}

				nodes, err := c.GetNodes(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if idsOnly {
					ids := make([]string, 0, len(nodes))
					for _, n := range nodes {
						ids = append(ids, n.ID)
					}
					return printYAML(a.out, ids)
				}
				return printYAML(a.out, nodes)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&filter.Type, "type", "", "only nodes of this type")
	flags.StringVarP(&filter.Tag, "tag", "t", "", "only nodes carrying this tag")
	flags.StringVar(&filter.Parent, "parent", "", "only children of this node")
	flags.BoolVar(&filter.Root, "root", false, "only nodes without a parent")
	flags.StringVar(&filter.Expr, "expr", "", "selector expression over node")
	flags.BoolVar(&idsOnly, "ids", false, "print ids only")
	return cmd
}

func newNodeSetCmd(a *app) *cobra.Command {
	var (
		u                    node.Update
		definition, metadata string
	)

	cmd := &cobra.Command{
		Use:   "set <id>",
		Short: "Update fields of a node",
		Long: `Update fields of a node. Only the given fields change; each replaces the
stored value entirely (--key replaces the whole key set).

Examples:
  noderegistry node set <id> --name web-1-renamed
  noderegistry node set <id> --key 10.0.0.6 --key web-1.internal`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if u.Definition, err = parseDocument("definition", definition); err != nil {
				return err
			}
			if u.Metadata, err = parseDocument("metadata", metadata); err != nil {
				return err
			}
			if u.IsEmpty() {
				return errors.New("nothing to update")
			}

			return a.withClient(func(c *serve.Client) error {
				n, err := c.SetNode(cmd.Context(), args[0], u)
				if err != nil {
					return err
				}
				return printYAML(a.out, n)
			})
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&u.Name, "name", "", "new unique name")
	flags.StringVar(&definition, "definition", "", "replacement definition (YAML or JSON mapping)")
	flags.StringVar(&metadata, "metadata", "", "replacement metadata (YAML or JSON mapping)")
	flags.StringSliceVarP(&u.Tags, "tag", "t", nil, "replacement tags (repeatable)")
	flags.StringSliceVarP(&u.Keys, "key", "k", nil, "replacement keys (repeatable)")
	return cmd
}

func newNodeMetaCmd(a *app) *cobra.Command {
	var deleteKeys []string

	cmd := &cobra.Command{
		Use:   "meta <id> [key=value...]",
		Short: "Merge metadata into a node",
		Long: `Merge metadata into a node. Values are parsed as YAML scalars, so
cpus=4 stores a number and ready=true a boolean.

Examples:
  noderegistry node meta <id> state=running cpus=4
  noderegistry node meta <id> --delete state`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			extra, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			if len(extra) == 0 && len(deleteKeys) == 0 {
				return errors.New("nothing to update")
			}

			return a.withClient(func(c *serve.Client) error {
				n, err := c.UpdateMetadata(cmd.Context(), args[0], extra, deleteKeys...)
				if err != nil {
					return err
				}
				return printYAML(a.out, n)
			})
		},
	}

	cmd.Flags().StringSliceVarP(&deleteKeys, "delete", "d", nil, "metadata key to remove (repeatable)")
	return cmd
}

func newNodeParentCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "parent <id> [parent-id]",
		Short: "Set or clear the parent of a node",
		Long: `Set the parent of a node, or clear it when parent-id is omitted.
A node that already has a parent must be cleared before it is reassigned.`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			parent := ""
			if len(args) == 2 {
				parent = args[1]
			}

			return a.withClient(func(c *serve.Client) error {
				n, err := c.SetParent(cmd.Context(), args[0], parent)
				if err != nil {
					return err
				}
				return printYAML(a.out, n)
			})
		},
	}
}

func newNodeDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a node",
		Long:  `Delete a node. Nodes with a parent or with children cannot be deleted.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withClient(func(c *serve.Client) error {
				if err := c.DeleteNode(cmd.Context(), args[0]); err != nil {
					return err
				}
				_, err := fmt.Fprintf(a.out, "deleted %s\n", args[0])
				return err
			})
		},
	}
}

// parseDocument parses a YAML (or JSON) mapping given on the command line.
// An empty string yields nil.
func parseDocument(field, s string) (map[string]any, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	var doc map[string]any
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", field, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("invalid %s: expected a mapping", field)
	}
	return doc, nil
}

// parseAssignments turns key=value arguments into a metadata map.
func parseAssignments(args []string) (map[string]any, error) {
	out := make(map[string]any, len(args))
	for _, arg := range args {
		key, raw, ok := strings.Cut(arg, "=")
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid assignment %q, expected key=value", arg)
		}

		var value any
		if err := yaml.Unmarshal([]byte(raw), &value); err != nil {
			return nil, fmt.Errorf("invalid value for %s: %w", key, err)
		}
		out[key] = value
	}
	return out, nil
}

func printYAML(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return enc.Close()
}
