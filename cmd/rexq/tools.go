package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	config "github.com/hanpama/rexq/internal/config"
	grpctp "github.com/hanpama/rexq/internal/grpctp"
	language "github.com/hanpama/rexq/internal/language"
)

var flagForce bool

var initCmd = &cobra.Command{
	Use:   "init [file]",
	Short: "Write a commented default configuration",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "rexq.yaml"
		if len(args) == 1 {
			path = args[0]
		}
		if !flagForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
		}
		if err := os.WriteFile(path, []byte(config.DefaultConfigYAML), 0o644); err != nil {
			return err
		}
		fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path)
		return nil
	},
}

var parseCmd = &cobra.Command{
	Use:   "parse [query]",
	Short: "Print the selection tree of a query as JSON",
	Long:  "Parses a rexq query, from the argument or stdin, and prints its selection tree. Exits non-zero on a parse error.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query, err := argOrStdin(cmd, args)
		if err != nil {
			return err
		}
		root, err := language.Parse(query)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), treeJSON(root).Children)
	},
}

var (
	flagOperation string
	flagVariables string
)

var graphqlCmd = &cobra.Command{
	Use:   "graphql [file]",
	Short: "Convert a GraphQL operation into a rexq query",
	Long:  "Reads a GraphQL document, from the file or stdin, and prints the equivalent rexq query with its variables as JSON.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var src []byte
		var err error
		if len(args) == 1 {
			src, err = os.ReadFile(args[0])
		} else {
			src, err = io.ReadAll(cmd.InOrStdin())
		}
		if err != nil {
			return err
		}
		vars, err := parseVariables(flagVariables)
		if err != nil {
			return err
		}
		q, v, err := language.FromGraphQL(string(src), flagOperation, vars)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), map[string]any{"query": q, "variables": v})
	},
}

var flagEndpoint string

var callCmd = &cobra.Command{
	Use:   "call [query]",
	Short: "Resolve a query on a remote rexq gRPC executor",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if flagEndpoint == "" {
			return fmt.Errorf("--endpoint is required")
		}
		query, err := argOrStdin(cmd, args)
		if err != nil {
			return err
		}
		vars, err := parseVariables(flagVariables)
		if err != nil {
			return err
		}
		tp := grpctp.New(grpctp.WithEndpoints(map[string][]string{"remote": {flagEndpoint}}))
		defer tp.Close()
		res, err := tp.Call(cmd.Context(), "remote", query, vars)
		if err != nil {
			return err
		}
		return writeJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	initCmd.Flags().BoolVar(&flagForce, "force", false, "overwrite an existing file")

	graphqlCmd.Flags().StringVar(&flagOperation, "operation", "", "operation to convert when the document has several")
	graphqlCmd.Flags().StringVar(&flagVariables, "variables", "", "variables as a JSON object")

	callCmd.Flags().StringVar(&flagEndpoint, "endpoint", "", "host:port of the remote executor")
	callCmd.Flags().StringVar(&flagVariables, "variables", "", "variables as a JSON object")
}

func argOrStdin(cmd *cobra.Command, args []string) (string, error) {
	if len(args) == 1 {
		return args[0], nil
	}
	b, err := io.ReadAll(cmd.InOrStdin())
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

func parseVariables(raw string) (map[string]any, error) {
	vars := map[string]any{}
	if raw == "" {
		return vars, nil
	}
	if err := json.Unmarshal([]byte(raw), &vars); err != nil {
		return nil, fmt.Errorf("invalid --variables: %w", err)
	}
	return vars, nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type fieldTree struct {
	Name     string            `json:"name,omitempty"`
	Alias    string            `json:"alias,omitempty"`
	Args     map[string]string `json:"args,omitempty"`
	Children []fieldTree       `json:"children,omitempty"`
	Wildcard bool              `json:"wildcard,omitempty"`
	Out      string            `json:"out,omitempty"`
}

func treeJSON(f *language.Field) fieldTree {
	t := fieldTree{Name: f.Name, Wildcard: f.HasWildcard, Out: f.Out}
	if f.Alias != f.Name {
		t.Alias = f.Alias
	}
	if len(f.Args) > 0 {
		t.Args = make(map[string]string, len(f.Args))
		for _, a := range f.Args {
			t.Args[a.Name] = a.Variable
		}
	}
	for _, c := range f.Children {
		t.Children = append(t.Children, treeJSON(c))
	}
	return t
}
