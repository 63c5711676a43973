package definition

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/crn-cloud/crn/pkg/client"
	schema "github.com/crn-cloud/crn/pkg/jobdef"
	"github.com/spf13/cobra"
)

var (
	applyPaths  []string
	applyServer string
)

var applyCmd = &cobra.Command{
	Use:   "apply",
	Short: "Register analysis definitions via the REST API",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := client.ValidateServer(applyServer); err != nil {
			return err
		}

		defs, err := collectDefinitions(applyPaths)
		if err != nil {
			return err
		}
		if len(defs) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No analysis definitions found.")
			return nil
		}

		crn := client.Client(strings.TrimSuffix(applyServer, "/"))
		for i := range defs {
			described, err := crn.ApplyDefinition(&defs[i])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", described.Name, described.Ref)
		}

		return nil
	},
}

func init() {
	applyCmd.Flags().StringSliceVarP(&applyPaths, "path", "p", nil, "Paths to definition files or directories (default: current directory)")
	applyCmd.Flags().StringVar(&applyServer, "server", "http://localhost:8080", "crn server base URL")
	Cmd.AddCommand(applyCmd)
}

func collectDefinitions(paths []string) ([]schema.Definition, error) {
	if len(paths) == 0 {
		paths = []string{"."}
	}

	var defs []schema.Definition
	for _, p := range paths {
		info, err := os.Stat(p)
		if err != nil {
			return nil, err
		}
		if info.IsDir() {
			if err := filepath.WalkDir(p, func(path string, d os.DirEntry, walkErr error) error {
				if walkErr != nil {
					return walkErr
				}
				if d.IsDir() || !isYAML(path) {
					return nil
				}
				return appendDefinitions(path, &defs)
			}); err != nil {
				return nil, err
			}
		} else {
			if !isYAML(p) {
				return nil, fmt.Errorf("%s is not a YAML file", p)
			}
			if err := appendDefinitions(p, &defs); err != nil {
				return nil, err
			}
		}
	}
	return defs, nil
}

func appendDefinitions(path string, defs *[]schema.Definition) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	parsed, err := schema.ParseAll(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}

	for i := range parsed {
		if err := parsed[i].Validate(); err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
	}

	*defs = append(*defs, parsed...)
	return nil
}

func isYAML(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}
