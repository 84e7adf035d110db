// meshlint validates scenario graph documents before they are dropped into
// the scenario directory of a running service.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	meshsvc "github.com/zhouzirui/mesh-coach/backend/internal/service/mesh"
	"github.com/zhouzirui/mesh-coach/backend/internal/store"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "meshlint [files or directories]",
		Short: "Validate mesh scenario documents",
		Long: `meshlint runs the same schema and structural validation the service
applies at load time: entry uniqueness, reachability, branch coverage and
loop bounds. Exit status is non-zero when any document fails.`,
		Args: cobra.MinimumNArgs(1),
		RunE: run,
	}
	root.Flags().BoolVarP(&verbose, "verbose", "v", false, "print a summary for valid documents too")
	root.SilenceUsage = true

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return err
		}
		if info.IsDir() {
			entries, err := os.ReadDir(arg)
			if err != nil {
				return err
			}
			for _, entry := range entries {
				if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".json") {
					files = append(files, filepath.Join(arg, entry.Name()))
				}
			}
		} else {
			files = append(files, arg)
		}
	}
	if len(files) == 0 {
		return errors.New("no scenario documents found")
	}

	failed := 0
	for _, file := range files {
		data, err := os.ReadFile(file)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", file, err)
			failed++
			continue
		}

		valid, err := store.ParseScenario(data)
		if err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "%s: %v\n", file, err)
			var graphErr *meshsvc.GraphError
			if errors.As(err, &graphErr) && graphErr.NodeID != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s:   offending node: %s\n", file, graphErr.NodeID)
			}
			failed++
			continue
		}

		if verbose {
			g := valid.Graph()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (scenario %q, %d nodes, %d edges, entry %s, quiz gates %d)\n",
				file, g.ID, len(g.Nodes), len(g.Edges), valid.EntryID(), valid.CountQuizGates())
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed validation", failed, len(files))
	}
	if verbose {
		fmt.Fprintf(cmd.OutOrStdout(), "all %d documents valid\n", len(files))
	}
	return nil
}
