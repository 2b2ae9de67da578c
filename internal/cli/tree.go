package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/tinywall/procman/internal/process"
)

type treeGlyphs struct {
	branch, last, pipe, space string
}

var (
	unicodeGlyphs = treeGlyphs{branch: "├── ", last: "└── ", pipe: "│   ", space: "    "}
	asciiGlyphs   = treeGlyphs{branch: "|-- ", last: "`-- ", pipe: "|   ", space: "    "}
)

func newTreeCmd(d deps) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "tree [PID]",
		Short: "Show the process tree, or the subtree rooted at PID",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := d.setup(cmd)
			if err != nil {
				return err
			}
			defer e.Close()

			recs, err := e.procs.ResolvedProcesses()
			if err != nil {
				return err
			}
			tree := process.BuildTree(recs)

			roots := tree.Roots()
			if len(args) == 1 {
				pid, err := parsePID(args[0])
				if err != nil {
					return err
				}
				n := tree.Node(pid)
				if n == nil {
					return exitErrorf(exitNotFound, "process %d not found", pid)
				}
				roots = []*process.Node{n}
			}

			if asJSON {
				return printJSON(cmd, toJSONNodes(roots))
			}
			glyphs := asciiGlyphs
			if tty, _ := d.terminal(cmd.OutOrStdout()); tty {
				glyphs = unicodeGlyphs
			}
			for _, r := range roots {
				printTree(cmd.OutOrStdout(), r, "", "", glyphs)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

// printTree writes n and its descendants. prefix precedes n's own line and
// indent precedes its children's.
func printTree(w io.Writer, n *process.Node, prefix, indent string, g treeGlyphs) {
	fmt.Fprintf(w, "%s%d %s\n", prefix, n.PID, n.ExeFile)
	for i, c := range n.Children {
		if i == len(n.Children)-1 {
			printTree(w, c, indent+g.last, indent+g.space, g)
		} else {
			printTree(w, c, indent+g.branch, indent+g.pipe, g)
		}
	}
}

type jsonNode struct {
	PID          int        `json:"pid"`
	ParentPID    int        `json:"parent_pid"`
	ExeFile      string     `json:"exe_file"`
	ImagePath    string     `json:"image_path,omitempty"`
	CreationTime int64      `json:"creation_time,omitempty"`
	Children     []jsonNode `json:"children,omitempty"`
}

func toJSONNodes(nodes []*process.Node) []jsonNode {
	out := make([]jsonNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, jsonNode{
			PID:          n.PID,
			ParentPID:    n.ParentPID,
			ExeFile:      n.ExeFile,
			ImagePath:    n.ImagePath,
			CreationTime: n.CreationTime,
			Children:     toJSONNodes(n.Children),
		})
	}
	return out
}
