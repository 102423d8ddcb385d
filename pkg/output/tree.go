package output

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/ritzau/crate-deps/pkg/cycles"
	"github.com/ritzau/crate-deps/pkg/graph"
	"github.com/ritzau/crate-deps/pkg/ingest"
	"github.com/ritzau/crate-deps/pkg/model"
)

// Format selects how a tree is rendered
type Format string

const (
	FormatText Format = "text"
	FormatJSON Format = "json"
	FormatDOT  Format = "dot"
)

// ParseFormat validates a --format value
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatText, FormatJSON, FormatDOT:
		return f, nil
	case "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("unknown format %q (want text, json or dot)", s)
	}
}

// WriteTree renders a result tree in the given format
func WriteTree(w io.Writer, tree *model.ResultTree, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(tree)
	case FormatDOT:
		data, err := graph.BuildTreeGraph(tree).MarshalDOT(tree.Name)
		if err != nil {
			return fmt.Errorf("encode dot: %w", err)
		}
		_, err = fmt.Fprintf(w, "%s\n", data)
		return err
	default:
		PrintTree(w, tree)
		return nil
	}
}

// PrintTree prints the tree with box-drawing branches, followed by the
// number of connected crates
func PrintTree(w io.Writer, tree *model.ResultTree) {
	bold := color.New(color.Bold)
	cyan := color.New(color.FgCyan)
	faint := color.New(color.Faint)

	bold.Fprintln(w, tree.Name)

	var walk func(node *model.ResultTree, prefix string)
	walk = func(node *model.ResultTree, prefix string) {
		for i, child := range node.Children {
			branch, indent := "├── ", "│   "
			if i == len(node.Children)-1 {
				branch, indent = "└── ", "    "
			}

			fmt.Fprint(w, prefix+branch+child.Name)
			if child.Requirement != "" {
				cyan.Fprintf(w, " %s", child.Requirement)
			}
			if child.Stub {
				faint.Fprint(w, " (*)")
			}
			fmt.Fprintln(w)

			walk(child, prefix+indent)
		}
	}
	walk(tree, "")

	fmt.Fprintln(w)
	color.New(color.FgGreen).Fprintf(w, "found %d connected crates\n", tree.Connected())
}

// PrintSummary prints the ingestion summary line
func PrintSummary(w io.Writer, summary *ingest.Summary, fromCache bool) {
	if summary == nil {
		return
	}

	source := "ingested export"
	if fromCache {
		source = "loaded snapshot"
	}
	bold := color.New(color.Bold)
	bold.Fprintf(w, "%s: ", source)

	if fromCache {
		fmt.Fprintf(w, "%d crates, %d edges\n", summary.Crates, summary.Edges)
		return
	}
	fmt.Fprintln(w, summary.String())

	if summary.Unresolved > 0 || summary.MalformedTotal() > 0 {
		color.New(color.FgYellow).Fprintf(w, "  skipped %d unresolved and %d malformed rows\n",
			summary.Unresolved, summary.MalformedTotal())
	}
}

// PrintCycles lists the dependency cycles of the whole graph
func PrintCycles(w io.Writer, found []cycles.CrateCycle) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	if len(found) == 0 {
		green.Fprintln(w, "✓ No dependency cycles")
		return
	}

	red.Fprintf(w, "Found %d dependency cycle(s), largest has %d crates\n", len(found), cycles.Largest(found))
	for i, c := range found {
		yellow.Fprintf(w, "  %d. ", i+1)
		for j, name := range c.Crates {
			if j > 0 {
				fmt.Fprint(w, " ⇄ ")
			}
			fmt.Fprint(w, name)
		}
		fmt.Fprintln(w)
	}
}
