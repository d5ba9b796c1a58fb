// File: cmd/output.go
package cmd

import (
	"fmt"
	"io"
	"strconv"

	"github.com/fatih/color"
	json "github.com/json-iterator/go"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"

	"github.com/xkilldash9x/jaw/internal/analysis/engine"
	"github.com/xkilldash9x/jaw/internal/irgraph"
)

// writeStream prints the node/edge stream of res as indented JSON.
func writeStream(w io.Writer, res *engine.Result) error {
	data, err := json.MarshalIndent(res.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize stream to JSON: %w", err)
	}
	if _, err := fmt.Fprintln(w, string(data)); err != nil {
		return fmt.Errorf("failed to write stream: %w", err)
	}
	return nil
}

func newTable(w io.Writer) *tablewriter.Table {
	return tablewriter.NewTable(w,
		tablewriter.WithConfig(tablewriter.Config{
			Header: tw.CellConfig{
				Alignment:  tw.CellAlignment{Global: tw.AlignLeft},
				Formatting: tw.CellFormatting{AutoFormat: tw.On},
			},
			Row: tw.CellConfig{
				Alignment: tw.CellAlignment{Global: tw.AlignLeft},
			},
		}),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.Border{Left: tw.Off, Right: tw.Off, Top: tw.Off, Bottom: tw.Off},
			Settings: tw.Settings{
				Separators: tw.Separators{BetweenColumns: tw.Off},
			},
		}),
	)
}

// writeSummary prints per-file model counts, the edge count of every
// relation and the degraded models.
func writeSummary(w io.Writer, res *engine.Result) error {
	title := "Run " + res.RunID
	color.New(color.Bold).Fprintln(w, title)
	fmt.Fprintln(w)

	files := newTable(w)
	files.Header([]string{"File", "Intra", "Inter", "Page", "Degraded", "Imports", "Fingerprint"})
	imports := make(map[string]int)
	for _, l := range res.Imports {
		imports[l.File]++
	}
	for _, f := range res.Files {
		page := "-"
		if f.Models.Page != nil {
			page = "yes"
		}
		fingerprint := "-"
		if m := f.Models.FileModel(); m != nil && m.Usable() {
			fingerprint = fmt.Sprintf("%016x", m.Graph.Fingerprint())
		}
		_ = files.Append([]string{
			f.File,
			strconv.Itoa(len(f.Models.Intra)),
			strconv.Itoa(len(f.Models.Inter)),
			page,
			strconv.Itoa(len(f.Models.Degraded())),
			strconv.Itoa(imports[f.File]),
			fingerprint,
		})
	}
	if err := files.Render(); err != nil {
		return fmt.Errorf("failed to render file table: %w", err)
	}
	fmt.Fprintln(w)

	counts := res.Stream.Counts()
	relations := newTable(w)
	relations.Header([]string{"Relation", "Edges"})
	for _, rel := range irgraph.Relations() {
		_ = relations.Append([]string{string(rel), strconv.Itoa(counts[rel])})
	}
	if err := relations.Render(); err != nil {
		return fmt.Errorf("failed to render relation table: %w", err)
	}
	nodes, edges := res.Stream.Len()
	fmt.Fprintf(w, "\n%d nodes, %d edges, %d call edges\n", nodes, edges, res.CallGraph.Len())
	fmt.Fprintf(w, "%d reachable functions, %d recursive groups\n",
		len(res.CallGraph.Reachable()), len(res.CallGraph.Recursive()))

	degraded := res.Degraded()
	if len(degraded) == 0 {
		return nil
	}
	fmt.Fprintln(w)
	color.New(color.FgYellow).Fprintf(w, "%d degraded models\n", len(degraded))
	for _, m := range degraded {
		fmt.Fprintf(w, "  %s: %v\n", m.Name, m.Err)
	}
	return nil
}
