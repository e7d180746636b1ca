package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"

	"wpsnapshots/internal/snapshot"
)

// printSnapshots writes metas as a table or as a JSON array.
func printSnapshots(w io.Writer, metas []snapshot.Meta, format string) error {
	switch format {
	case "json":
		if metas == nil {
			metas = []snapshot.Meta{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(metas)
	case "", "table":
	default:
		return fmt.Errorf("unknown format %q: use table or json", format)
	}

	if len(metas) == 0 {
		fmt.Fprintln(w, "No snapshots found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tPROJECT\tDESCRIPTION\tAUTHOR\tCONTENTS\tSIZE\tMULTISITE\tCREATED")
	for _, m := range metas {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			m.ID,
			m.Project,
			truncate(m.Description, 40),
			m.Author.Name,
			contents(m),
			humanize.Bytes(uint64(m.Size)),
			yesNo(m.Multisite),
			m.CreatedAt().Format("2006-01-02 15:04"),
		)
	}
	return tw.Flush()
}

func contents(m snapshot.Meta) string {
	var parts []string
	if m.ContainsDB {
		parts = append(parts, "db")
	}
	if m.ContainsFiles {
		parts = append(parts, "files")
	}
	return strings.Join(parts, "+")
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
