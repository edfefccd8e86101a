package ui

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/cbout22/kickstart/internal/config"
	"github.com/cbout22/kickstart/internal/orchestrator"
	"github.com/cbout22/kickstart/internal/resolver"
)

// RenderResult prints the summary of a successful run.
func RenderResult(w io.Writer, res *orchestrator.Result) {
	fmt.Fprintf(w, "%s %s from the %s (%s)\n",
		successStyle.Render("✅ Created"),
		accentStyle.Render(res.Name),
		res.Source.Kind(),
		res.Version,
	)
	fmt.Fprintf(w, "   📁 %s\n", res.Path)

	files := humanize.Comma(int64(res.Files)) + " file"
	if res.Files != 1 {
		files += "s"
	}
	if res.Bytes > 0 {
		files += " · " + humanize.Bytes(uint64(res.Bytes)) + " bundle"
	}
	fmt.Fprintf(w, "   📄 %s\n", files)

	fmt.Fprintln(w)
	fmt.Fprintln(w, headerStyle.Render("Next steps:"))
	fmt.Fprintf(w, "   cd %s\n", filepath.Base(res.Path))
}

// RenderFailure prints an error and, when one is known, a hint.
func RenderFailure(w io.Writer, err error) {
	fmt.Fprintf(w, "%s %s\n", errorStyle.Render("Error:"), err)

	var f *orchestrator.Failure
	if errors.As(err, &f) {
		if h := f.Hint(); h != "" {
			fmt.Fprintln(w, hintStyle.Render("Hint: "+h))
		}
	}
}

// RenderListing prints the versions --list-versions reports.
func RenderListing(w io.Writer, l *resolver.Listing) {
	if l.Strategy == config.Tree {
		fmt.Fprintf(w, "%s\n", headerStyle.Render("Source tree"))
		fmt.Fprintf(w, "   Any branch, tag or commit can be requested; %s means %s.\n",
			accentStyle.Render(config.LatestVersion), accentStyle.Render(l.DefaultRef))
		if len(l.Versions) > 0 {
			fmt.Fprintln(w)
			fmt.Fprintln(w, headerStyle.Render("Cached"))
			for _, v := range l.Versions {
				fmt.Fprintf(w, "   %s\n", v)
			}
		}
		return
	}

	if l.Offline {
		fmt.Fprintln(w, warnStyle.Render("⚠ release endpoint unreachable, showing cached versions only"))
	}
	if len(l.Versions) == 0 {
		fmt.Fprintln(w, "No versions published.")
		return
	}

	fmt.Fprintln(w, headerStyle.Render("Available versions"))
	for _, v := range l.Versions {
		var marks []string
		if v == l.Latest {
			marks = append(marks, successStyle.Render("latest"))
		}
		if l.Cached[v] {
			marks = append(marks, hintStyle.Render("cached"))
		}
		line := "   " + v
		if len(marks) > 0 {
			line += " (" + strings.Join(marks, ", ") + ")"
		}
		fmt.Fprintln(w, line)
	}
}
