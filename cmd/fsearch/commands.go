package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/filesearch/fsearch/filemap"
	"github.com/ZanzyTHEbar/filesearch/fsearch/ports"
	"github.com/ZanzyTHEbar/filesearch/fsearch/volume"

	"github.com/disiqueira/gotree/v3"
	"github.com/urfave/cli/v2"
)

func indexCommand() *cli.Command {
	return &cli.Command{
		Name:    "index",
		Aliases: []string{"i"},
		Usage:   "Rebuild the index of every volume",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			co, stop := e.startCoordinator(ctx, nil)

			start := time.Now()
			e.ui.StartSpinner("Indexing volumes")
			initErr := co.Init(ctx)
			if initErr != nil {
				e.ui.StopSpinner(false, "Indexing finished with errors")
				e.ui.Error("some volumes failed", initErr)
			} else {
				e.ui.StopSpinner(true, fmt.Sprintf("Indexed in %s", time.Since(start).Round(time.Millisecond)))
			}

			for _, v := range co.Volumes() {
				st := v.Stats()
				e.ui.Output(fmt.Sprintf("  %-24s %-8s %8d records", st.ID, st.Strategy, st.Records))
			}
			return errors.Join(stop(), initErr)
		},
	}
}

func findCommand() *cli.Command {
	return &cli.Command{
		Name:      "find",
		Aliases:   []string{"f"},
		Usage:     "Search file names; * matches any run of characters",
		ArgsUsage: "<query>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "pages",
				Aliases: []string{"p"},
				Usage:   "How many batches of results to show",
				Value:   1,
			},
			&cli.BoolFlag{
				Name:    "json",
				Aliases: []string{"j"},
				Usage:   "Print results as JSON lines",
			},
		},
		Action: func(c *cli.Context) error {
			query := strings.Join(c.Args().Slice(), " ")
			if query == "" {
				return fmt.Errorf("find requires a query")
			}
			e, err := setup(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()

			printer := newResultPrinter(os.Stdout, c.Bool("json"))
			co, stop := e.startCoordinator(ctx, ports.ResultSinkFunc(printer.deliver))

			var findErr error
			for page := 0; page < max(c.Int("pages"), 1); page++ {
				before := printer.total
				if findErr = co.Find(ctx, query); findErr != nil {
					break
				}
				if page > 0 && printer.total == before {
					break
				}
			}
			if findErr == nil {
				findErr = co.Release(ctx)
			}
			return errors.Join(findErr, stop())
		},
	}
}

// resultPrinter writes the newly visible part of each delivery.
type resultPrinter struct {
	out   io.Writer
	json  bool
	total int
}

func newResultPrinter(out io.Writer, asJSON bool) *resultPrinter {
	return &resultPrinter{out: out, json: asJSON}
}

type jsonItem struct {
	Name  string `json:"name"`
	Path  string `json:"path"`
	Rank  int8   `json:"rank"`
	Alias string `json:"alias,omitempty"`
}

func (p *resultPrinter) deliver(d ports.Delivery) {
	items := d.NewItems
	p.total += len(items)
	for _, it := range items {
		if p.json {
			b, _ := json.Marshal(jsonItem{Name: it.Name, Path: it.Path, Rank: it.Rank, Alias: it.Alias})
			fmt.Fprintln(p.out, string(b))
			continue
		}
		fmt.Fprintln(p.out, formatItem(it))
	}
}

func formatItem(it filemap.Item) string {
	if it.Alias != "" {
		return fmt.Sprintf("%4d  %s  (%s)", it.Rank, it.Path, it.Alias)
	}
	return fmt.Sprintf("%4d  %s", it.Rank, it.Path)
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show volumes and the state of their indexes",
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}
			e.cfg.Index.Watch = false

			ids, err := e.registry.Discover(c.Context)
			if err != nil {
				return err
			}

			root := gotree.New(fmt.Sprintf("%s (%s)", e.cfg.Index.Dir, e.cfg.Index.Strategy))
			present := make(map[string]bool, len(ids))
			for _, id := range ids {
				present[id] = true
				v, err := e.registry.Open(c.Context, id)
				if err != nil {
					root.Add(fmt.Sprintf("%s: %v", id, err))
					continue
				}
				addVolumeNode(root, v.Stats(), e.state)
				v.Close()
			}
			for _, id := range e.state.IDs() {
				if !present[id] {
					root.Add(id + " (offline)")
				}
			}

			fmt.Print(root.Print())
			return nil
		},
	}
}

func addVolumeNode(root gotree.Tree, st volume.Stats, state *volume.StateFile) {
	node := root.Add(fmt.Sprintf("%s [%s]", st.ID, st.Strategy))
	if !st.OnDisk {
		node.Add("index: not built")
	} else {
		node.Add(fmt.Sprintf("index: %s (%d bytes)", st.IndexPath, st.IndexSize))
	}

	saved, ok := state.Get(st.ID)
	if !ok {
		return
	}
	node.Add(fmt.Sprintf("records: %d", saved.Records))
	node.Add("indexed: " + saved.IndexedAt.Local().Format(time.DateTime))
	if id, ok := saved.Journal(); ok {
		node.Add(fmt.Sprintf("journal: %016x @ usn %d", id, saved.USN))
	}
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Delete every persisted index",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "state",
				Usage: "Also forget the recorded volume state",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := setup(c)
			if err != nil {
				return err
			}

			n, err := volume.RemoveIndexes(e.cfg.Index.Dir)
			e.ui.Output(fmt.Sprintf("Removed %d index files from %s", n, e.cfg.Index.Dir))
			if err != nil {
				return err
			}

			if c.Bool("state") {
				for _, id := range e.state.IDs() {
					if err := e.state.Delete(id); err != nil {
						return err
					}
				}
				e.ui.Output("Cleared " + e.state.Path())
			}
			return nil
		},
	}
}
