package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"visitmap/internal/engine"
	"visitmap/internal/feedback"
	"visitmap/internal/interaction"
	"visitmap/internal/region"
)

const usage = `commands:
  zoom N                 set the zoom level
  hover TIER NAME        pointer enters a region
  leave TIER NAME        pointer leaves a region
  click TIER NAME        select a region
  at TIER LON LAT        click whatever region of TIER lies at LON/LAT
  confirm                commit the selection
  cancel                 drop the selection
  status                 progress, selection and current toast
  layers                 mounted layers and their render keys
  quit`

type syncWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *syncWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

type toastPrinter struct {
	out io.Writer
}

func (p toastPrinter) Notify(kind feedback.Kind, message string) {
	fmt.Fprintf(p.out, "[%s] %s\n", kind, message)
}

type repl struct {
	engine  *engine.Engine
	out     io.Writer
	pending sync.WaitGroup
}

func newREPL(e *engine.Engine, out io.Writer) *repl {
	return &repl{engine: e, out: out}
}

// Run executes commands until quit, EOF or ctx is done, then waits for
// outstanding commits to report.
func (r *repl) Run(ctx context.Context, in io.Reader) error {
	defer r.pending.Wait()

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					return err
				default:
					return nil
				}
			}
			quit, err := r.exec(line)
			if err != nil {
				fmt.Fprintf(r.out, "error: %v\n", err)
			}
			if quit {
				return nil
			}
		}
	}
}

func (r *repl) exec(line string) (bool, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return false, nil
	}
	cmd, args := strings.ToLower(fields[0]), fields[1:]
	switch cmd {
	case "quit", "exit":
		return true, nil
	case "help":
		fmt.Fprintln(r.out, usage)
	case "zoom":
		return false, r.zoom(args)
	case "hover":
		tier, name, err := tierAndName(args)
		if err != nil {
			return false, err
		}
		hv, err := r.engine.Hover(tier, name)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s: %s clickable=%t\n", name, hv.Highlight, hv.Clickable)
	case "leave":
		tier, name, err := tierAndName(args)
		if err != nil {
			return false, err
		}
		hl, err := r.engine.HoverExit(tier, name)
		if err != nil {
			return false, err
		}
		fmt.Fprintf(r.out, "%s: %s\n", name, hl)
	case "click":
		tier, name, err := tierAndName(args)
		if err != nil {
			return false, err
		}
		ok, err := r.engine.Click(tier, name)
		if err != nil {
			return false, err
		}
		r.printClick(name, ok)
	case "at":
		return false, r.clickAt(args)
	case "confirm":
		return false, r.confirm()
	case "cancel":
		if r.engine.Cancel() {
			fmt.Fprintln(r.out, "selection cleared")
		} else {
			fmt.Fprintln(r.out, "nothing to cancel")
		}
	case "status":
		r.status()
	case "layers":
		for _, l := range r.engine.Layers() {
			fmt.Fprintf(r.out, "%s (%d shapes)\n", l.Key, len(l.Shapes))
		}
	default:
		return false, fmt.Errorf("unknown command %q, try help", cmd)
	}
	return false, nil
}

func (r *repl) zoom(args []string) error {
	if len(args) != 1 {
		return errors.New("usage: zoom N")
	}
	z, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return fmt.Errorf("bad zoom %q", args[0])
	}
	vis, changed := r.engine.Zoom(z)
	names := make([]string, 0, 3)
	for _, t := range vis.Tiers() {
		names = append(names, t.String())
	}
	suffix := ""
	if changed {
		suffix = " (remounted)"
	}
	fmt.Fprintf(r.out, "layers: %s%s\n", strings.Join(names, "+"), suffix)
	return nil
}

func (r *repl) clickAt(args []string) error {
	if len(args) != 3 {
		return errors.New("usage: at TIER LON LAT")
	}
	tier, err := region.ParseTier(args[0])
	if err != nil {
		return err
	}
	lon, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return fmt.Errorf("bad longitude %q", args[1])
	}
	lat, err := strconv.ParseFloat(args[2], 64)
	if err != nil {
		return fmt.Errorf("bad latitude %q", args[2])
	}
	reg, ok, err := r.engine.ClickAt(tier, lon, lat)
	if err != nil {
		return err
	}
	r.printClick(reg.Name, ok)
	return nil
}

func (r *repl) printClick(name string, ok bool) {
	if !ok {
		fmt.Fprintf(r.out, "%s is not clickable\n", name)
		return
	}
	action := "mark as visited"
	sel := r.engine.Selection()
	if r.engine.IsVisited(sel.Region.Tier, sel.Region.Name) {
		action = "remove"
	}
	fmt.Fprintf(r.out, "selected %s: confirm to %s\n", name, action)
}

func (r *repl) confirm() error {
	sel := r.engine.Selection()
	done, err := r.engine.Confirm()
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "syncing %s\n", sel.Region.Name)
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		out := <-done
		switch {
		case out.Discarded:
			fmt.Fprintf(r.out, "%s %s: discarded\n", out.Action, out.Region.Name)
		case out.Err != nil:
			fmt.Fprintf(r.out, "%s %s: failed\n", out.Action, out.Region.Name)
		default:
			fmt.Fprintf(r.out, "%s %s: ok\n", out.Action, out.Region.Name)
		}
	}()
	return nil
}

func (r *repl) status() {
	fmt.Fprintln(r.out, r.engine.HUD().String())
	sel := r.engine.Selection()
	if sel.Phase == interaction.PhaseNone {
		fmt.Fprintln(r.out, "selection: none")
	} else {
		fmt.Fprintf(r.out, "selection: %s (%s)\n", sel.Region, sel.Phase)
	}
	if t, ok := r.engine.Toast(); ok {
		fmt.Fprintf(r.out, "toast: [%s] %s\n", t.Kind, t.Message)
	}
}

func tierAndName(args []string) (region.Tier, string, error) {
	if len(args) < 2 {
		return 0, "", errors.New("usage: <command> TIER NAME")
	}
	tier, err := region.ParseTier(args[0])
	if err != nil {
		return 0, "", err
	}
	return tier, strings.Join(args[1:], " "), nil
}
