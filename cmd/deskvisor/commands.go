package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/loykin/deskvisor"
	"github.com/loykin/deskvisor/internal/runstate"
)

// loadConfig reads the config and applies flag overrides.
func loadConfig(g GlobalFlags, r RunFlags) (*deskvisor.Config, error) {
	c, err := deskvisor.LoadConfig(g.ConfigPath)
	if err != nil {
		return nil, err
	}
	if g.StateDir != "" {
		c.StateDir = g.StateDir
	}
	if r.Dev {
		c.Mode = "development"
	}
	if r.Binary != "" {
		c.Service.Binary = r.Binary
	}
	if r.NoBrowser {
		c.Window.OpenBrowser = false
	}
	if r.OpsListen != "" {
		c.Ops.Listen = r.OpsListen
	}
	return c, nil
}

func runShell(ctx context.Context, g GlobalFlags, r RunFlags, stderr io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	c, err := loadConfig(g, r)
	if err != nil {
		return err
	}
	app, err := deskvisor.New(c)
	if err != nil {
		return err
	}
	go func() {
		select {
		case <-app.Started():
			_, _ = fmt.Fprintf(stderr, "window: %s\n", app.WindowURL())
		case <-ctx.Done():
		}
	}()
	return app.Run(ctx)
}

type statusOut struct {
	Running    bool   `json:"running"`
	ServicePID int    `json:"service_pid,omitempty"`
	ShellPID   int    `json:"shell_pid,omitempty"`
	Port       int    `json:"port,omitempty"`
	URL        string `json:"url,omitempty"`
}

func printStatus(g GlobalFlags, asJSON bool, w io.Writer) error {
	c, err := loadConfig(g, RunFlags{})
	if err != nil {
		return err
	}
	dir := deskvisor.StateDir(c)
	st, err := dir.Read()
	out := statusOut{}
	switch {
	case errors.Is(err, runstate.ErrNoState):
	case err != nil:
		return fmt.Errorf("read state in %s: %w", string(dir), err)
	default:
		out = statusOut{Running: st.Alive(), ServicePID: st.ServicePID, ShellPID: st.ShellPID, Port: st.Port, URL: st.URL()}
	}
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}
	switch {
	case out.ServicePID == 0:
		_, err = fmt.Fprintln(w, "not running")
	case !out.Running:
		_, err = fmt.Fprintf(w, "stale: pid %d (port %d) is gone\n", out.ServicePID, out.Port)
	default:
		_, err = fmt.Fprintf(w, "running: pid %d at %s (shell pid %d)\n", out.ServicePID, out.URL, out.ShellPID)
	}
	return err
}
