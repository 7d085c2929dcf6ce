package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/rovshanmuradov/lottery-keeper/internal/api"
	"github.com/rovshanmuradov/lottery-keeper/internal/ui/style"
)

func fetchStatus(ctx context.Context, addr string) (*api.StatusResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(addr, "/")+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("keeper status unavailable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("keeper status returned %s", resp.Status)
	}

	var out api.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode status: %w", err)
	}
	return &out, nil
}

func printStatus(w io.Writer, resp *api.StatusResponse, output string) error {
	switch output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	case "text", "":
		_, err := fmt.Fprintln(w, renderStatus(resp, style.NewStatusStyles(style.DefaultPalette())))
		return err
	default:
		return fmt.Errorf("invalid --output: %s (use json|text)", output)
	}
}

func renderStatus(resp *api.StatusResponse, s style.StatusStyles) string {
	o := resp.Orchestrator
	row := func(label, value string) string {
		return lipgloss.JoinHorizontal(lipgloss.Top, s.Label.Render(label), value)
	}

	state := s.Good.Render("RUNNING")
	if !o.Running {
		state = s.Bad.Render("STOPPED")
		if o.DisabledReason != "" {
			state = s.Bad.Render("DISABLED") + " " + s.Muted.Render(o.DisabledReason)
		}
	}

	lines := []string{
		s.Title.Render("Lottery keeper"),
		row("Orchestrator", state),
		row("Ticks", s.Value.Render(fmt.Sprintf("%d", o.Ticks))),
		row("Processing", s.Value.Render(fmt.Sprintf("%d %v", o.Processing, o.ProcessingPools))),
	}
	if o.LastTick != nil {
		lines = append(lines, row("Last tick", s.Value.Render(o.LastTick.Format(time.RFC3339))))
	}

	if len(o.RetryCounters) > 0 {
		lines = append(lines, "", s.Title.Render("Retry counters"))
		for _, rc := range o.RetryCounters {
			lines = append(lines, row(fmt.Sprintf("pool %d", rc.PoolID),
				s.Warning.Render(fmt.Sprintf("%s x%d", rc.Action, rc.Count))))
		}
	}

	if len(resp.Endpoints) > 0 {
		lines = append(lines, "", s.Title.Render("RPC endpoints"))
		for _, ep := range resp.Endpoints {
			health := s.Good.Render("healthy")
			if !ep.Healthy {
				health = s.Bad.Render(fmt.Sprintf("down (%d failures)", ep.ConsecutiveFailures))
			}
			lines = append(lines, row(truncate(ep.URL, 17), health+" "+
				s.Muted.Render(fmt.Sprintf("%d/%d ok", ep.Successes, ep.Requests))))
		}
	}

	if len(resp.Economics) > 0 {
		lines = append(lines, "", s.Title.Render("Pool costs"))
		for _, rep := range resp.Economics {
			lines = append(lines, row(truncate(rep.Pool, 17), s.Value.Render(rep.TotalSOL+" SOL")))
		}
	}

	if resp.Events != nil {
		lines = append(lines, "", row("Events", s.Muted.Render(fmt.Sprintf("published %d, dropped %d, pending %d",
			resp.Events.Published, resp.Events.Dropped, resp.Events.Pending))))
	}

	return s.Panel.Render(strings.Join(lines, "\n"))
}

func truncate(v string, n int) string {
	if len(v) <= n {
		return v
	}
	return v[:n-3] + "..."
}
