package main

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"bytemomo/whisper/internal/domain"

	"github.com/fatih/color"
)

type resultView struct {
	Address       string `json:"address"`
	Name          string `json:"name,omitempty"`
	Status        string `json:"status"`
	Success       bool   `json:"success"`
	OutcomeKind   string `json:"outcome_kind"`
	ExploitResult string `json:"exploit_result,omitempty"`
	Attempts      int    `json:"attempts"`
	DurationMs    int64  `json:"duration_ms"`
	Error         string `json:"error,omitempty"`
}

func viewOf(r domain.Result) resultView {
	v := resultView{
		Address:     r.Device.Address.String(),
		Name:        r.Device.Name,
		Status:      r.Device.Status.String(),
		Success:     r.Success(),
		OutcomeKind: r.Outcome.String(),
		Attempts:    r.Attempts,
		DurationMs:  r.Duration.Milliseconds(),
		Error:       r.Error,
	}
	if len(r.ExploitResult) > 0 {
		v.ExploitResult = hex.EncodeToString(r.ExploitResult)
	}
	return v
}

func statusColor(s domain.VulnStatus) func(format string, a ...interface{}) string {
	switch s {
	case domain.StatusConfirmed:
		return color.New(color.FgRed, color.Bold).SprintfFunc()
	case domain.StatusVulnerable:
		return color.YellowString
	case domain.StatusNotVulnerable:
		return color.GreenString
	case domain.StatusUnknown:
		return color.New(color.Faint).SprintfFunc()
	}
	return fmt.Sprintf
}

func printDevices(w io.Writer, devices []domain.Device, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(devices)
	}
	if len(devices) == 0 {
		color.New(color.FgYellow).Fprintln(w, "No devices found.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tADDRESS\tNAME\tSTATUS\tMODEL\tRSSI")
	for i, d := range devices {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%d\n",
			i+1, d.Address, d.DisplayName(), statusColor(d.Status)("%s", d.Status), d.ModelID, d.RSSI)
	}
	return tw.Flush()
}

func printResults(w io.Writer, results []domain.Result, asJSON bool) error {
	if asJSON {
		views := make([]resultView, len(results))
		for i, r := range results {
			views[i] = viewOf(r)
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(views)
	}

	for _, r := range results {
		printResult(w, r)
	}
	return nil
}

func printResult(w io.Writer, r domain.Result) {
	v := viewOf(r)
	if r.Success() {
		color.New(color.FgGreen, color.Bold).Fprintf(w, "%s  Access Granted: %s\n", v.Address, v.ExploitResult)
		return
	}
	line := fmt.Sprintf("%s  %s after %d attempt(s)", v.Address, v.OutcomeKind, v.Attempts)
	if v.Error != "" {
		line += ": " + v.Error
	}
	color.New(color.FgRed).Fprintln(w, line)
}
