package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"bytemomo/whisper/internal/domain"

	"github.com/fatih/color"
)

const menuLine = " 1. Scan | 2. Target | 3. Exploit Specific | 4. Exploit All | 0. Exit"

// runMenu drives the interactive session until 0 or end of input.
func runMenu(ctx context.Context, s *session, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	prompt := func(label string) (string, bool) {
		color.New(color.FgCyan).Fprint(out, label)
		if !scanner.Scan() {
			return "", false
		}
		return strings.TrimSpace(scanner.Text()), true
	}

	rule := color.BlueString(strings.Repeat("=", 70))
	for {
		fmt.Fprintf(out, "\n%s\n%s\n%s\n", rule, menuLine, rule)
		choice, ok := prompt("\nCommand > ")
		if !ok {
			return scanner.Err()
		}

		switch choice {
		case "1":
			runCtx, cancel := signalContext(ctx)
			color.New(color.FgYellow).Fprintln(out, "Scanning...")
			devices, err := s.engine.ScanDevices(runCtx, s.cfg.Scan.Duration)
			cancel()
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "Scan failed: %v\n", err)
				continue
			}
			listDevices(out, devices)

		case "2":
			listDevices(out, s.engine.Devices())

		case "3":
			devices := s.engine.Devices()
			if len(devices) == 0 {
				color.New(color.FgYellow).Fprintln(out, "Nothing to target; scan first.")
				continue
			}
			raw, ok := prompt("Device index: ")
			if !ok {
				return scanner.Err()
			}
			idx, err := strconv.Atoi(raw)
			if err != nil || idx < 1 || idx > len(devices) {
				color.New(color.FgRed).Fprintf(out, "Invalid index %q\n", raw)
				continue
			}
			d := devices[idx-1]
			color.New(color.FgRed).Fprintf(out, "Exploiting %s...\n", d.DisplayName())

			runCtx, cancel := signalContext(ctx)
			res, err := s.engine.ExploitDevice(runCtx, d.Address, d.Name)
			cancel()
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "Exploit failed: %v\n", err)
				continue
			}
			printResult(out, res)

		case "4":
			runCtx, cancel := signalContext(ctx)
			results, err := s.engine.ExploitAll(runCtx)
			cancel()
			if err != nil {
				color.New(color.FgRed).Fprintf(out, "Exploit failed: %v\n", err)
				continue
			}
			if len(results) == 0 {
				color.New(color.FgYellow).Fprintln(out, "Nothing to target; scan first.")
				continue
			}
			for _, r := range results {
				printResult(out, r)
			}

		case "0":
			return nil

		default:
			color.New(color.FgYellow).Fprintf(out, "Unknown command %q\n", choice)
		}
	}
}

func listDevices(out io.Writer, devices []domain.Device) {
	if len(devices) == 0 {
		color.New(color.FgYellow).Fprintln(out, "No devices.")
		return
	}
	for i, d := range devices {
		fmt.Fprintf(out, "[%d] %s - %s (%s)\n", i+1, d.DisplayName(), d.Address, statusColor(d.Status)("%s", d.Status))
	}
}
