package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/slaclab/bsastream/internal/server"
)

func httpClient() *http.Client {
	return &http.Client{Timeout: 30 * time.Second}
}

func getJSON(cmd *cobra.Command, path string, dst interface{}) error {
	req, err := http.NewRequestWithContext(cmd.Context(), http.MethodGet, serverURL+path, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient().Do(req)
	if err != nil {
		return fmt.Errorf("request %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("%s: %s: %s", path, resp.Status, bytes.TrimSpace(body))
	}
	return json.NewDecoder(resp.Body).Decode(dst)
}

func streamsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "streams",
		Short: "List configured streams and pairs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.ListResponse
			if err := getJSON(cmd, "/api/v1/streams", &resp); err != nil {
				return err
			}

			for _, s := range resp.Streams {
				state := "running"
				if !s.Running {
					state = "disabled"
				}
				fmt.Printf("stream  %-16s %-28s %-8s %6.1f Hz  pulse %5d  [%s]\n",
					s.Name, s.Channel, s.Beamline, s.SampleRate, s.PulseID, state)
			}
			for _, p := range resp.Pairs {
				fmt.Printf("pair    %-16s %s + %s  %s\n", p.Name, p.Ch1, p.Ch2, p.Beamline)
			}
			return nil
		},
	}
}

func snapshotCmd() *cobra.Command {
	var tail int
	cmd := &cobra.Command{
		Use:   "snapshot <stream>",
		Short: "Fetch one buffer snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.SnapshotResponse
			if err := getJSON(cmd, "/api/v1/streams/"+args[0]+"/snapshot", &resp); err != nil {
				return err
			}

			fmt.Printf("channel:          %s (%s)\n", resp.Channel, resp.Beamline)
			fmt.Printf("pulse ID:         %d\n", resp.PulseID)
			fmt.Printf("sample rate:      %.2f Hz\n", resp.SampleRate)
			fmt.Printf("ticks per sample: %s\n", formatNullable(float64(resp.TicksPerSample)))
			fmt.Printf("buffer modulus:   %s\n", formatNullable(float64(resp.BufferModulus)))
			fmt.Printf("points:           %d (%d missing)\n", len(resp.Values), countNaN(resp.Values))

			if tail > 0 {
				start := len(resp.Values) - tail
				if start < 0 {
					start = 0
				}
				fmt.Printf("newest %d: %v\n", len(resp.Values)-start, resp.Values[start:])
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&tail, "tail", 0, "print the newest N values")
	return cmd
}

func alignedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "aligned <pair>",
		Short: "Fetch the time-aligned overlap of a pair",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var resp server.AlignedResponse
			if err := getJSON(cmd, "/api/v1/pairs/"+args[0]+"/aligned", &resp); err != nil {
				return err
			}

			fmt.Printf("pulse ID:      %d\n", resp.PulseID)
			fmt.Printf("synced points: %d\n", resp.Points)
			fmt.Printf("missing A/B:   %d/%d\n", countNaN(resp.A), countNaN(resp.B))
			return nil
		},
	}
}

func reconfigureCmd() *cobra.Command {
	var channel, line string
	cmd := &cobra.Command{
		Use:   "reconfigure <stream>",
		Short: "Point a stream at a new channel and/or beamline",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			body, err := json.Marshal(server.ReconfigureStreamRequest{
				Channel:  channel,
				Beamline: line,
			})
			if err != nil {
				return err
			}

			req, err := http.NewRequestWithContext(cmd.Context(), http.MethodPut,
				serverURL+"/api/v1/streams/"+args[0], bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := httpClient().Do(req)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if resp.StatusCode != http.StatusOK {
				respBody, _ := io.ReadAll(resp.Body)
				return fmt.Errorf("reconfigure failed: %s: %s", resp.Status, bytes.TrimSpace(respBody))
			}
			fmt.Println("reconfigured")
			return nil
		},
	}
	cmd.Flags().StringVar(&channel, "channel", "", "new channel address")
	cmd.Flags().StringVar(&line, "beamline", "", "new beamline")
	_ = cmd.MarkFlagRequired("channel")
	_ = cmd.MarkFlagRequired("beamline")
	return cmd
}

func countNaN(values []float64) int {
	n := 0
	for _, v := range values {
		if math.IsNaN(v) {
			n++
		}
	}
	return n
}

func formatNullable(v float64) string {
	if math.IsNaN(v) {
		return "undefined (no beam)"
	}
	return fmt.Sprintf("%.3f", v)
}
