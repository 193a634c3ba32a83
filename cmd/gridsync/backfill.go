// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/blinklabs-io/gridsync/internal/config"
	"github.com/spf13/cobra"
)

// backfill subcommands are thin clients for the operator API of a
// running gridsync instance.

var backfillFlags = struct {
	apiUrl   string
	area     string
	endpoint string
	from     string
	to       string
}{}

func apiUrl(cmd *cobra.Command) string {
	if backfillFlags.apiUrl != "" {
		return backfillFlags.apiUrl
	}
	cfg := config.FromContext(cmd.Context())
	if cfg != nil && cfg.ApiPort > 0 {
		return fmt.Sprintf("http://127.0.0.1:%d", cfg.ApiPort)
	}
	return "http://127.0.0.1:8080"
}

func apiCall(
	method string,
	url string,
	body any,
) error {
	var reqBody io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf(
			"request failed (%d): %s",
			resp.StatusCode,
			string(respBody),
		)
	}
	// Re-indent for display
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, respBody, "", "  "); err != nil {
		fmt.Println(string(respBody))
		return nil
	}
	fmt.Println(pretty.String())
	return nil
}

func backfillCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "backfill",
		Short: "Manage historical backfill jobs",
	}
	cmd.PersistentFlags().StringVar(
		&backfillFlags.apiUrl,
		"api-url",
		"",
		"base URL of the gridsync API (default from config)",
	)
	cmd.AddCommand(backfillStartCommand())
	cmd.AddCommand(backfillResumeCommand())
	cmd.AddCommand(backfillStatusCommand())
	cmd.AddCommand(backfillListCommand())
	return cmd
}

func backfillStartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start a new backfill job",
		Run: func(cmd *cobra.Command, args []string) {
			from, err := time.Parse(time.RFC3339, backfillFlags.from)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --from: %s\n", err)
				os.Exit(1)
			}
			to, err := time.Parse(time.RFC3339, backfillFlags.to)
			if err != nil {
				fmt.Fprintf(os.Stderr, "invalid --to: %s\n", err)
				os.Exit(1)
			}
			err = apiCall(
				http.MethodPost,
				apiUrl(cmd)+"/v1/backfill",
				map[string]any{
					"area":     backfillFlags.area,
					"endpoint": backfillFlags.endpoint,
					"from":     from,
					"to":       to,
				},
			)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().StringVar(
		&backfillFlags.area, "area", "", "market area (EIC code)",
	)
	cmd.Flags().StringVar(
		&backfillFlags.endpoint, "endpoint", "", "endpoint name",
	)
	cmd.Flags().StringVar(
		&backfillFlags.from, "from", "", "window start (RFC3339)",
	)
	cmd.Flags().StringVar(
		&backfillFlags.to, "to", "", "window end (RFC3339)",
	)
	for _, required := range []string{"area", "endpoint", "from", "to"} {
		//nolint:errcheck
		cmd.MarkFlagRequired(required)
	}
	return cmd
}

func backfillResumeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume an interrupted or failed backfill job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := apiCall(
				http.MethodPost,
				apiUrl(cmd)+"/v1/backfill/"+args[0]+"/resume",
				nil,
			)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		},
	}
}

func backfillStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a backfill job",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			err := apiCall(
				http.MethodGet,
				apiUrl(cmd)+"/v1/backfill/"+args[0],
				nil,
			)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		},
	}
}

func backfillListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List backfill jobs",
		Run: func(cmd *cobra.Command, args []string) {
			err := apiCall(
				http.MethodGet,
				apiUrl(cmd)+"/v1/backfill",
				nil,
			)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		},
	}
}

func coverageCommand() *cobra.Command {
	var lookbackYears int
	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Report missing coverage per area and endpoint",
		Run: func(cmd *cobra.Command, args []string) {
			err := apiCall(
				http.MethodGet,
				fmt.Sprintf(
					"%s/v1/coverage?lookback_years=%d",
					apiUrl(cmd),
					lookbackYears,
				),
				nil,
			)
			if err != nil {
				fmt.Fprintln(os.Stderr, err.Error())
				os.Exit(1)
			}
		},
	}
	cmd.Flags().IntVar(
		&lookbackYears,
		"lookback-years",
		3,
		"historical depth to analyze",
	)
	cmd.PersistentFlags().StringVar(
		&backfillFlags.apiUrl,
		"api-url",
		"",
		"base URL of the gridsync API (default from config)",
	)
	return cmd
}
