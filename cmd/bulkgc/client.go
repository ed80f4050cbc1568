package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dray-io/bulkgc/internal/api"
	"github.com/dray-io/bulkgc/internal/bulk"
)

// DefaultServer is the API address status, list and abort talk to.
const DefaultServer = "http://localhost:8080"

// errNotFound is returned for 404 responses.
var errNotFound = errors.New("not found")

// apiClient talks to a running bulkgc serve.
type apiClient struct {
	base string
	http *http.Client
}

func newAPIClient(server string) *apiClient {
	return &apiClient{
		base: strings.TrimRight(server, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e api.ErrorResponse
		_ = json.NewDecoder(resp.Body).Decode(&e)
		switch resp.StatusCode {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %s", errNotFound, e.Error)
		case http.StatusBadRequest:
			return &bulk.ValidationError{Field: e.Field, Reason: e.Error}
		}
		return fmt.Errorf("%s %s: %s: %s", method, path, resp.Status, e.Error)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *apiClient) status(ctx context.Context, id string) (*bulk.Status, error) {
	var st bulk.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/bulk/"+url.PathEscape(id), nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *apiClient) list(ctx context.Context, user string) ([]*bulk.Status, error) {
	var sts []*bulk.Status
	if err := c.do(ctx, http.MethodGet, "/api/v1/bulk?user="+url.QueryEscape(user), nil, &sts); err != nil {
		return nil, err
	}
	return sts, nil
}

func (c *apiClient) abort(ctx context.Context, id string) (*bulk.Status, error) {
	var st bulk.Status
	if err := c.do(ctx, http.MethodPost, "/api/v1/bulk/"+url.PathEscape(id)+"/abort", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

type clientOptions struct {
	server string
	output string
}

func (o *clientOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.server, "server", "s", DefaultServer, "bulkgc API address")
	cmd.Flags().StringVarP(&o.output, "output", "o", outputTable, "output format (table|json)")
}

func newStatusCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "status <id>",
		Short: "Show the status of a command",
		Long: `Show the status of a command.

Exits 3 when the command completed with failed items and 1 when it was
aborted or failed. A command still running exits 0.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(opts.server).status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if err := printStatus(cmd.OutOrStdout(), opts.output, st); err != nil {
				return err
			}
			if !st.State.IsTerminal() {
				return nil
			}
			return statusExit(st)
		},
	}
	opts.register(cmd)
	return cmd
}

func newListCmd() *cobra.Command {
	var (
		opts clientOptions
		user string
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the commands of a user",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sts, err := newAPIClient(opts.server).list(cmd.Context(), user)
			if err != nil {
				return err
			}
			return printStatuses(cmd.OutOrStdout(), opts.output, sts)
		},
	}
	opts.register(cmd)
	cmd.Flags().StringVarP(&user, "user", "u", "system", "user whose commands are listed")
	return cmd
}

func newAbortCmd() *cobra.Command {
	var opts clientOptions
	cmd := &cobra.Command{
		Use:   "abort <id>",
		Short: "Request the abort of a running command",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := newAPIClient(opts.server).abort(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printStatus(cmd.OutOrStdout(), opts.output, st)
		},
	}
	opts.register(cmd)
	return cmd
}
