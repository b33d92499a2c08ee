package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/hostrouter"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

var (
	hostURLFlag  string
	journalCount int
)

var pushCmd = &cobra.Command{
	Use:   "push <command> [args...]",
	Short: "Push a command to every page connected to the host router",
	Long: `Push a host command to the connected pages.

Commands and their arguments:
  play_title <titleId>     show_menu <menuId>
  navigate <direction>     select     go_back
  update_setting <name> <value>`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPush,
}

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List pages connected to the host router",
	Args:  cobra.NoArgs,
	RunE:  runSessions,
}

var journalCmd = &cobra.Command{
	Use:   "journal",
	Short: "Show the most recent actions recorded by the host router",
	Args:  cobra.NoArgs,
	RunE:  runJournal,
}

func init() {
	for _, c := range []*cobra.Command{pushCmd, sessionsCmd, journalCmd} {
		c.Flags().StringVar(&hostURLFlag, "host", "", "host router URL (default: host.public_url)")
	}
	journalCmd.Flags().IntVarP(&journalCount, "count", "n", 20, "number of entries to show")
}

// hostBaseURL resolves the host router API base URL from --host or config.
func hostBaseURL() (string, error) {
	raw := hostURLFlag
	if raw == "" {
		cfg, err := loadConfig(false)
		if err != nil {
			return "", err
		}
		raw = cfg.HostPublicURL()
	}
	return hostAPIURL(raw)
}

// hostRequest performs a request against the host router API and decodes
// a successful JSON response into out.
func hostRequest(ctx context.Context, method, path string, body, out any) error {
	base, err := hostBaseURL()
	if err != nil {
		return err
	}

	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request: %w", err)
		}
		rd = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("is the host router running? %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Message string `json:"error"`
		}
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Message != "" {
			return fmt.Errorf("host router: %s (status %d)", apiErr.Message, resp.StatusCode)
		}
		return fmt.Errorf("host router: unexpected status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}
	return nil
}

func runPush(cmd *cobra.Command, args []string) error {
	if _, err := protocol.ParseCommand(args[0], args[1:]); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var resp hostrouter.PushResponse
	req := hostrouter.CommandRequest{Command: args[0], Args: args[1:]}
	if err := hostRequest(ctx, http.MethodPost, "/commands", req, &resp); err != nil {
		return err
	}

	fmt.Fprintf(os.Stdout, "Pushed %s to %d page(s).\n", resp.Type, resp.Sessions)
	return nil
}

func runSessions(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var sessions []hostrouter.SessionInfo
	if err := hostRequest(ctx, http.MethodGet, "/sessions", nil, &sessions); err != nil {
		return err
	}

	if len(sessions) == 0 {
		fmt.Println("No pages connected.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCLIENT\tREMOTE\tCONNECTED")
	for _, s := range sessions {
		client := s.Client
		if client == "" {
			client = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s ago\n", s.ID, client, s.Remote, formatDuration(time.Since(s.Connected)))
	}
	w.Flush()
	return nil
}

func runJournal(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	q := url.Values{"count": {strconv.Itoa(journalCount)}}
	var envs []protocol.Envelope
	if err := hostRequest(ctx, http.MethodGet, "/journal?"+q.Encode(), nil, &envs); err != nil {
		return err
	}

	if len(envs) == 0 {
		fmt.Println("Journal is empty.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TIME\tTYPE\tPAYLOAD")
	for _, env := range envs {
		fmt.Fprintf(w, "%s\t%s\t%s\n", env.Time().Format(time.RFC3339), env.Type, env.Payload)
	}
	w.Flush()
	return nil
}
