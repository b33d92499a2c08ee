package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/control"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show bridge status",
	Long:  `Query the running bridge and display its state, pending queue and message counters.`,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	status, err := control.FetchStatus(controlSocketPath())
	if err != nil {
		return fmt.Errorf("is kdvdbridge running? %w", err)
	}
	printStatus(status)
	return nil
}

func printStatus(status *control.Status) {
	fmt.Fprintln(os.Stdout, styleHeader.Render("kdvdbridge "+status.Version))
	fmt.Fprintf(os.Stdout, "%s   %s\n", styleKey.Render("Ready:"), yesNo(status.Ready))
	fmt.Fprintf(os.Stdout, "%s    %s\n", styleKey.Render("Host:"), yesNo(status.TransportAttached))
	fmt.Fprintf(os.Stdout, "%s  %s\n", styleKey.Render("Server:"), status.ServerURL)
	fmt.Fprintf(os.Stdout, "%s  %s\n", styleKey.Render("Uptime:"), formatDuration(time.Duration(status.UptimeSeconds*float64(time.Second))))
	fmt.Fprintf(os.Stdout, "%s  %s\n", styleKey.Render("Events:"), strings.Join(status.Capabilities, ", "))
	fmt.Println()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PENDING\tSENT\tQUEUED\tDROPPED\tRECEIVED\tMALFORMED\tUNKNOWN\tLISTENERS\tFAILURES")
	fmt.Fprintf(w, "%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		status.Pending, status.Sent, status.Queued, status.Dropped,
		status.Received, status.Malformed, status.Unknown,
		status.Listeners, status.ListenerFailures)
	w.Flush()
}
