package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kuuji/kdvdbridge/internal/control"
	"github.com/kuuji/kdvdbridge/pkg/protocol"
)

var sendCmd = &cobra.Command{
	Use:   "send <action> [args...]",
	Short: "Dispatch an action through the running bridge",
	Long: `Dispatch a UI action through the bridge started by 'kdvdbridge run'.

Actions and their arguments:
  playTitle <titleId>          showMenu <menuId>
  navigate <up|down|left|right|back>
  select                       goBack
  updateSetting <name> <value> (value is JSON or a plain string)
  setVolume <0..1>             seekTo <seconds>`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

var readyCmd = &cobra.Command{
	Use:   "ready",
	Short: "Mark the running bridge as ready",
	Args:  cobra.NoArgs,
	RunE:  runReadyCmd,
}

func runSend(cmd *cobra.Command, args []string) error {
	// Validate locally first for a better error than the server's.
	if _, err := protocol.ParseAction(args[0], args[1:]); err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	resp, err := control.NewClient(controlSocketPath()).Dispatch(ctx, args[0], args[1:])
	if err != nil {
		return fmt.Errorf("is kdvdbridge running? %w", err)
	}

	state := styleOK.Render("sent")
	if resp.Queued {
		state = styleDim.Render("queued")
	}
	fmt.Fprintf(os.Stdout, "%s %s (%d listener(s))\n", resp.Type, state, resp.Listeners)
	if resp.Evicted {
		fmt.Fprintln(os.Stderr, styleBad.Render("pending queue full: oldest envelope dropped"))
	}
	if len(resp.Failures) > 0 {
		fmt.Fprintf(os.Stderr, "listener failures:\n  %s\n", strings.Join(resp.Failures, "\n  "))
	}
	return nil
}

func runReadyCmd(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	transitioned, err := control.NewClient(controlSocketPath()).MarkReady(ctx)
	if err != nil {
		return fmt.Errorf("is kdvdbridge running? %w", err)
	}
	if transitioned {
		fmt.Println("Bridge is now ready.")
	} else {
		fmt.Println("Bridge was already ready.")
	}
	return nil
}
