package main

import (
	"fmt"
	"os"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

var qrCmd = &cobra.Command{
	Use:   "qr",
	Short: "Display a QR code for the host router connect URL",
	Long: `Displays a QR code containing the WebSocket URL pages use to reach
the host router, built from host.public_url (or host.listen). A player
can scan it instead of typing the address.`,
	Args: cobra.NoArgs,
	RunE: runQR,
}

func runQR(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(false)
	if err != nil {
		return err
	}

	connectURL, err := normalizeServerURL(cfg.HostPublicURL())
	if err != nil {
		return fmt.Errorf("building connect URL: %w", err)
	}

	qr, err := qrcode.New(connectURL, qrcode.Medium)
	if err != nil {
		return fmt.Errorf("generating QR code: %w", err)
	}

	fmt.Fprintln(os.Stderr, qr.ToSmallString(false))
	fmt.Fprintf(os.Stderr, "Connect URL: %s\n", connectURL)
	return nil
}
