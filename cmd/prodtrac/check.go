package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/akfujita/prodtrac/internal/config"
	"github.com/akfujita/prodtrac/internal/ui"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Validate the station config and list the ports it would run",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
		cfg, err := config.Load(configPath, logger)
		if err != nil {
			if errors.Is(err, config.ErrNoPorts) {
				fmt.Println(ui.RenderError("no valid serial ports configured"))
			}
			return err
		}

		fmt.Println(ui.RenderOK("config ok"), ui.RenderMuted(configPath))
		fmt.Println(ui.RenderMuted("store:"), cfg.Store.DatabaseURL)
		if cfg.Display.NATSURL != "" {
			fmt.Println(ui.RenderMuted("display:"), cfg.Display.NATSURL, ui.RenderMuted("station="+cfg.Display.Station))
		} else {
			fmt.Println(ui.RenderMuted("display:"), ui.RenderWarn("disabled (no nats_url)"))
		}
		fmt.Println(ui.RenderMuted("audit:"), cfg.Audit.Dir)
		for _, p := range cfg.Ports {
			fmt.Printf("%s %d %d%s%d worker=%s process=%s\n",
				ui.RenderPort(p.Device), p.Baud, p.DataBits, p.Parity, p.StopBits,
				p.WorkerCD, p.ProcessCD)
		}
		return nil
	},
}
