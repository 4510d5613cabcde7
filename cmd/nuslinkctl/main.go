// Command nuslinkctl is a small demo/ops binary for the adaptive transmit
// engine: it drives an engine.Engine over an in-process loopback
// HostStack so every configuration knob can be exercised without a real
// BLE controller.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli"

	"github.com/nusuart/serial"
	"github.com/nusuart/serial/engine"
	"github.com/nusuart/serial/linkprofile"
	"github.com/nusuart/serial/nusperiph"
)

func modeFromString(s string) (linkprofile.Mode, error) {
	switch s {
	case "fast":
		return linkprofile.Fast, nil
	case "balanced":
		return linkprofile.Balanced, nil
	case "low_power", "lowpower":
		return linkprofile.LowPower, nil
	case "long_range", "longrange":
		return linkprofile.LongRange, nil
	default:
		return 0, fmt.Errorf("unknown mode %q (want fast|balanced|low_power|long_range)", s)
	}
}

func pumpModeFromString(s string) (serial.PumpMode, error) {
	switch s {
	case "polling":
		return serial.PumpPolling, nil
	case "task":
		return serial.PumpTask, nil
	default:
		return 0, fmt.Errorf("unknown pump_mode %q (want polling|task)", s)
	}
}

var commonFlags = []cli.Flag{
	cli.StringFlag{Name: "mode", Value: "balanced", Usage: "fast|balanced|low_power|long_range"},
	cli.StringFlag{Name: "device-name", Value: "NUS-UART"},
	cli.BoolFlag{Name: "secure"},
	cli.StringFlag{Name: "pump-mode", Value: "polling", Usage: "polling|task"},
	cli.IntFlag{Name: "log-level", Value: int(serial.LogLevelNotice), Usage: "0=debug .. 5=critical"},
	cli.StringFlag{Name: "log-file", Usage: "rotating log file path, empty disables it"},
}

func configFromContext(c *cli.Context) (cfg serial.Config, err error) {
	mode, err := modeFromString(c.String("mode"))
	if err != nil {
		return cfg, err
	}
	pumpMode, err := pumpModeFromString(c.String("pump-mode"))
	if err != nil {
		return cfg, err
	}
	cfg = serial.Config{
		Mode:        mode,
		DeviceName:  c.String("device-name"),
		Secure:      c.Bool("secure"),
		LogLevel:    serial.LogLevel(c.Int("log-level")),
		PumpMode:    pumpMode,
		LogFilePath: c.String("log-file"),
	}
	return cfg, cfg.Validate()
}

func main() {
	app := cli.NewApp()
	app.Name = "nuslinkctl"
	app.Usage = "drive the NUS adaptive transmit engine over a loopback host stack"
	app.Flags = []cli.Flag{}
	app.Commands = []cli.Command{
		{
			Name:   "demo",
			Usage:  "round-trip a payload through the engine over an in-process loopback",
			Flags:  append(append([]cli.Flag{}, commonFlags...), cli.IntFlag{Name: "bytes", Value: 4096}),
			Action: runDemo,
		},
		{
			Name:   "profiles",
			Usage:  "print the four operating-mode connection-parameter targets",
			Action: runProfiles,
		},
		{
			Name:  "adv",
			Usage: "print the advertising and scan-response payloads for a mode/name",
			Flags: []cli.Flag{
				cli.StringFlag{Name: "mode", Value: "balanced", Usage: "fast|balanced|low_power|long_range"},
				cli.StringFlag{Name: "device-name", Value: "NUS-UART"},
				cli.IntFlag{Name: "tx-power", Value: 0, Usage: "advertised TX power level in dBm"},
			},
			Action: runAdv,
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "nuslinkctl:", err)
		os.Exit(1)
	}
}

// runProfiles prints linkprofile.Registry's four mode targets.
func runProfiles(c *cli.Context) error {
	reg := linkprofile.NewRegistry()
	for _, m := range []linkprofile.Mode{linkprofile.Fast, linkprofile.Balanced, linkprofile.LowPower, linkprofile.LongRange} {
		p, err := reg.Resolve(m)
		if err != nil {
			return err
		}
		fmt.Printf("%-11s min=%4dx1.25ms max=%4dx1.25ms latency=%d timeout=%dx10ms phy=%v->%v slack=%dus\n",
			p.Mode, p.ConnParams.MinIntervalUnits, p.ConnParams.MaxIntervalUnits,
			p.ConnParams.SlaveLatencyEvents, p.ConnParams.SupervisionTimeoutUnits,
			p.ConnParams.PreferredPHY, p.ConnParams.FallbackPHY, p.ModeSlackUS)
	}
	return nil
}

// runAdv builds and hex-dumps the GAP advertising payload nusperiph would
// hand the host stack for the given mode and device name.
func runAdv(c *cli.Context) error {
	mode, err := modeFromString(c.String("mode"))
	if err != nil {
		return err
	}
	profile, err := linkprofile.NewRegistry().Resolve(mode)
	if err != nil {
		return err
	}
	advPkt, scanRsp, err := nusperiph.AdvertisingPackets(c.String("device-name"), int8(c.Int("tx-power")), profile)
	if err != nil {
		return err
	}
	fmt.Printf("advertising  (%2d bytes): %x\n", advPkt.Len(), advPkt.Bytes())
	fmt.Printf("scan rsp     (%2d bytes): %x\n", scanRsp.Len(), scanRsp.Bytes())
	return nil
}

// runDemo begins an Engine over an echoing Loopback HostStack, negotiates
// a generous MTU, writes a fixed payload, flushes it through the
// ring/pacer pipeline, and reports the engine's counters.
func runDemo(c *cli.Context) error {
	cfg, err := configFromContext(c)
	if err != nil {
		return err
	}
	serial.SetupLogging(cfg.LogLevel, cfg.LogFilePath)

	lb := engine.NewLoopback()
	lb.Echo = true

	e, err := engine.Begin(serial.NewInstanceID(), cfg, lb, engine.Observer{
		OnConnect:    func(mac string) { fmt.Printf("connected: %s\n", mac) },
		OnDisconnect: func(reason engine.DisconnectReason) { fmt.Printf("disconnected: %s\n", reason) },
	})
	if err != nil {
		return err
	}
	defer e.End()
	lb.Attach(e)

	e.OnConnect(1, "loopback-peer")
	e.OnSubscribeChanged(true)
	e.OnMTUNegotiated(247)

	payload := make([]byte, c.Int("bytes"))
	for i := range payload {
		payload[i] = byte(i)
	}

	deadline := time.Now().Add(10 * time.Second)
	written := e.WriteTimeout(payload, deadline)
	e.Flush()

	fmt.Printf("wrote=%d bytes_tx=%d bytes_rx=%d tx_drops=%d interval_us=%d mtu=%d\n",
		written, e.BytesTx(), e.BytesRx(), e.TxDrops(), e.IntervalUS(), e.MTU())
	return nil
}
