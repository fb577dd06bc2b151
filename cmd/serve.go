// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Thermoquad/iox/pkg/board"
	"github.com/Thermoquad/iox/pkg/eeprom"
	"github.com/Thermoquad/iox/pkg/expander"
	"github.com/Thermoquad/iox/pkg/hal"
)

var (
	serveBoard          string
	serveDriver         string
	serveListen         string
	servePath           string
	serveEEPROM         string
	serveDimmerRate     int
	serveSampleInterval time.Duration
	serveDiag           bool
	serveConsole        bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the expander",
	Long: `Run an I/O expander for the selected board.

The expander answers link frames on a serial port (--port) or on a WebSocket
listener (--listen). Frames addressed to other bus addresses are ignored.

The diagnostic console reads <X params> commands from stdin:
  <D [secs]>  toggle the pin display    <T [A|I|O|P]>  test modes
  <E> <R> <W addr>  stored bus address  <T S vpin value profile>  test move
  <V>  banner and Vpin map              <Z>  restart

Examples:
  iox serve --board uno --port /dev/ttyS0
  iox serve --board rpi --driver periph --listen :8080 --eeprom /var/lib/iox/address`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveBoard, "board", "uno", "Board pin table ("+strings.Join(board.Names(), ", ")+")")
	serveCmd.Flags().StringVar(&serveDriver, "driver", "sim", "Pin driver (sim, periph)")
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "Serve the link on a WebSocket listener (host:port)")
	serveCmd.Flags().StringVar(&servePath, "path", "/iox", "WebSocket path")
	serveCmd.Flags().StringVar(&serveEEPROM, "eeprom", "", "File that stores the bus address")
	serveCmd.Flags().IntVar(&serveDimmerRate, "dimmer-rate", 1000, "Software dimmer tick rate in Hz")
	serveCmd.Flags().DurationVar(&serveSampleInterval, "sample-interval", expander.DefaultSampleInterval, "Input sampling interval")
	serveCmd.Flags().BoolVar(&serveDiag, "diag", false, "Start with the pin display enabled")
	serveCmd.Flags().BoolVar(&serveConsole, "console", true, "Read console commands from stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	if portName == "" && serveListen == "" {
		return errors.New("either --port or --listen must be specified")
	}
	if serveDimmerRate <= 0 {
		return errors.Errorf("--dimmer-rate must be positive, got %d", serveDimmerRate)
	}
	address, err := parseAddress(busAddress)
	if err != nil {
		return err
	}
	b, err := board.Lookup(serveBoard)
	if err != nil {
		return err
	}
	driver, err := hal.Open(serveDriver, b)
	if err != nil {
		return err
	}

	cfg := expander.Config{
		Board:          b,
		Driver:         driver,
		Address:        address,
		DimmerPeriod:   time.Second / time.Duration(serveDimmerRate),
		SampleInterval: serveSampleInterval,
		Diag:           serveDiag,
		Logger:         logger.WithPrefix("expander"),
		Output:         os.Stdout,
	}
	if serveEEPROM != "" {
		cfg.Storage = eeprom.Open(serveEEPROM)
	}
	dev, err := expander.New(cfg)
	if err != nil {
		driver.Close()
		return err
	}
	defer dev.Close()

	dev.StartupBanner()
	logger.Info("expander ready", "board", b.Name, "driver", driver.Name(), "address", busAddressString(dev.Address()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return dev.Run(ctx) })
	if serveConsole {
		g.Go(func() error { return dev.ServeConsole(ctx, os.Stdin) })
	}
	if portName != "" {
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			stop()
			g.Wait()
			return err
		}
		logger.Info("serving serial link", "port", portName, "baud", baudRate)
		g.Go(func() error {
			defer conn.Close()
			return dev.Serve(ctx, conn)
		})
	}
	if serveListen != "" {
		g.Go(func() error { return serveWebSocket(ctx, dev) })
	}
	return g.Wait()
}

func serveWebSocket(ctx context.Context, dev *expander.Device) error {
	password := ""
	if wsUsername != "" {
		var err error
		if password, err = GetPassword(); err != nil {
			return err
		}
	}

	mux := http.NewServeMux()
	mux.Handle(servePath, WebSocketHandler(wsUsername, password, func(conn Connection) {
		defer conn.Close()
		logger.Info("link client connected")
		if err := dev.Serve(ctx, conn); err != nil {
			logger.Warn("link client", "err", err)
		}
		logger.Info("link client disconnected")
	}))
	srv := &http.Server{
		Addr:              serveListen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("serving WebSocket link", "listen", serveListen, "path", servePath)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrap(err, "websocket listener")
	}
	return nil
}
