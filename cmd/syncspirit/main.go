// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli"

	_ "github.com/syncspirit/syncspirit-go/lib/automaxprocs"
	"github.com/syncspirit/syncspirit-go/lib/config"
	"github.com/syncspirit/syncspirit-go/lib/db"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
	"github.com/syncspirit/syncspirit-go/lib/syncspirit"
)

var l = logger.New("main")

// socketFlag and its default mirror the per-invocation control socket a
// running "run" command listens on and every other subcommand dials
// (spec.md §6.4 "CLI / daemon commands").
var socketFlag = cli.StringFlag{
	Name:  "socket",
	Value: "./syncspirit.sock",
	Usage: "control socket of a running daemon",
}

func main() {
	app := cli.NewApp()
	app.Name = "syncspirit"
	app.Usage = "BEP peer-to-peer file synchronization daemon"
	app.Commands = []cli.Command{
		runCommand,
		addPeerCommand,
		removePeerCommand,
		shareFolderCommand,
		unshareFolderCommand,
		rescanCommand,
		statusCommand,
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var runCommand = cli.Command{
	Name:  "run",
	Usage: "start the daemon",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "db", Value: "./syncspirit.db", Usage: "on-disk index directory"},
		cli.StringFlag{Name: "cert", Usage: "TLS certificate (PEM)"},
		cli.StringFlag{Name: "key", Usage: "TLS private key (PEM)"},
		cli.StringFlag{Name: "listen", Value: "0.0.0.0:22000", Usage: "BEP listen address"},
		socketFlag,
		cli.DurationFlag{Name: "inactivity-timeout", Usage: "exit once idle (no connected peers) for this long; 0 disables"},
		cli.BoolFlag{Name: "local-discovery", Usage: "enable LAN beacon discovery"},
	},
	Action: func(c *cli.Context) error {
		return runDaemon(c)
	},
}

func runDaemon(c *cli.Context) error {
	certPath, keyPath := c.String("cert"), c.String("key")
	if certPath == "" || keyPath == "" {
		return errors.New("run requires --cert and --key")
	}
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("loading certificate: %w", err)
	}
	myID := protocol.DeviceIDFromCert(cert.Certificate[0])
	l.Infof("local device id: %s", myID)

	tlsCfg := &tls.Config{
		Certificates:       []tls.Certificate{cert},
		ClientAuth:         tls.RequireAnyClientCert,
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}

	store, err := db.Open(c.String("db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	cfg := config.NewWrapper(myID)
	opts := cfg.Options()
	opts.ListenAddress = "tcp://" + c.String("listen")
	cfg.SetOptions(opts)

	daemon, err := syncspirit.New(cfg, store, tlsCfg)
	if err != nil {
		store.Close()
		return fmt.Errorf("starting daemon: %w", err)
	}
	defer daemon.Close()

	ctx, cancel := contextWithSignals()
	defer cancel()

	if c.Bool("local-discovery") {
		if err := daemon.EnableLocalDiscovery(uint64(time.Now().UnixNano())); err != nil {
			l.Warnf("local discovery disabled: %v", err)
		}
	}

	daemon.EnableControl(c.String("socket"))
	daemon.DialKnownDevices(ctx)

	err = daemon.ListenAndServe(ctx, c.Duration("inactivity-timeout"))
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

var addPeerCommand = cli.Command{
	Name:      "add-peer",
	Usage:     "add or update a peer device",
	ArgsUsage: "<device-id>",
	Flags: []cli.Flag{
		socketFlag,
		cli.StringFlag{Name: "name", Usage: "friendly name for the device"},
		cli.StringFlag{Name: "address", Usage: "dial address, e.g. tcp://1.2.3.4:22000"},
	},
	Action: func(c *cli.Context) error {
		id, err := requireArg(c, "device-id")
		if err != nil {
			return err
		}
		_, err = syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{
			Command: "add-peer", DeviceID: id, Name: c.String("name"), Address: c.String("address"),
		})
		return err
	},
}

var removePeerCommand = cli.Command{
	Name:      "remove-peer",
	Usage:     "remove a peer device",
	ArgsUsage: "<device-id>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		id, err := requireArg(c, "device-id")
		if err != nil {
			return err
		}
		_, err = syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{
			Command: "remove-peer", DeviceID: id,
		})
		return err
	},
}

var shareFolderCommand = cli.Command{
	Name:      "share-folder",
	Usage:     "share a folder with a device",
	ArgsUsage: "<folder-id> <device-id>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		folderID, deviceID, err := requireTwoArgs(c)
		if err != nil {
			return err
		}
		_, err = syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{
			Command: "share-folder", FolderID: folderID, DeviceID: deviceID,
		})
		return err
	},
}

var unshareFolderCommand = cli.Command{
	Name:      "unshare-folder",
	Usage:     "stop sharing a folder with a device",
	ArgsUsage: "<folder-id> <device-id>",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		folderID, deviceID, err := requireTwoArgs(c)
		if err != nil {
			return err
		}
		_, err = syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{
			Command: "unshare-folder", FolderID: folderID, DeviceID: deviceID,
		})
		return err
	},
}

var rescanCommand = cli.Command{
	Name:      "rescan",
	Usage:     "request a rescan of a folder",
	ArgsUsage: "<folder-id> [sub-path]",
	Flags:     []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		folderID, err := requireArg(c, "folder-id")
		if err != nil {
			return err
		}
		_, err = syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{
			Command: "rescan", FolderID: folderID, SubPath: c.Args().Get(1),
		})
		return err
	},
}

var statusCommand = cli.Command{
	Name:  "status",
	Usage: "print connection and folder status",
	Flags: []cli.Flag{socketFlag},
	Action: func(c *cli.Context) error {
		resp, err := syncspirit.SendControl(c.String("socket"), syncspirit.ControlRequest{Command: "status"})
		if err != nil {
			return err
		}
		fmt.Print(resp.Status)
		return nil
	},
}

func requireArg(c *cli.Context, name string) (string, error) {
	if c.NArg() < 1 {
		return "", fmt.Errorf("missing required argument <%s>", name)
	}
	return c.Args().Get(0), nil
}

func requireTwoArgs(c *cli.Context) (string, string, error) {
	if c.NArg() < 2 {
		return "", "", errors.New("missing required arguments")
	}
	return c.Args().Get(0), c.Args().Get(1), nil
}

func contextWithSignals() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()
	return ctx, cancel
}
