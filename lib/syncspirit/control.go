// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package syncspirit

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/syncspirit/syncspirit-go/lib/config"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

// ControlRequest is one line of the control-socket protocol a running
// daemon accepts on its Unix socket (spec.md §6.4 "CLI / daemon
// commands"). Each connection carries exactly one JSON request and
// receives exactly one JSON response.
type ControlRequest struct {
	Command  string `json:"command"`
	DeviceID string `json:"device_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Address  string `json:"address,omitempty"`
	FolderID string `json:"folder_id,omitempty"`
	Label    string `json:"label,omitempty"`
	Path     string `json:"path,omitempty"`
	SubPath  string `json:"sub_path,omitempty"`
}

// ControlResponse reports the one-line outcome an invoking CLI process
// turns into an exit code: 0 for OK, nonzero with Error on stderr
// otherwise.
type ControlResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

// controlServer is the suture service accepting control-socket
// connections for the lifetime of a running Daemon.
type controlServer struct {
	d    *Daemon
	path string
}

func (s controlServer) Serve(ctx context.Context) error {
	os.Remove(s.path)
	ln, err := net.Listen("unix", s.path)
	if err != nil {
		return fmt.Errorf("listen on control socket %s: %w", s.path, err)
	}
	defer os.Remove(s.path)
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return err
			}
		}
		go s.handle(conn)
	}
}

func (s controlServer) handle(conn net.Conn) {
	defer conn.Close()
	var req ControlRequest
	if err := json.NewDecoder(conn).Decode(&req); err != nil {
		json.NewEncoder(conn).Encode(ControlResponse{Error: err.Error()})
		return
	}
	json.NewEncoder(conn).Encode(s.d.dispatch(req))
}

// SendControl dials the daemon listening on socketPath, sends req, and
// returns its response. Used by the CLI's non-"run" subcommands.
func SendControl(socketPath string, req ControlRequest) (ControlResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return ControlResponse{}, fmt.Errorf("connect to daemon at %s: %w", socketPath, err)
	}
	defer conn.Close()
	if err := json.NewEncoder(conn).Encode(req); err != nil {
		return ControlResponse{}, err
	}
	var resp ControlResponse
	if err := json.NewDecoder(conn).Decode(&resp); err != nil {
		return ControlResponse{}, err
	}
	if resp.Error != "" {
		return resp, fmt.Errorf("%s", resp.Error)
	}
	return resp, nil
}

// dispatch applies one control request against the live config and
// cluster, returning the outcome the control socket sends back.
func (d *Daemon) dispatch(req ControlRequest) ControlResponse {
	switch req.Command {
	case "add-peer":
		return d.addPeer(req)
	case "remove-peer":
		return d.removePeer(req)
	case "share-folder":
		return d.shareFolder(req, true)
	case "unshare-folder":
		return d.shareFolder(req, false)
	case "rescan":
		return d.rescan(req)
	case "status":
		return d.status()
	default:
		return ControlResponse{Error: fmt.Sprintf("unknown command %q", req.Command)}
	}
}

func (d *Daemon) addPeer(req ControlRequest) ControlResponse {
	id, err := protocol.DeviceIDFromString(req.DeviceID)
	if err != nil {
		return ControlResponse{Error: fmt.Sprintf("invalid device id: %v", err)}
	}
	dc := config.DeviceConfiguration{ID: id, Name: req.Name}
	if req.Address != "" {
		dc.Addresses = []string{req.Address}
	}
	d.Cfg.SetDevice(dc)

	if _, ok := d.Cluster.Device(id); !ok {
		dev := model.NewDevice(id, req.Name)
		dev.Addresses = dc.Addresses
		if err := model.ApplyDiff(d.Cluster, d.actor, model.NewAddDevice(dev)); err != nil {
			return ControlResponse{Error: err.Error()}
		}
	}
	return ControlResponse{OK: true}
}

func (d *Daemon) removePeer(req ControlRequest) ControlResponse {
	id, err := protocol.DeviceIDFromString(req.DeviceID)
	if err != nil {
		return ControlResponse{Error: fmt.Sprintf("invalid device id: %v", err)}
	}
	d.Cfg.RemoveDevice(id)
	if _, ok := d.Cluster.Device(id); ok {
		if err := model.ApplyDiff(d.Cluster, d.actor, model.NewRemoveDevice(d.Cluster, id)); err != nil {
			return ControlResponse{Error: err.Error()}
		}
	}
	return ControlResponse{OK: true}
}

func (d *Daemon) shareFolder(req ControlRequest, share bool) ControlResponse {
	id, err := protocol.DeviceIDFromString(req.DeviceID)
	if err != nil {
		return ControlResponse{Error: fmt.Sprintf("invalid device id: %v", err)}
	}
	if share {
		if err := d.Cfg.ShareFolder(req.FolderID, id); err != nil {
			return ControlResponse{Error: err.Error()}
		}
		if _, ok := d.Cluster.FolderInfo(req.FolderID, id); !ok {
			fi := model.NewFolderInfo(req.FolderID, id)
			if err := model.ApplyDiff(d.Cluster, d.actor, model.NewUpsertFolderInfo(fi)); err != nil {
				return ControlResponse{Error: err.Error()}
			}
		}
	} else {
		if err := d.Cfg.UnshareFolder(req.FolderID, id); err != nil {
			return ControlResponse{Error: err.Error()}
		}
	}
	return ControlResponse{OK: true}
}

func (d *Daemon) rescan(req ControlRequest) ControlResponse {
	if _, ok := d.Cluster.Folder(req.FolderID); !ok {
		return ControlResponse{Error: fmt.Sprintf("unknown folder %q", req.FolderID)}
	}
	d.sched.Request(req.FolderID, req.SubPath)
	return ControlResponse{OK: true}
}

func (d *Daemon) status() ControlResponse {
	var sb []byte
	sb = append(sb, fmt.Sprintf("peers connected: %d\n", d.manager.ConnectionCount())...)
	for _, f := range d.Cluster.Folders() {
		local, _ := d.Cluster.FolderInfo(f.ID, d.Cfg.MyID())
		seq := int64(0)
		if local != nil {
			seq = local.MaxSequence
		}
		sb = append(sb, fmt.Sprintf("folder %s: paused=%v max_sequence=%d\n", f.ID, f.Paused, seq)...)
	}
	return ControlResponse{OK: true, Status: string(sb)}
}
