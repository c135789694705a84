// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package syncspirit wires every long-lived actor -- the database actor,
// hasher pool, scan scheduler, per-folder filesystem watchers,
// local-discovery beacon and the BEP connection manager -- into one
// suture supervision tree sharing a single in-memory model.Cluster
// (spec.md §2 "Concurrency model": "any task/channel or single-threaded
// event loop is acceptable").
package syncspirit

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/url"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/syncspirit/syncspirit-go/lib/beacon"
	"github.com/syncspirit/syncspirit-go/lib/config"
	"github.com/syncspirit/syncspirit-go/lib/connections"
	"github.com/syncspirit/syncspirit-go/lib/db"
	"github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/fswatcher"
	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/scanner"
	"github.com/syncspirit/syncspirit-go/lib/scheduler"
)

var l = logger.New("syncspirit")

const (
	defaultMaxWriteRequests = 16
	defaultHasherWorkers    = 4
	defaultWatcherDelay     = 2 * time.Second
	defaultBeaconPort       = 21027
	defaultBeaconFrequency  = 30 * time.Second
)

// Daemon is the assembled runtime: one Cluster, one Actor persisting it,
// and the set of suture services that keep it in sync with the local
// filesystem and with connected peers.
type Daemon struct {
	Cfg     *config.Wrapper
	Cluster *model.Cluster

	store   *db.Store
	actor   *db.Actor
	hashers *hasher.Pool
	io      *fs.Service
	scan    *scanner.Scanner
	sched   *scheduler.Scheduler
	manager *connections.Manager
	tlsCfg  *tls.Config

	watchers map[string]*fswatcher.Watcher
	sup      *suture.Supervisor
}

// New assembles a Daemon from cfg and an already-open store, seeding the
// cluster from both the store's persisted rows (spec.md §4.3 bootstrap)
// and any device/folder declared in cfg that the store doesn't know about
// yet (e.g. one added by a control-surface command before the first run).
// tlsCfg is supplied by the caller: certificate issuance is explicitly out
// of scope (spec.md §1), so the daemon treats TLS material as an external
// collaborator's concern the same way it treats the listen socket itself.
func New(cfg *config.Wrapper, store *db.Store, tlsCfg *tls.Config) (*Daemon, error) {
	cluster := model.NewCluster(defaultMaxWriteRequests)
	store.SetCluster(cluster)
	actor := db.NewActor(store)

	d := &Daemon{
		Cfg:      cfg,
		Cluster:  cluster,
		store:    store,
		actor:    actor,
		hashers:  hasher.NewPool(defaultHasherWorkers),
		io:       fs.NewService(false),
		manager:  connections.NewManager(),
		tlsCfg:   tlsCfg,
		watchers: make(map[string]*fswatcher.Watcher),
	}
	d.scan = scanner.New(cluster, d.io, d.hashers, cfg.MyID())
	d.sched = scheduler.New(cluster, d.runScan)

	if err := d.bootstrap(); err != nil {
		return nil, fmt.Errorf("bootstrap: %w", err)
	}

	d.sup = suture.NewSimple("syncspirit")
	d.sup.Add(d.sched)
	for folderID, w := range d.watchers {
		d.sup.Add(watcherService{folderID: folderID, w: w, sched: d.sched})
	}
	return d, nil
}

// bootstrap replays the store's persisted diffs, then reconciles any
// config.Wrapper device/folder that the store doesn't carry a row for yet.
func (d *Daemon) bootstrap() error {
	diffs, err := d.actor.Load()
	if err != nil {
		return fmt.Errorf("load: %w", err)
	}
	for _, diff := range diffs {
		if err := model.ApplyDiff(d.Cluster, d.actor, diff); err != nil {
			return fmt.Errorf("apply load diff %s: %w", diff.Name(), err)
		}
	}
	for _, diff := range d.actor.CorruptedFileDiffs() {
		if err := model.ApplyDiff(d.Cluster, d.actor, diff); err != nil {
			return fmt.Errorf("apply corrupted-file diff %s: %w", diff.Name(), err)
		}
	}

	for _, diff := range d.actor.SetLoaded() {
		if err := model.ApplyDiff(d.Cluster, d.actor, diff); err != nil {
			return fmt.Errorf("apply buffered diff %s: %w", diff.Name(), err)
		}
	}

	for _, dc := range d.Cfg.Devices() {
		if _, ok := d.Cluster.Device(dc.ID); ok {
			continue
		}
		dev := model.NewDevice(dc.ID, dc.Name)
		dev.Addresses = dc.Addresses
		dev.Introducer = dc.Introducer
		if err := model.ApplyDiff(d.Cluster, d.actor, model.NewAddDevice(dev)); err != nil {
			return fmt.Errorf("add device %s: %w", dc.ID, err)
		}
	}

	for _, fc := range d.Cfg.Folders() {
		folder, ok := d.Cluster.Folder(fc.ID)
		if !ok {
			folder = model.NewFolder(fc.ID, fc.Label, fc.Path)
			folder.Type = fc.Type
			folder.PullOrder = fc.PullOrder
			folder.IgnorePermissions = fc.IgnorePermissions
			folder.IgnoreDeletes = fc.IgnoreDeletes
			folder.Paused = fc.Paused
			if fc.RescanIntervalS > 0 {
				folder.RescanInterval = time.Duration(fc.RescanIntervalS) * time.Second
			}
			if err := model.ApplyDiff(d.Cluster, d.actor, model.NewUpsertFolder(folder)); err != nil {
				return fmt.Errorf("add folder %s: %w", fc.ID, err)
			}
		}
		if _, ok := d.Cluster.FolderInfo(fc.ID, d.Cfg.MyID()); !ok {
			fi := model.NewFolderInfo(fc.ID, d.Cfg.MyID())
			if err := model.ApplyDiff(d.Cluster, d.actor, model.NewUpsertFolderInfo(fi)); err != nil {
				return fmt.Errorf("add local folder-info %s: %w", fc.ID, err)
			}
		}

		w := fswatcher.New(fc.ID, fc.Path, defaultWatcherDelay)
		d.watchers[fc.ID] = w
	}
	return nil
}

// runScan is the scheduler.Scheduler's ScanFunc: it runs one scan pass,
// applies the diffs it produced, and reports completion back so the
// scheduler can consider its next candidate (spec.md §4.6).
func (d *Daemon) runScan(ctx context.Context, folderID, subPath string) {
	defer d.sched.Finished(folderID)

	folder, ok := d.Cluster.Folder(folderID)
	if !ok {
		l.Warnf("scan requested for unknown folder %q", folderID)
		return
	}

	result, err := d.scan.Scan(ctx, folder, subPath, scanner.Budget{})
	if err != nil {
		l.Warnf("scan %s: %v", folderID, err)
		return
	}
	for _, diff := range result.Diffs {
		if err := model.ApplyDiff(d.Cluster, d.actor, diff); err != nil {
			l.Warnf("applying scan diff for %s: %v", folderID, err)
			return
		}
	}
	if result.Completed {
		if err := model.ApplyDiff(d.Cluster, d.actor, model.NewScanFinished(folderID, time.Now().Unix())); err != nil {
			l.Warnf("applying scan-finished for %s: %v", folderID, err)
		}
	}
}

// connDeps builds the per-connection Deps shared by every Controller this
// daemon creates, wiring the Apply closure through the database actor so
// every advance and index update is journaled the same way a scan's diffs
// are (spec.md §4.3).
func (d *Daemon) connDeps() connections.Deps {
	return connections.Deps{
		Cluster:       d.Cluster,
		Apply:         func(diff model.Diff) error { return model.ApplyDiff(d.Cluster, d.actor, diff) },
		FS:            d.io,
		Hasher:        d.hashers,
		LocalDeviceID: d.Cfg.MyID(),
	}
}

// ListenAndServe starts the daemon: the scheduler, filesystem watchers,
// optional local-discovery beacon, and the BEP listener, then blocks until
// ctx is cancelled or inactivityTimeout elapses with no peer connected
// (spec.md §6.4 "An inactivity-timeout flag exits the daemon after a
// chosen idle interval"). A zero inactivityTimeout disables the idle exit.
func (d *Daemon) ListenAndServe(ctx context.Context, inactivityTimeout time.Duration) error {
	opts := d.Cfg.Options()

	addr, err := listenHostPort(opts.ListenAddress)
	if err != nil {
		return fmt.Errorf("listen address %s: %w", opts.ListenAddress, err)
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	listener := &connections.Listener{Deps: d.connDeps(), TLSConfig: d.tlsCfg, Manager: d.manager}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() { errCh <- d.sup.Serve(ctx) }()
	go func() { errCh <- listener.Serve(ctx, ln) }()

	if inactivityTimeout > 0 {
		go d.watchInactivity(ctx, cancel, inactivityTimeout)
	}

	for _, fc := range d.Cfg.Folders() {
		d.sched.Request(fc.ID, "")
	}

	select {
	case <-ctx.Done():
		ln.Close()
		return ctx.Err()
	case err := <-errCh:
		ln.Close()
		return err
	}
}

// listenHostPort extracts the "host:port" net.Listen needs out of a
// ListenAddress written the same tcp://host:port way syncthing's own config
// writes it (spec.md §6 ambient wiring, not protocol behavior).
func listenHostPort(listenAddress string) (string, error) {
	u, err := url.Parse(listenAddress)
	if err != nil {
		return "", err
	}
	if u.Host == "" {
		return "", fmt.Errorf("missing host:port in %q", listenAddress)
	}
	return u.Host, nil
}

// watchInactivity exits the daemon after timeout elapses with zero peer
// connections, polling rather than subscribing to connect/disconnect
// events so it stays correct regardless of how many Controllers are
// currently wired up.
func (d *Daemon) watchInactivity(ctx context.Context, cancel context.CancelFunc, timeout time.Duration) {
	ticker := time.NewTicker(timeout / 4)
	defer ticker.Stop()
	idleSince := time.Time{}
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if d.manager.ConnectionCount() > 0 {
				idleSince = time.Time{}
				continue
			}
			if idleSince.IsZero() {
				idleSince = time.Now()
				continue
			}
			if time.Since(idleSince) >= timeout {
				l.Infof("exiting after %s of inactivity", timeout)
				cancel()
				return
			}
		}
	}
}

// watcherService adapts fswatcher.Watcher (a Serve()-no-args component
// whose change channel is never closed) into a suture.Service so it can
// sit in the same supervision tree as the ctx-based services, turning
// every coalesced batch into a scheduler request and stopping the
// watcher cleanly on ctx cancellation.
type watcherService struct {
	folderID string
	w        *fswatcher.Watcher
	sched    *scheduler.Scheduler
}

func (s watcherService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.w.Serve() }()
	for {
		select {
		case <-ctx.Done():
			s.w.Stop()
			<-done
			return ctx.Err()
		case paths := <-s.w.C():
			for _, p := range paths {
				if p == "." {
					s.sched.Request(s.folderID, "")
				} else {
					s.sched.Request(s.folderID, p)
				}
			}
		case err := <-done:
			return err
		}
	}
}

// beaconService wraps beacon.Service to also drain its diff channel into
// the cluster, since beacon.Service deliberately never touches the
// cluster itself (spec.md §6.2).
type beaconService struct {
	svc     *beacon.Service
	cluster *model.Cluster
	ctrl    model.ApplyController
}

func (s beaconService) Serve(ctx context.Context) error {
	done := make(chan error, 1)
	go func() { done <- s.svc.Serve(ctx) }()
	for {
		select {
		case <-ctx.Done():
			<-done
			return ctx.Err()
		case diff, ok := <-s.svc.Diffs():
			if !ok {
				return <-done
			}
			if err := model.ApplyDiff(s.cluster, s.ctrl, diff); err != nil {
				l.Warnf("applying beacon diff: %v", err)
			}
		case err := <-done:
			return err
		}
	}
}

// EnableLocalDiscovery adds the local-discovery beacon to the supervision
// tree. It is optional because spec.md §1 allows discovery transports to
// be absent in setups (tests, single-LAN pairs dialed by address) that
// don't need them.
func (d *Daemon) EnableLocalDiscovery(instanceID uint64) error {
	svc, err := beacon.NewService(defaultBeaconPort, d.Cluster, d.Cfg.MyID(), instanceID, defaultBeaconFrequency, d.listenAddresses)
	if err != nil {
		return fmt.Errorf("local discovery: %w", err)
	}
	d.sup.Add(beaconService{svc: svc, cluster: d.Cluster, ctrl: d.actor})
	return nil
}

// EnableControl adds the control-socket service a running CLI invocation
// dials for add-peer/remove-peer/share-folder/unshare-folder/rescan/status
// (spec.md §6.4 "CLI / daemon commands").
func (d *Daemon) EnableControl(socketPath string) {
	d.sup.Add(controlServer{d: d, path: socketPath})
}

func (d *Daemon) listenAddresses() []string {
	return []string{d.Cfg.Options().ListenAddress}
}

// DialKnownDevices opens outbound connections to every configured device
// that has a non-"dynamic" address, the counterpart of Listener's inbound
// path (spec.md §2 "Acceptor / dialer").
func (d *Daemon) DialKnownDevices(ctx context.Context) {
	dialer := &connections.Dialer{Deps: d.connDeps(), TLSConfig: d.tlsCfg, Manager: d.manager}
	for _, dc := range d.Cfg.Devices() {
		for _, addr := range dc.Addresses {
			if addr == "dynamic" {
				continue
			}
			dc, addr := dc, addr
			go func() {
				if err := dialer.Dial(ctx, addr, dc.ID); err != nil {
					l.Debugf("dial %s at %s: %v", dc.ID, addr, err)
				}
			}()
		}
	}
}

// Close releases the daemon's own resources: stops the hasher pool and
// commits and closes the database. It does not close listeners or
// connections started by ListenAndServe; cancel its context instead.
func (d *Daemon) Close() error {
	d.hashers.Stop()
	return d.actor.Close()
}
