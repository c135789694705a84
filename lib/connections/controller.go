// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

// Package connections implements the BEP peer controller (spec.md §2, §4.4):
// one instance per connected peer, owning its byte stream, negotiating the
// hello/cluster-config handshake, pulling files the peer has that we lack,
// and serving block requests for files we have that the peer lacks.
package connections

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"golang.org/x/time/rate"

	"github.com/syncspirit/syncspirit-go/lib/fs"
	"github.com/syncspirit/syncspirit-go/lib/hasher"
	"github.com/syncspirit/syncspirit-go/lib/logger"
	"github.com/syncspirit/syncspirit-go/lib/model"
	"github.com/syncspirit/syncspirit-go/lib/protocol"
)

var l = logger.New("connections")

// State is the controller's position in the handshake state machine
// (spec.md §4.4).
type State int

const (
	StateStarted State = iota
	StateAwaitingHello
	StateRunning
	StateDown
)

func (s State) String() string {
	switch s {
	case StateStarted:
		return "started"
	case StateAwaitingHello:
		return "awaiting-hello"
	case StateRunning:
		return "running"
	default:
		return "down"
	}
}

const (
	// maxBlocksRequestedDefault bounds outstanding Requests per connection
	// (spec.md §8 "blocks_max_requested").
	maxBlocksRequestedDefault = 16
	// txFactorDefault scales the inbound-request back-pressure threshold
	// above the outbound one (spec.md §4.4 "Inbound request service").
	txFactorDefault = 2.0

	pullInterval         = 200 * time.Millisecond
	outboundIdleInterval = 90 * time.Second
	inboundIdleTimeout    = 180 * time.Second
	// requestRateDefault and requestBurstDefault pace new outbound BEP
	// Requests per connection, smoothing the pull loop's bursts rather
	// than bounding raw concurrency the way the ring does (spec.md §4.2,
	// §4.4 "Write budget").
	requestRateDefault  = 64.0
	requestBurstDefault = maxBlocksRequestedDefault
	// shutdownGraceFraction is applied to the actor shutdown budget to
	// derive how long in-flight I/O is drained before slots are forcibly
	// released (spec.md §5 "≈ 8/9 of the actor shutdown budget").
	shutdownGraceFraction = 8.0 / 9.0
	shutdownBudget        = 5 * time.Second
)

var (
	errInboundTimeout   = errors.New("inbound silence timeout")
	errResponseMismatch = errors.New("response id matches no outstanding request")
	errShuttingDown     = errors.New("controller shutting down")
	errWriteQueued      = errors.New("write queued pending a cluster write-request slot")
)

// Deps are the collaborators a Controller needs, shared across every peer
// connection by the daemon's wiring code.
type Deps struct {
	Cluster       *model.Cluster
	Apply         func(model.Diff) error
	FS            *fs.Service
	Hasher        *hasher.Pool
	LocalDeviceID model.DeviceKey
	DeviceName    string
	ClientName    string
	ClientVersion string

	MaxBlocksRequested int
	TxFactor            float64
}

func (d Deps) withDefaults() Deps {
	if d.MaxBlocksRequested <= 0 {
		d.MaxBlocksRequested = maxBlocksRequestedDefault
	}
	if d.TxFactor <= 0 {
		d.TxFactor = txFactorDefault
	}
	return d
}

// incomingFrame is what the reader goroutine hands to Serve's select loop.
type incomingFrame struct {
	msg protocol.Message
	err error
}

// Controller owns one peer's byte stream end to end (spec.md §4.4). All
// cluster-visible state changes -- outgoing Requests, finished transfers,
// connection state -- flow through Deps.Apply so the coordinator remains
// the single writer of the cluster.
type Controller struct {
	Deps
	model.NopVisitor
	peerID    model.DeviceKey
	conn      net.Conn
	passive   bool
	transport model.Transport

	fsCtx          *fs.Context
	ring           *requestRing
	requestLimiter *rate.Limiter

	// synchronizing tracks in-flight advances by the peer's FileInfoID,
	// the "at most one in-flight advance per (folder, file name)"
	// invariant from spec.md §4.4.
	synchronizing map[model.FileInfoID]struct{}
	fetches       map[model.FileInfoID]*fetchState

	// writeQueue holds write operations that could not acquire a cluster
	// write-request slot, replayed on the next pull tick (spec.md §4.2,
	// §4.4 "Write budget").
	writeQueue []func() error

	state State

	compression protocol.Compression
	peerHello   protocol.Hello

	outbox        chan protocol.Message
	incoming      chan incomingFrame
	digestResults chan hasher.Result
	readResults   chan readResult
	inFlightReads int
	done          chan struct{}
	closeOnce     func()
}

// maxInboundReads bounds concurrently-served block reads at
// max_blocks_requested * tx_factor, the inbound half of spec.md §4.4
// "Inbound request service" back-pressure.
func (c *Controller) maxInboundReads() int {
	n := int(float64(c.MaxBlocksRequested) * c.TxFactor)
	if n < 1 {
		n = 1
	}
	return n
}

// New constructs a Controller for an already-established transport. The
// caller (acceptor or dialer) supplies passive=true for an accepted
// connection, false for one we dialed, so the duplicate-connection
// tie-break in spec.md §4.4 can compare the two fairly.
func New(deps Deps, conn net.Conn, peerID model.DeviceKey, passive bool, transport model.Transport) *Controller {
	deps = deps.withDefaults()
	return &Controller{
		Deps:          deps,
		peerID:        peerID,
		conn:          conn,
		passive:       passive,
		transport:     transport,
		fsCtx:         deps.FS.NewContext(),
		ring:          newRequestRing(deps.MaxBlocksRequested),
		requestLimiter: rate.NewLimiter(rate.Limit(requestRateDefault), requestBurstDefault),
		synchronizing: make(map[model.FileInfoID]struct{}),
		fetches:       make(map[model.FileInfoID]*fetchState),
		compression:   protocol.CompressionMetadata,
		outbox:        make(chan protocol.Message, 64),
		incoming:      make(chan incomingFrame, 16),
		digestResults: make(chan hasher.Result, deps.MaxBlocksRequested),
		readResults:   make(chan readResult, int(float64(deps.MaxBlocksRequested)*deps.TxFactor)+1),
		done:          make(chan struct{}),
	}
}

// Serve runs the controller's full lifecycle: hello, cluster-config,
// steady-state multiplexing, and shutdown (spec.md §4.4). It returns once
// the connection is down, never before.
func (c *Controller) Serve(ctx context.Context) (err error) {
	c.state = StateStarted
	defer func() {
		c.shutdown()
	}()

	c.state = StateAwaitingHello
	hello, herr := protocol.ExchangeHello(c.conn, protocol.Hello{
		DeviceName:    c.DeviceName,
		ClientName:    c.ClientName,
		ClientVersion: c.ClientVersion,
	})
	if herr != nil {
		return fmt.Errorf("hello exchange with %s: %w", c.peerID, herr)
	}
	c.peerHello = hello
	l.Infof("hello exchanged with %s (%s %s)", c.peerID, hello.ClientName, hello.ClientVersion)

	connState := model.DeviceState{Kind: model.ConnectionConnected, Transport: c.transport, Passive: c.passive, Port: localPort(c.conn)}
	if err := c.Apply(model.NewConnectionRequest(c.peerID, connState, c.passive)); err != nil {
		return fmt.Errorf("connection-request diff: %w", err)
	}

	if err := c.sendClusterConfig(); err != nil {
		return fmt.Errorf("send cluster-config: %w", err)
	}

	onlineState := model.DeviceState{Kind: model.ConnectionOnline, Transport: c.transport, Passive: c.passive, Port: localPort(c.conn)}
	if err := c.Apply(model.NewPeerState(c.peerID, onlineState)); err != nil {
		return fmt.Errorf("peer-state diff: %w", err)
	}
	c.state = StateRunning

	go c.readLoop()
	go c.writeLoop()

	return c.runLoop(ctx)
}

func (c *Controller) runLoop(ctx context.Context) error {
	pullTicker := time.NewTicker(pullInterval)
	defer pullTicker.Stop()
	outboundIdle := time.NewTimer(outboundIdleInterval)
	defer outboundIdle.Stop()
	inboundIdle := time.NewTimer(inboundIdleTimeout)
	defer inboundIdle.Stop()

	for {
		select {
		case <-ctx.Done():
			c.voluntaryClose("daemon shutting down")
			return ctx.Err()

		case fr := <-c.incoming:
			if fr.err != nil {
				return c.involuntaryClose(fr.err)
			}
			resetTimer(inboundIdle, inboundIdleTimeout)
			if err := c.handleMessage(fr.msg); err != nil {
				return c.involuntaryClose(err)
			}

		case res := <-c.digestResults:
			c.handleDigest(res)

		case rr := <-c.readResults:
			c.inFlightReads--
			c.deliverReadResult(rr)

		case <-pullTicker.C:
			c.drainWriteQueue()
			c.pullNext()

		case <-outboundIdle.C:
			c.send(protocol.Ping{})
			outboundIdle.Reset(outboundIdleInterval)

		case <-inboundIdle.C:
			return c.involuntaryClose(errInboundTimeout)
		}
	}
}

func (c *Controller) handleMessage(msg protocol.Message) error {
	switch m := msg.(type) {
	case protocol.ClusterConfig:
		return c.onClusterConfig(m)
	case protocol.Index:
		return c.onIndex(m.Folder, m.Files)
	case protocol.IndexUpdate:
		return c.onIndex(m.Folder, m.Files)
	case protocol.Request:
		c.serveRequest(m)
		return nil
	case protocol.Response:
		return c.onResponse(m)
	case protocol.Ping:
		return nil
	case protocol.Close:
		return fmt.Errorf("peer closed: %s", m.Reason)
	case protocol.DownloadProgress:
		return nil
	default:
		return fmt.Errorf("unexpected message type %T", msg)
	}
}

func (c *Controller) onClusterConfig(m protocol.ClusterConfig) error {
	adverts := make([]model.PeerFolderAdvert, 0, len(m.Folders))
	for _, f := range m.Folders {
		_, weShare := c.Cluster.Folder(f.ID)
		advert := model.PeerFolderAdvert{FolderID: f.ID, Label: f.Label, WeShare: weShare}
		for _, dev := range f.Devices {
			id, err := protocol.DeviceIDFromBytes(dev.ID)
			if err != nil || id != c.peerID {
				continue
			}
			advert.IndexID = dev.IndexID
			advert.MaxSequence = dev.MaxSequence
			if dev.Compression != protocol.CompressionMetadata {
				c.compression = dev.Compression
			}
		}
		adverts = append(adverts, advert)
	}
	if err := c.Apply(model.NewPeerClusterUpdate(c.Cluster, c.peerID, adverts)); err != nil {
		return err
	}
	c.sendInitialIndexes()
	return nil
}

// onIndex handles both Index and IndexUpdate: spec.md §9's first open
// question resolves a folder the peer isn't sharing with us by ignoring
// the message with a warning, never a protocol error.
func (c *Controller) onIndex(folderID string, files []protocol.FileInfo) error {
	fi, ok := c.Cluster.FolderInfo(folderID, c.peerID)
	if !ok {
		l.Warnf("index for unshared folder %q from %s; ignoring", folderID, c.peerID)
		return nil
	}
	diff, err := model.NewUpdateFolder(c.Cluster, fi.ID, files)
	if err != nil {
		return fmt.Errorf("index from %s: %w", c.peerID, err)
	}
	return c.Apply(diff)
}

func (c *Controller) sendClusterConfig() error {
	var folders []protocol.Folder
	for _, fi := range c.Cluster.FolderInfosForDevice(c.peerID) {
		folder, ok := c.Cluster.Folder(fi.FolderID)
		if !ok {
			continue
		}
		var devices []protocol.Device
		for _, ffi := range c.Cluster.FolderInfosForFolder(folder.ID) {
			name := ""
			if dev, ok := c.Cluster.Device(ffi.DeviceID); ok {
				name = dev.Name
			}
			devices = append(devices, protocol.Device{
				ID:          ffi.DeviceID[:],
				Name:        name,
				MaxSequence: ffi.MaxSequence,
				IndexID:     ffi.IndexID,
				Introducer:  false,
			})
		}
		folders = append(folders, protocol.Folder{ID: folder.ID, Label: folder.Label, Devices: devices})
	}
	return c.sendNow(protocol.ClusterConfig{Folders: folders})
}

// send enqueues msg for the write loop, never blocking past shutdown.
func (c *Controller) send(msg protocol.Message) {
	select {
	case c.outbox <- msg:
	case <-c.done:
	}
}

// sendNow writes msg synchronously, used for the one-time hello/cluster-
// config handshake before the write loop has started.
func (c *Controller) sendNow(msg protocol.Message) error {
	typ, payload, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	compress := protocol.ShouldCompress(c.compression, typ, len(payload))
	return protocol.WriteMessage(c.conn, typ, payload, compress)
}

func (c *Controller) readLoop() {
	for {
		typ, payload, err := protocol.ReadMessage(c.conn)
		if err != nil {
			c.deliver(incomingFrame{err: err})
			return
		}
		msg, err := protocol.Decode(typ, payload)
		if err != nil {
			c.deliver(incomingFrame{err: err})
			return
		}
		c.deliver(incomingFrame{msg: msg})
	}
}

func (c *Controller) deliver(fr incomingFrame) {
	select {
	case c.incoming <- fr:
	case <-c.done:
	}
}

func (c *Controller) writeLoop() {
	for {
		select {
		case msg := <-c.outbox:
			if err := c.sendNow(msg); err != nil {
				c.deliver(incomingFrame{err: err})
				return
			}
		case <-c.done:
			return
		}
	}
}

// voluntaryClose writes a BEP Close with reason straight to the connection
// (spec.md §4.4 "Shutdown semantics"). Messages still queued in the outbox
// are not flushed first, and any write error is ignored; the socket itself
// is closed later by shutdown.
func (c *Controller) voluntaryClose(reason string) {
	_ = c.sendNow(protocol.Close{Reason: reason})
}

// involuntaryClose cuts the socket without sending Close -- the framing is
// untrusted once something has already gone wrong (spec.md §4.4, §7
// "Protocol errors ... Close is not sent").
func (c *Controller) involuntaryClose(cause error) error {
	return fmt.Errorf("connection to %s failed: %w", c.peerID, cause)
}

// shutdown runs once, regardless of which path through Serve got us here:
// it waits out a fixed grace period for in-flight I/O, then discards every
// outstanding block request (logging each), aborts open fetches, closes the
// socket, and posts the peer back to offline (spec.md §5 "Cancellation and
// timeouts").
func (c *Controller) shutdown() {
	if c.closeOnce != nil {
		return
	}
	c.closeOnce = func() {}
	close(c.done)

	grace := time.NewTimer(time.Duration(float64(shutdownBudget) * shutdownGraceFraction))
	<-grace.C
	grace.Stop()

	for _, pr := range c.ring.Drain() {
		l.Debugf("cancelling outstanding request %d for %q on shutdown", pr.id, pr.fileName)
	}
	for _, ft := range c.fetches {
		c.abortFetch(ft)
	}
	c.fsCtx.Close()
	c.conn.Close()

	offline := model.DeviceState{Kind: model.ConnectionOffline}
	if err := c.Apply(model.NewPeerState(c.peerID, offline)); err != nil {
		l.Warnf("posting offline state for %s: %v", c.peerID, err)
	}
}

// performWrite runs op immediately if a cluster write-request slot is
// available, releasing it afterwards; otherwise op is queued and retried
// on the next pull tick, and performWrite returns errWriteQueued rather
// than attempting op out of order (spec.md §4.2, §4.4 "Write budget").
func (c *Controller) performWrite(op func() error) error {
	if !c.Cluster.TryAcquireWrite() {
		c.writeQueue = append(c.writeQueue, op)
		return errWriteQueued
	}
	defer c.Cluster.ReleaseWrite()
	return op()
}

// drainWriteQueue retries queued writes in submission order as slots free
// up, stopping at the first one still blocked.
func (c *Controller) drainWriteQueue() {
	for len(c.writeQueue) > 0 {
		if !c.Cluster.TryAcquireWrite() {
			return
		}
		op := c.writeQueue[0]
		c.writeQueue = c.writeQueue[1:]
		if err := op(); err != nil {
			l.Warnf("queued write failed: %v", err)
		}
		c.Cluster.ReleaseWrite()
	}
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}

func localPort(conn net.Conn) int {
	if addr, ok := conn.LocalAddr().(*net.TCPAddr); ok {
		return addr.Port
	}
	return 0
}

// ioFailure posts an IOFailure diff for the UI surface (spec.md §7: "No
// error is silently discarded").
func (c *Controller) ioFailure(folderID, path, op string, err error) {
	l.Warnf("io failure: folder=%q path=%q op=%q err=%v", folderID, path, op, err)
	osCode := ""
	var errno syscall.Errno
	if errors.As(err, &errno) {
		osCode = errno.Error()
	}
	if diffErr := c.Apply(model.NewIOFailure(folderID, path, op, osCode)); diffErr != nil {
		l.Warnf("posting io_failure diff: %v", diffErr)
	}
}

var _ io.Closer = (*Controller)(nil)

// Close tears the connection down voluntarily from outside Serve's own
// goroutine, e.g. when the model picks a different simultaneous session
// as the survivor (spec.md §4.4 "Duplicate connection").
func (c *Controller) Close() error {
	select {
	case <-c.done:
	default:
		c.voluntaryClose("superseded by a newer connection")
		c.conn.Close()
	}
	return nil
}
