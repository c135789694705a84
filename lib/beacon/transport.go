// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package beacon

import "net"

// recv pairs a received datagram with the address it came from.
type recv struct {
	data []byte
	src  net.Addr
}

// transport is a UDP broadcast socket: every Send goes out on every
// broadcast-capable interface, and every inbound datagram from anyone
// (including ourselves) shows up on Recv.
type transport struct {
	conn   *net.UDPConn
	port   int
	inbox  chan []byte
	outbox chan recv
}

func newTransport(port int) (*transport, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{Port: port})
	if err != nil {
		return nil, err
	}
	t := &transport{
		conn:   conn,
		port:   port,
		inbox:  make(chan []byte),
		outbox: make(chan recv, 16),
	}
	go genericReader(t.conn, t.outbox)
	go t.writer()
	return t, nil
}

func (t *transport) Send(data []byte) {
	t.inbox <- data
}

func (t *transport) Recv() ([]byte, net.Addr) {
	r := <-t.outbox
	return r.data, r.src
}

// Stop closes the socket, which unblocks the reader goroutine with an
// error. The writer goroutine keeps running, so later Send calls still
// return, but their writes fail and are only logged at debug level.
func (t *transport) Stop() error {
	return t.conn.Close()
}

func (t *transport) writer() {
	for bs := range t.inbox {
		addrs, err := net.InterfaceAddrs()
		if err != nil {
			l.Warnln("interface addresses:", err)
			continue
		}

		var dsts []net.IP
		for _, addr := range addrs {
			if iaddr, ok := addr.(*net.IPNet); ok && len(iaddr.IP) >= 4 && iaddr.IP.IsGlobalUnicast() && iaddr.IP.To4() != nil {
				dsts = append(dsts, bcast(iaddr).IP)
			}
		}
		if len(dsts) == 0 {
			dsts = append(dsts, net.IP{0xff, 0xff, 0xff, 0xff})
		}

		for _, ip := range dsts {
			dst := &net.UDPAddr{IP: ip, Port: t.port}
			if _, err := t.conn.WriteTo(bs, dst); err != nil {
				l.Debugln("write to", dst, "failed:", err)
			}
		}
	}
}

func genericReader(conn *net.UDPConn, outbox chan<- recv) {
	bs := make([]byte, 65536)
	for {
		n, addr, err := conn.ReadFrom(bs)
		if err != nil {
			l.Debugln("beacon read stopped:", err)
			return
		}
		c := make([]byte, n)
		copy(c, bs[:n])
		select {
		case outbox <- recv{c, addr}:
		default:
			l.Debugln("dropping beacon datagram, receiver backed up")
		}
	}
}

func bcast(ip *net.IPNet) *net.IPNet {
	bc := &net.IPNet{IP: make([]byte, len(ip.IP)), Mask: ip.Mask}
	copy(bc.IP, ip.IP)
	offset := len(bc.IP) - len(bc.Mask)
	for i := range bc.IP {
		if i-offset >= 0 {
			bc.IP[i] = ip.IP[i] | ^ip.Mask[i-offset]
		}
	}
	return bc
}
