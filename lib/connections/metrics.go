// Copyright (C) 2014 The Syncthing Authors.
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this file,
// You can obtain one at https://mozilla.org/MPL/2.0/.

package connections

import "github.com/prometheus/client_golang/prometheus"

var (
	blocksRequestedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncspirit",
		Subsystem: "connections",
		Name:      "blocks_requested_total",
		Help:      "Blocks requested from a peer, by device short id.",
	}, []string{"device"})

	digestMismatchTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncspirit",
		Subsystem: "connections",
		Name:      "digest_mismatch_total",
		Help:      "Blocks received whose content did not hash to the requested digest.",
	}, []string{"device"})

	inFlightBlocks = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncspirit",
		Subsystem: "connections",
		Name:      "blocks_in_flight",
		Help:      "Block requests currently awaiting a response, by device short id.",
	}, []string{"device"})
)

func init() {
	prometheus.MustRegister(blocksRequestedTotal, digestMismatchTotal, inFlightBlocks)
}
