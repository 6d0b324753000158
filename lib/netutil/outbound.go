// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"fmt"
	"net"
)

// OutboundIP returns the local address the kernel would use to reach
// target (host:port). Dialing UDP sends no packets; it only selects a
// route. Used to announce the controller's reachable address.
func OutboundIP(target string) (net.IP, error) {
	connection, err := net.Dial("udp", target)
	if err != nil {
		return nil, fmt.Errorf("selecting outbound address for %s: %w", target, err)
	}
	defer connection.Close()

	address, ok := connection.LocalAddr().(*net.UDPAddr)
	if !ok {
		return nil, fmt.Errorf("unexpected local address type %T", connection.LocalAddr())
	}
	return address.IP, nil
}
