/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package transport binds the PTP event (319) and general (320) UDP ports,
joins the PTP multicast groups on one interface and pumps received
payloads to the protocol engine. Outbound messages go to the primary
multicast group.
*/
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	ptp "github.com/opentimelab/ptpoc/ptp/protocol"
)

// PTP multicast groups
var (
	// PrimaryMulticastIP receives all end-to-end PTP traffic
	PrimaryMulticastIP = net.IPv4(224, 0, 1, 129)
	// PDelayMulticastIP is the peer-delay group. We join it so the port
	// is reachable per the standard, but the peer delay mechanism itself
	// is not spoken here.
	PDelayMulticastIP = net.IPv4(224, 0, 0, 107)
)

const readBufferSize = 1024

// Transport owns the two UDP sockets of a PTP port
type Transport struct {
	iface     *net.Interface
	evConn    *net.UDPConn
	genConn   *net.UDPConn
	evDst     *net.UDPAddr
	genDst    *net.UDPAddr
	rxPackets chan []byte
}

// Open binds ports 319/320 on ifaceName and joins the PTP multicast
// groups. Multicast sends carry TTL 1, PTP is link-local by design.
func Open(ifaceName string) (*Transport, error) {
	iface, err := net.InterfaceByName(ifaceName)
	if err != nil {
		return nil, fmt.Errorf("looking up interface %q: %w", ifaceName, err)
	}
	t := &Transport{
		iface:     iface,
		evDst:     &net.UDPAddr{IP: PrimaryMulticastIP, Port: ptp.PortEvent},
		genDst:    &net.UDPAddr{IP: PrimaryMulticastIP, Port: ptp.PortGeneral},
		rxPackets: make(chan []byte, 16),
	}
	if t.evConn, err = bindMulticast(iface, ptp.PortEvent); err != nil {
		return nil, fmt.Errorf("binding event port: %w", err)
	}
	if t.genConn, err = bindMulticast(iface, ptp.PortGeneral); err != nil {
		t.evConn.Close()
		return nil, fmt.Errorf("binding general port: %w", err)
	}
	log.Infof("listening on %s:%d and :%d, multicast group %s", ifaceName, ptp.PortEvent, ptp.PortGeneral, PrimaryMulticastIP)
	return t, nil
}

// bindMulticast listens on port with SO_REUSEADDR and joins both PTP
// groups on iface
func bindMulticast(iface *net.Interface, port int) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var serr error
			err := c.Control(func(fd uintptr) {
				serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return serr
		},
	}
	conn, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	udpConn := conn.(*net.UDPConn)
	p := ipv4.NewPacketConn(udpConn)
	for _, group := range []net.IP{PrimaryMulticastIP, PDelayMulticastIP} {
		if err := p.JoinGroup(iface, &net.UDPAddr{IP: group}); err != nil {
			udpConn.Close()
			return nil, fmt.Errorf("joining group %s: %w", group, err)
		}
	}
	if err := p.SetMulticastInterface(iface); err != nil {
		udpConn.Close()
		return nil, err
	}
	if err := p.SetMulticastTTL(1); err != nil {
		udpConn.Close()
		return nil, err
	}
	return udpConn, nil
}

// Packets delivers received payloads, both ports interleaved
func (t *Transport) Packets() <-chan []byte {
	return t.rxPackets
}

// Run pumps both sockets into the packet channel until ctx is cancelled
func (t *Transport) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, conn := range []*net.UDPConn{t.evConn, t.genConn} {
		conn := conn
		eg.Go(func() error {
			// reads unblock when ctx ends and the select below closes conn
			doneChan := make(chan error, 1)
			go func() {
				for {
					response := make([]uint8, readBufferSize)
					n, addr, err := conn.ReadFromUDP(response)
					if err != nil {
						doneChan <- err
						return
					}
					log.Debugf("got packet on %v, n = %v, addr = %v", conn.LocalAddr(), n, addr)
					t.rxPackets <- response[:n]
				}
			}()
			select {
			case <-ctx.Done():
				conn.Close()
				return ctx.Err()
			case err := <-doneChan:
				return err
			}
		})
	}
	return eg.Wait()
}

// SendEvent sends b to the primary multicast group, event port
func (t *Transport) SendEvent(b []byte) error {
	_, err := t.evConn.WriteToUDP(b, t.evDst)
	return err
}

// SendGeneral sends b to the primary multicast group, general port
func (t *Transport) SendGeneral(b []byte) error {
	_, err := t.genConn.WriteToUDP(b, t.genDst)
	return err
}

// Close closes both sockets
func (t *Transport) Close() {
	if t.evConn != nil {
		t.evConn.Close()
	}
	if t.genConn != nil {
		t.genConn.Close()
	}
}
