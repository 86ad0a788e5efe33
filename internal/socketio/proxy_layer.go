package socketio

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"
	"strings"
)

// ProxyLayer is a transparent read wrapper that parses a PROXY protocol v1
// header (https://www.haproxy.org/download/1.8/doc/proxy-protocol.txt) off
// the front of a connection before handing the remaining bytes to the
// caller untouched, grounded on the layered-socket composition of
// src/filezilla/tcp/proxy_layer.cpp (an outbound CONNECT/SOCKS layer in
// original_source; this is its inbound counterpart, a transport a
// load-balanced deployment of the listener needs and the distilled spec
// dropped). ParseHeader must be called once, before any other read, to
// consume exactly the header line and learn the real peer address.
type ProxyLayer struct {
	r *bufio.Reader

	srcAddr net.Addr
	dstAddr net.Addr
	parsed  bool
}

var (
	// ErrNoProxyHeader is returned when the stream does not start with
	// "PROXY ".
	ErrNoProxyHeader = errors.New("socketio: connection did not present a PROXY protocol header")
	// ErrMalformedProxyHeader covers any structurally invalid header line.
	ErrMalformedProxyHeader = errors.New("socketio: malformed PROXY protocol header")
)

// NewProxyLayer wraps r. r should be the raw connection reader with
// nothing else layered underneath it yet.
func NewProxyLayer(r io.Reader) *ProxyLayer {
	br, ok := r.(*bufio.Reader)
	if !ok {
		br = bufio.NewReader(r)
	}
	return &ProxyLayer{r: br}
}

// ParseHeader consumes the "PROXY ..." line terminated by "\r\n" and
// records the claimed source/destination addresses. It must be called
// exactly once, before Read.
func (p *ProxyLayer) ParseHeader() error {
	if p.parsed {
		return nil
	}
	line, err := p.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("socketio: reading PROXY header: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 || fields[0] != "PROXY" {
		return ErrNoProxyHeader
	}

	switch fields[1] {
	case "UNKNOWN":
		p.parsed = true
		return nil
	case "TCP4", "TCP6":
		if len(fields) != 6 {
			return ErrMalformedProxyHeader
		}
	default:
		return ErrMalformedProxyHeader
	}

	srcIP, err := netip.ParseAddr(fields[2])
	if err != nil {
		return fmt.Errorf("%w: source address %q: %v", ErrMalformedProxyHeader, fields[2], err)
	}
	dstIP, err := netip.ParseAddr(fields[3])
	if err != nil {
		return fmt.Errorf("%w: destination address %q: %v", ErrMalformedProxyHeader, fields[3], err)
	}
	srcPort, err := strconv.ParseUint(fields[4], 10, 16)
	if err != nil {
		return fmt.Errorf("%w: source port %q: %v", ErrMalformedProxyHeader, fields[4], err)
	}
	dstPort, err := strconv.ParseUint(fields[5], 10, 16)
	if err != nil {
		return fmt.Errorf("%w: destination port %q: %v", ErrMalformedProxyHeader, fields[5], err)
	}

	p.srcAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(srcIP, uint16(srcPort)))
	p.dstAddr = net.TCPAddrFromAddrPort(netip.AddrPortFrom(dstIP, uint16(dstPort)))
	p.parsed = true
	return nil
}

// RemoteAddr returns the client address the proxy claimed on our behalf,
// or nil if ParseHeader has not run or the header was UNKNOWN.
func (p *ProxyLayer) RemoteAddr() net.Addr { return p.srcAddr }

// LocalAddr returns the claimed original destination address.
func (p *ProxyLayer) LocalAddr() net.Addr { return p.dstAddr }

// Read implements io.Reader, yielding the payload bytes after the header.
func (p *ProxyLayer) Read(b []byte) (int, error) {
	return p.r.Read(b)
}
