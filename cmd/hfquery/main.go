// Command hfquery sends a single DNS query to a server over UDP and
// prints the parsed response, for manually probing a running
// hydraflow instance or any other DNS server. Grounded directly in
// cmd/dnsquery from the teacher: same flag set, same
// build-query/print-answers shape, adapted to dnswire's Packet/Record
// types.
package main

import (
	"flag"
	"fmt"
	"net"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/jroosing/hydraflow/internal/dnswire"
)

func main() {
	var (
		server   = flag.String("server", "127.0.0.1:1053", "DNS server HOST:PORT")
		name     = flag.String("name", "example.com", "Query name")
		qtype    = flag.Int("qtype", 1, "Query type (numeric, A=1)")
		timeout  = flag.Duration("timeout", 2*time.Second, "Timeout")
		recvSize = flag.Int("recv-size", 2048, "UDP receive buffer size")
		quiet    = flag.Bool("quiet", false, "Suppress output (exit status indicates success)")
	)
	flag.Parse()

	resp, err := queryUDP(*server, *name, uint16(*qtype), *timeout, *recvSize)
	if err != nil {
		if !*quiet {
			fmt.Fprintf(os.Stderr, "hfquery error: %v\n", err)
		}
		os.Exit(1)
	}
	if *quiet {
		return
	}

	p, err := dnswire.ParsePacket(resp)
	if err != nil {
		fmt.Printf("received %d bytes (unparseable)\n", len(resp))
		return
	}

	fmt.Printf("id=%d rcode=%d answers=%d authorities=%d additionals=%d\n",
		p.Header.ID,
		dnswire.RCodeFromFlags(p.Header.Flags),
		len(p.Answers),
		len(p.Authorities),
		len(p.Additionals),
	)

	rows := make([]string, 0, len(p.Answers))
	for _, rr := range p.Answers {
		rows = append(rows, formatRR(rr))
	}
	sort.Strings(rows)
	for _, s := range rows {
		fmt.Println(s)
	}
}

func queryUDP(server, name string, qtype uint16, timeout time.Duration, recvSize int) ([]byte, error) {
	addr, err := net.ResolveUDPAddr("udp", server)
	if err != nil {
		return nil, err
	}
	c, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, err
	}
	defer c.Close()

	reqBytes, err := buildQuery(name, qtype)
	if err != nil {
		return nil, err
	}
	_ = c.SetDeadline(time.Now().Add(timeout))
	if _, err := c.Write(reqBytes); err != nil {
		return nil, err
	}
	buf := make([]byte, recvSize)
	n, err := c.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

func buildQuery(name string, qtype uint16) ([]byte, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("name required")
	}
	flags := dnswire.RDFlag
	p := dnswire.Packet{
		Header:    dnswire.Header{ID: uint16(time.Now().UnixNano()), Flags: flags},
		Questions: []dnswire.Question{{Name: strings.TrimSuffix(name, "."), Type: qtype, Class: uint16(dnswire.ClassIN)}},
	}
	return p.Marshal()
}

func formatRR(rr dnswire.Record) string {
	name := rr.Name
	if name == "" {
		name = "."
	}
	switch dnswire.RecordType(rr.Type) {
	case dnswire.TypeA:
		if ip, ok := rr.IPv4(); ok {
			return fmt.Sprintf("%s %d IN A %s", name, rr.TTL, ip)
		}
	case dnswire.TypeAAAA:
		if ip, ok := rr.IPv6(); ok {
			return fmt.Sprintf("%s %d IN AAAA %s", name, rr.TTL, ip)
		}
	case dnswire.TypeCNAME:
		if s, ok := rr.Data.(string); ok {
			return fmt.Sprintf("%s %d IN CNAME %s", name, rr.TTL, s)
		}
	}
	return fmt.Sprintf("%s %d IN TYPE%d (unparsed)", name, rr.TTL, rr.Type)
}
