package udp

import (
	"encoding/json"
	"fmt"
	"log"
	"net"

	"gps-arbiter/internal/position"
)

// Sink sends the selected position to a UDP destination as one JSON
// datagram per transition, for lightweight consumers on the same host or
// LAN. It implements the feed observer contract; delivery is best-effort.
type Sink struct {
	dest string
	conn *net.UDPConn
}

func NewSink(dest string) (*Sink, error) {
	addr, err := net.ResolveUDPAddr("udp", dest)
	if err != nil {
		return nil, fmt.Errorf("resolve dest: %w", err)
	}

	// DialUDP selects a suitable local address automatically.
	conn, err := net.DialUDP("udp", nil, addr)
	if err != nil {
		return nil, fmt.Errorf("dial udp: %w", err)
	}

	return &Sink{dest: dest, conn: conn}, nil
}

type datagram struct {
	Available bool          `json:"available"`
	Position  *position.Fix `json:"position,omitempty"`
}

func (s *Sink) PositionAvailable(fix position.Fix) {
	s.send(datagram{Available: true, Position: &fix})
}

func (s *Sink) PositionLost() {
	s.send(datagram{Available: false})
}

func (s *Sink) send(d datagram) {
	if s == nil || s.conn == nil {
		return
	}
	b, err := json.Marshal(d)
	if err != nil {
		log.Printf("udp sink marshal failed: %v", err)
		return
	}
	if _, err := s.conn.Write(b); err != nil {
		log.Printf("udp sink send failed dest=%s: %v", s.dest, err)
	}
}

func (s *Sink) Close() error {
	if s == nil || s.conn == nil {
		return nil
	}
	return s.conn.Close()
}
