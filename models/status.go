package models

import (
	"strconv"
	"strings"
	"time"

	"github.com/yllada/ovpn-mgmt/common"
)

// ctimeLayout is the timestamp format of status version 1.
const ctimeLayout = "Mon Jan _2 15:04:05 2006"

const (
	statusTitle       = "OpenVPN CLIENT LIST"
	statusUpdated     = "Updated"
	statusClientsHead = "Common Name,Real Address,Bytes Received,Bytes Sent,Connected Since"
	statusRoutingHead = "ROUTING TABLE"
	statusRoutesHead  = "Virtual Address,Common Name,Real Address,Last Ref"
	statusGlobalHead  = "GLOBAL STATS"
)

// ClientSession is a row of the CLIENT LIST section.
type ClientSession struct {
	CommonName     string    `json:"common_name"`
	RealAddress    string    `json:"real_address"`
	BytesReceived  int64     `json:"bytes_received"`
	BytesSent      int64     `json:"bytes_sent"`
	ConnectedSince time.Time `json:"connected_since"`
}

// Route is a row of the ROUTING TABLE section.
type Route struct {
	VirtualAddress string    `json:"virtual_address"`
	CommonName     string    `json:"common_name"`
	RealAddress    string    `json:"real_address"`
	LastRef        time.Time `json:"last_ref"`
}

// Status is the parsed reply to "status 1". Timestamps are in the local
// zone, as the daemon prints them.
type Status struct {
	Updated     time.Time         `json:"updated"`
	Clients     []ClientSession   `json:"clients"`
	Routes      []Route           `json:"routes"`
	GlobalStats map[string]string `json:"global_stats"`
}

// Client returns the session for commonName, if connected.
func (s *Status) Client(commonName string) (ClientSession, bool) {
	for _, c := range s.Clients {
		if c.CommonName == commonName {
			return c, true
		}
	}
	return ClientSession{}, false
}

// MaxBcastMcastQueueLength returns the single global stat OpenVPN reports.
func (s *Status) MaxBcastMcastQueueLength() int {
	v, err := strconv.Atoi(s.GlobalStats["Max bcast/mcast queue length"])
	if err != nil {
		return 0
	}
	return v
}

type statusSection int

const (
	sectionTitle statusSection = iota
	sectionUpdated
	sectionClientsHead
	sectionClients
	sectionRoutesHead
	sectionRoutes
	sectionGlobal
	sectionDone
)

// ParseStatus parses a "status 1" reply.
func ParseStatus(raw string) (*Status, error) {
	st := &Status{GlobalStats: make(map[string]string)}
	section := sectionTitle

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, ">") {
			continue
		}
		if section == sectionDone {
			return nil, &common.ParseError{Message: "unexpected data after END", Line: line}
		}

		switch section {
		case sectionTitle:
			if line != statusTitle {
				return nil, &common.ParseError{Message: "expected status title", Line: line}
			}
			section = sectionUpdated

		case sectionUpdated:
			key, value, ok := strings.Cut(line, ",")
			if !ok || key != statusUpdated {
				return nil, &common.ParseError{Message: "expected Updated line", Line: line}
			}
			t, err := parseCtime(value)
			if err != nil {
				return nil, &common.ParseError{Message: "invalid Updated time", Line: line}
			}
			st.Updated = t
			section = sectionClientsHead

		case sectionClientsHead:
			if line != statusClientsHead {
				return nil, &common.ParseError{Message: "expected client list header", Line: line}
			}
			section = sectionClients

		case sectionClients:
			if line == statusRoutingHead {
				section = sectionRoutesHead
				continue
			}
			c, err := parseClientRow(line)
			if err != nil {
				return nil, err
			}
			st.Clients = append(st.Clients, c)

		case sectionRoutesHead:
			if line != statusRoutesHead {
				return nil, &common.ParseError{Message: "expected routing table header", Line: line}
			}
			section = sectionRoutes

		case sectionRoutes:
			if line == statusGlobalHead {
				section = sectionGlobal
				continue
			}
			r, err := parseRouteRow(line)
			if err != nil {
				return nil, err
			}
			st.Routes = append(st.Routes, r)

		case sectionGlobal:
			if line == common.EndTerminator {
				section = sectionDone
				continue
			}
			key, value, ok := strings.Cut(line, ",")
			if !ok {
				return nil, &common.ParseError{Message: "invalid global stat", Line: line}
			}
			st.GlobalStats[key] = value
		}
	}

	if section != sectionDone {
		return nil, common.NewParseError("incomplete status response")
	}
	return st, nil
}

func parseClientRow(line string) (ClientSession, error) {
	f := strings.Split(line, ",")
	if len(f) != 5 {
		return ClientSession{}, &common.ParseError{Message: "client row must have 5 fields", Line: line}
	}
	recv, err := strconv.ParseInt(f[2], 10, 64)
	if err != nil {
		return ClientSession{}, &common.ParseError{Message: "invalid bytes received", Line: line}
	}
	sent, err := strconv.ParseInt(f[3], 10, 64)
	if err != nil {
		return ClientSession{}, &common.ParseError{Message: "invalid bytes sent", Line: line}
	}
	since, err := parseCtime(f[4])
	if err != nil {
		return ClientSession{}, &common.ParseError{Message: "invalid connected since time", Line: line}
	}
	return ClientSession{
		CommonName:     f[0],
		RealAddress:    f[1],
		BytesReceived:  recv,
		BytesSent:      sent,
		ConnectedSince: since,
	}, nil
}

func parseRouteRow(line string) (Route, error) {
	f := strings.Split(line, ",")
	if len(f) != 4 {
		return Route{}, &common.ParseError{Message: "route row must have 4 fields", Line: line}
	}
	ref, err := parseCtime(f[3])
	if err != nil {
		return Route{}, &common.ParseError{Message: "invalid last ref time", Line: line}
	}
	return Route{
		VirtualAddress: f[0],
		CommonName:     f[1],
		RealAddress:    f[2],
		LastRef:        ref,
	}, nil
}

func parseCtime(raw string) (time.Time, error) {
	return time.ParseInLocation(ctimeLayout, strings.TrimSpace(raw), time.Local)
}
