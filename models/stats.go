package models

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/yllada/ovpn-mgmt/common"
)

var loadStatsPattern = regexp.MustCompile(`SUCCESS: nclients=(?P<nclients>\d+),bytesin=(?P<bytesin>\d+),bytesout=(?P<bytesout>\d+)`)

// ServerStats is the load-stats summary.
type ServerStats struct {
	ClientCount int   `json:"client_count"`
	BytesIn     int64 `json:"bytes_in"`
	BytesOut    int64 `json:"bytes_out"`
}

func (s *ServerStats) String() string {
	return fmt.Sprintf("clients=%d in=%d out=%d", s.ClientCount, s.BytesIn, s.BytesOut)
}

// ParseStats parses a load-stats reply. Leading notification lines are
// ignored.
func ParseStats(raw string) (*ServerStats, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, common.NewParseError("did not get expected data from load-stats")
	}

	m := loadStatsPattern.FindStringSubmatch(raw)
	if m == nil {
		return nil, common.NewParseError("unable to parse stats from raw load-stats response")
	}

	clients, err := strconv.Atoi(m[loadStatsPattern.SubexpIndex("nclients")])
	if err != nil {
		return nil, common.NewParseError("invalid nclients: %v", err)
	}
	in, err := strconv.ParseInt(m[loadStatsPattern.SubexpIndex("bytesin")], 10, 64)
	if err != nil {
		return nil, common.NewParseError("invalid bytesin: %v", err)
	}
	out, err := strconv.ParseInt(m[loadStatsPattern.SubexpIndex("bytesout")], 10, 64)
	if err != nil {
		return nil, common.NewParseError("invalid bytesout: %v", err)
	}
	return &ServerStats{ClientCount: clients, BytesIn: in, BytesOut: out}, nil
}
