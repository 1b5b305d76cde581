package dummy

import (
	"net"
	"net/http/httptest"
	"strings"
)

// StartTest serves every node on an httptest listener and returns the
// "127.0.0.1:port" addresses in node order plus a close func.
func StartTest(cfg ServerConfig) (*Cluster, []string, func()) {
	c := NewCluster(cfg)
	var (
		servers []*httptest.Server
		addrs   []string
	)
	for i, n := range c.nodes {
		srv := httptest.NewServer(c.Handler(i))
		addr := strings.TrimPrefix(srv.URL, "http://")
		if _, port, err := net.SplitHostPort(addr); err == nil {
			n.SetPort(port)
		}
		servers = append(servers, srv)
		addrs = append(addrs, addr)
	}
	return c, addrs, func() {
		for _, s := range servers {
			s.CloseClientConnections()
			s.Close()
		}
	}
}
