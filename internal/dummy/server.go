package dummy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/go-hclog"
)

// ServerConfig describes a fake cluster of Nodes members listening on
// consecutive ports starting at BasePort.
type ServerConfig struct {
	Nodes    int
	BasePort int
	Mode     string // reported verbatim by /api/mode

	// Per-PUT service time is drawn from [MinLatency, MaxLatency].
	MinLatency time.Duration
	MaxLatency time.Duration
	// FailRate is the fraction of PUTs answered with 409.
	FailRate float64
	// ElectionDelay is how long the cluster stays leaderless after the
	// leader is killed. Negative disables re-election.
	ElectionDelay time.Duration

	Logger hclog.Logger
}

type Node struct {
	ID    int
	Name  string
	port  atomic.Value // string
	alive atomic.Bool
	c     *Cluster
}

func (n *Node) Port() string {
	p, _ := n.port.Load().(string)
	return p
}

// SetPort records the port the node is reachable on; the leader address the
// cluster reports is "<name>:<port>".
func (n *Node) SetPort(port string) { n.port.Store(port) }

func (n *Node) Alive() bool { return n.alive.Load() }

func (n *Node) addr() string { return n.Name + ":" + n.Port() }

// Cluster is an in-process stand-in for the replicated KV service.
type Cluster struct {
	cfg    ServerConfig
	logger hclog.Logger

	mu     sync.Mutex
	nodes  []*Node
	leader int
	store  map[string]string

	puts    atomic.Int64
	servers []*http.Server
}

func NewCluster(cfg ServerConfig) *Cluster {
	if cfg.Nodes <= 0 {
		cfg.Nodes = 5
	}
	if cfg.Mode == "" {
		cfg.Mode = "leader-based"
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	c := &Cluster{
		cfg:    cfg,
		logger: cfg.Logger.Named("dummy"),
		store:  make(map[string]string),
	}
	for i := 0; i < cfg.Nodes; i++ {
		n := &Node{ID: i, Name: fmt.Sprintf("node%d", i), c: c}
		n.alive.Store(true)
		n.SetPort(strconv.Itoa(cfg.BasePort + i))
		c.nodes = append(c.nodes, n)
	}
	return c
}

func (c *Cluster) Nodes() []*Node { return c.nodes }

func (c *Cluster) Node(i int) *Node { return c.nodes[i] }

// Puts counts PUT requests received by live members.
func (c *Cluster) Puts() int64 { return c.puts.Load() }

// SetLeader forces node i to lead; -1 clears the leader.
func (c *Cluster) SetLeader(i int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.leader = i
}

// LeaderName returns the current leader's node name, or "".
func (c *Cluster) LeaderName() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leader < 0 {
		return ""
	}
	return c.nodes[c.leader].Name
}

func (c *Cluster) leaderAddr() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.leader < 0 || !c.nodes[c.leader].Alive() {
		return ""
	}
	return c.nodes[c.leader].addr()
}

// Kill stops the node named identity. Killing the leader starts an election
// after ElectionDelay. It has the same shape as a container runtime kill.
func (c *Cluster) Kill(_ context.Context, identity string) error {
	c.mu.Lock()
	var victim *Node
	for _, n := range c.nodes {
		if n.Name == identity {
			victim = n
		}
	}
	if victim == nil {
		c.mu.Unlock()
		return fmt.Errorf("no such node %q", identity)
	}
	victim.alive.Store(false)
	wasLeader := c.leader == victim.ID
	if wasLeader {
		c.leader = -1
	}
	c.mu.Unlock()

	c.logger.Info("node killed", "node", identity, "leader", wasLeader)
	if wasLeader && c.cfg.ElectionDelay >= 0 {
		time.AfterFunc(c.cfg.ElectionDelay, c.elect)
	}
	return nil
}

// elect promotes the lowest-numbered live node.
func (c *Cluster) elect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, n := range c.nodes {
		if n.Alive() {
			c.leader = n.ID
			c.logger.Info("new leader elected", "node", n.Name)
			return
		}
	}
}

// Handler returns the HTTP surface of node i.
func (c *Cluster) Handler(i int) http.Handler {
	n := c.nodes[i]
	mux := http.NewServeMux()
	mux.HandleFunc("/api/leader", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"leader": c.leaderAddr()})
	})
	mux.HandleFunc("/api/mode", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"mode": c.cfg.Mode})
	})
	mux.HandleFunc("/api/status", func(w http.ResponseWriter, r *http.Request) {
		status := make(map[string]bool, len(c.nodes))
		for _, m := range c.nodes {
			status[m.addr()] = m.Alive()
		}
		writeJSON(w, status)
	})
	mux.HandleFunc("/api/heartbeat", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/put", c.handlePut)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !n.Alive() {
			// A dead member drops the connection instead of answering.
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		mux.ServeHTTP(w, r)
	})
}

func (c *Cluster) handlePut(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut && r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	c.puts.Add(1)

	var req struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if c.cfg.Mode == "leader-based" || c.cfg.Mode == "cabinet" {
		if c.leaderAddr() == "" {
			http.Error(w, "Leader unknown", http.StatusServiceUnavailable)
			return
		}
	}

	if d := c.serviceTime(); d > 0 {
		time.Sleep(d)
	}
	if c.cfg.FailRate > 0 && rand.Float64() < c.cfg.FailRate {
		http.Error(w, "Consensus not reached", http.StatusConflict)
		return
	}

	c.mu.Lock()
	c.store[req.Key] = req.Value
	c.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (c *Cluster) serviceTime() time.Duration {
	lo, hi := c.cfg.MinLatency, c.cfg.MaxLatency
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int63n(int64(hi-lo)))
}

// Keys reports how many distinct keys were stored.
func (c *Cluster) Keys() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.store)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Start serves every node on its own port. Node 0 leads initially.
func Start(cfg ServerConfig) (*Cluster, error) {
	c := NewCluster(cfg)
	for i, n := range c.nodes {
		n := n
		ln, err := net.Listen("tcp", ":"+n.Port())
		if err != nil {
			c.Shutdown(context.Background())
			return nil, err
		}
		srv := &http.Server{Handler: c.Handler(i)}
		c.servers = append(c.servers, srv)
		go func() {
			if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				c.logger.Error("server failed", "node", n.Name, "error", err)
			}
		}()
	}

	fmt.Printf("👻 Dummy cluster (%s) running %d nodes on ports %d-%d\n",
		cfg.Mode, len(c.nodes), cfg.BasePort, cfg.BasePort+len(c.nodes)-1)
	fmt.Println("   Endpoints: /api/put, /api/leader, /api/mode, /api/status, /api/heartbeat")
	return c, nil
}

func (c *Cluster) Shutdown(ctx context.Context) {
	for _, srv := range c.servers {
		srv.Shutdown(ctx)
	}
}
