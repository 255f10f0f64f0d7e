package gather

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"strings"
	"sync"
	"time"

	"tadeval/internal/detection"
	"tadeval/internal/evalerr"
	"tadeval/internal/logging"
)

const serviceName = "Gather"

// SubmitRequest carries one rank's contribution.
type SubmitRequest struct {
	Rank    int               `json:"rank"`
	Entries []detection.Entry `json:"entries"`
}

// SubmitResponse carries the merged mapping back to a rank.
type SubmitResponse struct {
	WorldSize int               `json:"world_size"`
	Entries   []detection.Entry `json:"entries"`
}

// StatusRequest asks the coordinator how many ranks have arrived.
type StatusRequest struct{}

// StatusResponse reports barrier progress.
type StatusResponse struct {
	Arrived   int `json:"arrived"`
	WorldSize int `json:"world_size"`
}

// Coordinator hosts the gather barrier for a multi-process job. It runs in
// rank 0, which contributes through AllGather directly while other ranks
// submit over JSON-RPC on a Unix socket.
type Coordinator struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server
	barrier   *barrier

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	connMu sync.Mutex
	conns  map[net.Conn]struct{}
}

// NewCoordinator listens on path for worldSize-1 remote ranks.
func NewCoordinator(ctx context.Context, path string, worldSize int, logger *slog.Logger) (*Coordinator, error) {
	if worldSize <= 0 {
		return nil, fmt.Errorf("gather: world size must be positive, got %d", worldSize)
	}
	logger = logging.NewComponentLogger(logger, "gather")

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	c := &Coordinator{
		path:     path,
		logger:   logger,
		listener: listener,
		barrier:  newBarrier(worldSize),
		ctx:      serverCtx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
	c.rpcServer = rpc.NewServer()
	if err := c.rpcServer.RegisterName(serviceName, &service{coord: c}); err != nil {
		cancel()
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}
	return c, nil
}

// Serve accepts rank connections until Close is called.
func (c *Coordinator) Serve() {
	c.logger.Debug("gather coordinator listening", logging.String("socket", c.path))
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		for {
			conn, err := c.listener.Accept()
			if err != nil {
				select {
				case <-c.ctx.Done():
					return
				default:
				}
				if errors.Is(err, net.ErrClosed) {
					return
				}
				logging.WarnWithContext(c.logger, "accept failed", "gather_accept_failed",
					logging.Error(err),
					logging.String(logging.FieldImpact, "a rank may fail to reach the gather"),
					logging.String(logging.FieldErrorHint, "check socket permissions on distributed.socket"))
				continue
			}
			c.track(conn, true)
			c.wg.Add(1)
			go func(conn net.Conn) {
				defer c.wg.Done()
				defer c.track(conn, false)
				c.rpcServer.ServeCodec(jsonrpc.NewServerCodec(conn))
			}(conn)
		}
	}()
}

func (c *Coordinator) track(conn net.Conn, add bool) {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if add {
		c.conns[conn] = struct{}{}
	} else {
		delete(c.conns, conn)
	}
}

// AllGather contributes the coordinator's own mapping.
func (c *Coordinator) AllGather(ctx context.Context, rank int, mapping *detection.ResultMapping) (*detection.ResultMapping, error) {
	return c.barrier.contribute(ctx, rank, mapping)
}

// Arrived reports how many ranks have contributed.
func (c *Coordinator) Arrived() int {
	return c.barrier.count()
}

// Close stops accepting ranks and removes the socket. Connections still
// reading their merged result get a short grace period before being closed.
func (c *Coordinator) Close() {
	c.cancel()
	_ = c.listener.Close()

	drained := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
	case <-time.After(5 * time.Second):
		c.connMu.Lock()
		for conn := range c.conns {
			_ = conn.Close()
		}
		c.connMu.Unlock()
		<-drained
	}

	if err := os.RemoveAll(c.path); err != nil {
		logging.WarnWithContext(c.logger, "failed to remove socket", "gather_socket_cleanup_failed",
			logging.String("socket", c.path),
			logging.Error(err),
			logging.String(logging.FieldImpact, "stale socket may block the next run"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually"))
	}
}

type service struct {
	coord *Coordinator
}

func (s *service) Submit(req SubmitRequest, resp *SubmitResponse) error {
	s.coord.logger.Debug("rank submitted",
		logging.Int(logging.FieldRank, req.Rank),
		logging.Int("videos", len(req.Entries)))
	merged, err := s.coord.barrier.contribute(s.coord.ctx, req.Rank, detection.FromEntries(req.Entries))
	if err != nil {
		return err
	}
	resp.WorldSize = s.coord.barrier.worldSize
	resp.Entries = merged.Entries()
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	resp.Arrived = s.coord.Arrived()
	resp.WorldSize = s.coord.barrier.worldSize
	return nil
}

// Client submits a non-zero rank's mapping to the coordinator.
type Client struct {
	path      string
	worldSize int
	logger    *slog.Logger
	// RetryInterval spaces dial attempts while the coordinator starts.
	RetryInterval time.Duration
}

// NewClient returns a client for the coordinator socket at path.
func NewClient(path string, worldSize int, logger *slog.Logger) *Client {
	return &Client{
		path:          path,
		worldSize:     worldSize,
		logger:        logging.NewComponentLogger(logger, "gather"),
		RetryInterval: 100 * time.Millisecond,
	}
}

// AllGather submits mapping and waits for the merged result. The coordinator
// may not be listening yet; dialing is retried until ctx ends.
func (c *Client) AllGather(ctx context.Context, rank int, mapping *detection.ResultMapping) (*detection.ResultMapping, error) {
	rpcClient, err := c.dial(ctx)
	if err != nil {
		return nil, &evalerr.GatherTimeoutError{Rank: rank, Arrived: -1, WorldSize: c.worldSize, Err: err}
	}
	defer rpcClient.Close()

	var resp SubmitResponse
	call := rpcClient.Go(serviceName+".Submit", SubmitRequest{Rank: rank, Entries: mapping.Entries()}, &resp, make(chan *rpc.Call, 1))
	select {
	case <-call.Done:
	case <-ctx.Done():
		return nil, &evalerr.GatherTimeoutError{Rank: rank, Arrived: c.arrived(), WorldSize: c.worldSize, Err: ctx.Err()}
	}
	if call.Error != nil {
		var serverErr rpc.ServerError
		if errors.As(call.Error, &serverErr) && strings.Contains(string(serverErr), evalerr.ErrGatherTimeout.Error()) {
			return nil, &evalerr.GatherTimeoutError{Rank: rank, Arrived: -1, WorldSize: c.worldSize, Err: call.Error}
		}
		return nil, fmt.Errorf("gather submit: %w", call.Error)
	}
	return detection.FromEntries(resp.Entries), nil
}

func (c *Client) dial(ctx context.Context) (*rpc.Client, error) {
	interval := c.RetryInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	for {
		conn, err := net.DialTimeout("unix", c.path, 2*time.Second)
		if err == nil {
			return rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn)), nil
		}
		c.logger.Debug("coordinator not reachable yet", logging.String("socket", c.path), logging.Error(err))
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("dial coordinator %s: %w", c.path, errors.Join(ctx.Err(), err))
		case <-time.After(interval):
		}
	}
}

// arrived asks the coordinator for barrier progress, returning -1 when it
// cannot be reached within a second.
func (c *Client) arrived() int {
	conn, err := net.DialTimeout("unix", c.path, time.Second)
	if err != nil {
		return -1
	}
	_ = conn.SetDeadline(time.Now().Add(time.Second))
	client := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	defer client.Close()
	var resp StatusResponse
	if err := client.Call(serviceName+".Status", StatusRequest{}, &resp); err != nil {
		return -1
	}
	return resp.Arrived
}
