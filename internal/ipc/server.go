// Package ipc exposes daemon control via JSON-RPC over a Unix domain socket.
package ipc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"magpie/internal/catalog"
	"magpie/internal/daemon"
	"magpie/internal/logging"
	"magpie/internal/pipeline"
	"magpie/internal/runs"
)

const rpcName = "Magpie"

// Server accepts control connections on a Unix socket.
type Server struct {
	path      string
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger) (*Server, error) {
	if d == nil {
		return nil, errors.New("ipc server requires daemon")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	if err := os.RemoveAll(path); err != nil {
		return nil, fmt.Errorf("remove existing socket: %w", err)
	}
	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("listen on socket: %w", err)
	}

	rpcServer := rpc.NewServer()
	svc := &service{daemon: d, logger: logging.NewComponentLogger(logger, "ipc"), ctx: ctx}
	if err := rpcServer.RegisterName(rpcName, svc); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve accepts RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("ipc server listening", logging.String("socket", s.path))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			conn, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.ctx.Done():
					return
				default:
				}
				s.logger.Warn("accept failed", logging.Error(err))
				continue
			}
			s.wg.Add(1)
			go func(c net.Conn) {
				defer s.wg.Done()
				s.rpcServer.ServeCodec(jsonrpc.NewServerCodec(c))
			}(conn)
		}
	}()
}

// Close stops the server and removes the socket file.
func (s *Server) Close() {
	s.cancel()
	if s.listener != nil {
		_ = s.listener.Close()
	}
	s.wg.Wait()
	if err := os.RemoveAll(s.path); err != nil {
		s.logger.Warn("failed to remove socket",
			logging.String("socket", s.path), logging.Error(err))
	}
}

type service struct {
	daemon *daemon.Daemon
	logger *slog.Logger
	ctx    context.Context
}

func (s *service) StartRun(req StartRunRequest, resp *StartRunResponse) error {
	opts := pipeline.Options{Forced: req.Forced}
	for _, name := range req.Phases {
		phase, ok := catalog.ParsePhase(name)
		if !ok {
			resp.Started = false
			resp.Message = fmt.Sprintf("unknown phase %q", name)
			return nil
		}
		opts.Phases = append(opts.Phases, phase)
	}
	if err := s.daemon.StartRun(opts); err != nil {
		resp.Started = false
		resp.Message = err.Error()
		return nil
	}
	resp.Started = true
	resp.Message = "run started"
	s.logger.Info("run started via ipc", logging.Bool("forced", req.Forced))
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	resp.Stopping = s.daemon.StopRun()
	s.logger.Info("stop requested via ipc", logging.Bool("run_active", resp.Stopping))
	return nil
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status := s.daemon.Status(s.ctx)
	resp.Running = status.Running
	resp.PID = status.PID
	resp.LockPath = status.LockPath
	resp.SnapshotPath = status.SnapshotPath
	resp.CurrentPhase = status.CurrentPhase
	resp.Message = status.Message
	resp.ETASeconds = int64(status.ETA.Seconds())
	resp.ItemCounts = make(map[string]int, len(status.ItemCounts))
	for state, count := range status.ItemCounts {
		resp.ItemCounts[string(state)] = count
	}
	if status.ActiveRun != nil {
		summary := summarizeRun(status.ActiveRun)
		resp.ActiveRun = &summary
	}
	return nil
}

func (s *service) History(req HistoryRequest, resp *HistoryResponse) error {
	limit := req.Limit
	if limit <= 0 {
		limit = 20
	}
	history, err := s.daemon.History(s.ctx, limit)
	if err != nil {
		return err
	}
	resp.Runs = make([]RunSummary, 0, len(history))
	for _, run := range history {
		resp.Runs = append(resp.Runs, summarizeRun(run))
	}
	return nil
}

func (s *service) Sweep(_ SweepRequest, resp *SweepResponse) error {
	swept, err := s.daemon.SweepStuck(s.ctx)
	if err != nil {
		return err
	}
	resp.Swept = swept
	if swept > 0 {
		s.logger.Info("stuck runs swept", logging.Int64("swept", swept))
	}
	return nil
}

func summarizeRun(run *runs.Run) RunSummary {
	return RunSummary{
		ID:              run.ID,
		Status:          string(run.Status),
		CurrentPhase:    run.CurrentPhase,
		ProgressPercent: run.ProgressPercent,
		Message:         run.Message,
		CreatedAt:       run.CreatedAt,
		StartedAt:       run.StartedAt,
		CompletedAt:     run.CompletedAt,
	}
}
