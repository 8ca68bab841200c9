package ipc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"os"
	"sync"

	"log/slog"

	"tally/internal/api"
	"tally/internal/daemon"
	"tally/internal/logging"
	"tally/internal/store"
)

// Server exposes daemon control via JSON-RPC over a Unix domain socket.
type Server struct {
	path      string
	daemon    *daemon.Daemon
	logger    *slog.Logger
	listener  net.Listener
	rpcServer *rpc.Server

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewServer configures the IPC server at the given socket path. The shutdown
// callback, when set, terminates the daemon process after a stop request.
func NewServer(ctx context.Context, path string, d *daemon.Daemon, logger *slog.Logger, shutdown func()) (*Server, error) {
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
	srv := &service{daemon: d, logger: logger, ctx: ctx, shutdown: shutdown}
	if err := rpcServer.RegisterName("Tally", srv); err != nil {
		listener.Close()
		return nil, fmt.Errorf("register rpc service: %w", err)
	}

	serverCtx, cancel := context.WithCancel(ctx)
	return &Server{
		path:      path,
		daemon:    d,
		logger:    logger,
		listener:  listener,
		rpcServer: rpcServer,
		ctx:       serverCtx,
		cancel:    cancel,
	}, nil
}

// Serve starts accepting RPC connections until the context is canceled.
func (s *Server) Serve() {
	s.logger.Debug("IPC server listening", logging.String("socket", s.path))
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
				s.logger.Warn("accept failed",
					logging.Error(err),
					logging.String(logging.FieldEventType, "ipc_accept_failed"),
					logging.String(logging.FieldImpact, "IPC clients may fail to connect"),
					logging.String(logging.FieldErrorHint, "check socket permissions and restart the daemon if needed"))
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
			logging.String("socket", s.path),
			logging.Error(err),
			logging.String(logging.FieldEventType, "ipc_socket_cleanup_failed"),
			logging.String(logging.FieldImpact, "stale IPC socket may block future starts"),
			logging.String(logging.FieldErrorHint, "remove the socket file manually or rerun tally stop"))
	}
}

type service struct {
	daemon   *daemon.Daemon
	logger   *slog.Logger
	ctx      context.Context
	shutdown func()
}

func (s *service) log() *slog.Logger {
	if s.logger == nil {
		return logging.NewNop()
	}
	return s.logger.With(logging.String(logging.FieldComponent, "ipc"))
}

func (s *service) Status(_ StatusRequest, resp *StatusResponse) error {
	status, err := s.daemon.Status(s.ctx)
	if err != nil {
		return err
	}
	resp.Status = api.DaemonStatus{
		Running:        status.Running,
		PID:            status.PID,
		DBPath:         status.DBPath,
		LockFilePath:   status.LockFilePath,
		ElectionID:     status.ElectionID,
		PrecinctID:     status.PrecinctID,
		TestMode:       status.TestMode,
		PollsState:     string(status.PollsState),
		Scanner:        api.FromMachineStatus(status.Scanner),
		BallotsCounted: status.BallotsCounted,
		CanUnconfigure: status.CanUnconfigure,
		Export: api.ExportStatus{
			DriveAttached:  status.DriveAttached,
			DriveDir:       status.DriveDir,
			PendingSheets:  status.PendingExports,
			MarkedComplete: status.ExportComplete,
		},
		OngoingBatch: api.FromBatch(status.OngoingBatch),
	}
	return nil
}

func (s *service) Scan(_ ScanRequest, resp *ScanResponse) error {
	if err := s.daemon.Scan(s.ctx); err != nil {
		resp.Accepted = false
		resp.Message = err.Error()
		return nil
	}
	resp.Accepted = true
	return nil
}

func (s *service) Accept(_ AcceptRequest, resp *AcceptResponse) error {
	if err := s.daemon.Accept(s.ctx); err != nil {
		resp.Accepted = false
		resp.Message = err.Error()
		return nil
	}
	resp.Accepted = true
	return nil
}

func (s *service) Return(_ ReturnRequest, resp *ReturnResponse) error {
	if err := s.daemon.Return(s.ctx); err != nil {
		resp.Accepted = false
		resp.Message = err.Error()
		return nil
	}
	resp.Accepted = true
	return nil
}

func (s *service) Calibrate(_ CalibrateRequest, resp *CalibrateResponse) error {
	if err := s.daemon.Calibrate(s.ctx); err != nil {
		resp.Calibrated = false
		resp.Message = err.Error()
		return nil
	}
	resp.Calibrated = true
	return nil
}

func (s *service) SetPollsState(req SetPollsRequest, resp *SetPollsResponse) error {
	state, ok := store.ParsePollsState(req.State)
	if !ok {
		return fmt.Errorf("unknown polls state %q", req.State)
	}
	result, err := s.daemon.SetPollsState(s.ctx, state)
	if result != nil {
		resp.From = string(result.From)
		resp.To = string(result.To)
		resp.Reason = result.Reason
		resp.ClosedBatch = api.FromBatch(result.ClosedBatch)
		resp.OpenedBatch = api.FromBatch(result.OpenedBatch)
		resp.FinalExport = result.FinalExport
	}
	if err != nil {
		if result == nil {
			return err
		}
		// The transition landed; only the follow-up export failed. Return
		// the applied result so the caller sees the closed polls.
		resp.ExportError = err.Error()
		return nil
	}
	s.log().Info("polls state set via IPC",
		logging.String("state", req.State),
		logging.String(logging.FieldEventType, "polls_state_set"))
	return nil
}

func (s *service) BallotBagReplaced(_ BagReplacedRequest, resp *BagReplacedResponse) error {
	result, err := s.daemon.BallotBagReplaced(s.ctx)
	if err != nil {
		return err
	}
	resp.ClosedBatch = api.FromBatch(result.ClosedBatch)
	resp.OpenedBatch = api.FromBatch(result.OpenedBatch)
	s.log().Info("ballot bag replacement recorded via IPC",
		logging.String(logging.FieldEventType, "ballot_bag_replaced"))
	return nil
}

func (s *service) ExportCastVoteRecords(req ExportRequest, resp *ExportResponse) error {
	var err error
	if req.Finalize {
		err = s.daemon.FinalizeExport(s.ctx)
	} else {
		err = s.daemon.ExportCastVoteRecords(s.ctx)
	}
	if err != nil {
		return err
	}
	resp.Exported = true
	return nil
}

func (s *service) Batches(_ BatchesRequest, resp *BatchesResponse) error {
	summaries, err := s.daemon.Batches(s.ctx)
	if err != nil {
		return err
	}
	resp.Batches = api.FromBatchSummaries(summaries)
	return nil
}

func (s *service) PollsTransitions(_ TransitionsRequest, resp *TransitionsResponse) error {
	transitions, err := s.daemon.PollsTransitions(s.ctx)
	if err != nil {
		return err
	}
	resp.Transitions = make([]api.PollsTransition, 0, len(transitions))
	for _, tr := range transitions {
		resp.Transitions = append(resp.Transitions, api.FromPollsTransition(tr))
	}
	return nil
}

func (s *service) Stop(_ StopRequest, resp *StopResponse) error {
	s.log().Debug("daemon stop requested")
	s.daemon.Stop()
	resp.Stopped = true
	s.log().Info("daemon stopped via IPC",
		logging.String(logging.FieldEventType, "daemon_stop"))
	if s.shutdown != nil {
		s.shutdown()
	}
	return nil
}

func (s *service) LogTail(req LogTailRequest, resp *LogTailResponse) error {
	logPath := s.daemon.LogPath()
	if logPath == "" {
		resp.Offset = 0
		return nil
	}
	lines, offset, err := tailFile(logPath, req.Offset, req.Limit)
	if err != nil {
		return err
	}
	resp.Lines = lines
	resp.Offset = offset
	return nil
}

func (s *service) DatabaseHealth(_ DatabaseHealthRequest, resp *DatabaseHealthResponse) error {
	health := s.daemon.DatabaseHealth(s.ctx)
	resp.DBPath = health.DBPath
	resp.DatabaseExists = health.DatabaseExists
	resp.SchemaVersion = health.SchemaVersion
	resp.IntegrityCheck = health.IntegrityCheck
	resp.TotalSheets = health.TotalSheets
	resp.TotalBatches = health.TotalBatches
	resp.PendingExports = health.PendingExports
	resp.Error = health.Error
	if health.Error != "" {
		return errors.New(health.Error)
	}
	return nil
}
