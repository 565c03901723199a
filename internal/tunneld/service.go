package tunneld

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"glassvpn/internal/core"
	"glassvpn/internal/ipc"
)

// Service implements ipc.TunnelControlServer on top of a Session.
type Service struct {
	session *Session
	done    <-chan struct{} // closed on daemon shutdown; ends WatchStatus streams
	metrics *Metrics        // may be nil
}

var _ ipc.TunnelControlServer = (*Service)(nil)

// NewService wraps session. Streams end when done is closed. metrics may
// be nil.
func NewService(session *Session, done <-chan struct{}, metrics *Metrics) *Service {
	return &Service{session: session, done: done, metrics: metrics}
}

func (s *Service) GetStatus(context.Context, *emptypb.Empty) (*wrapperspb.Int32Value, error) {
	return wrapperspb.Int32(int32(s.session.Status())), nil
}

func (s *Service) StartTunnel(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.session.Start()
	return &emptypb.Empty{}, nil
}

func (s *Service) StopTunnel(context.Context, *emptypb.Empty) (*emptypb.Empty, error) {
	s.session.Stop()
	return &emptypb.Empty{}, nil
}

func (s *Service) SendMessage(_ context.Context, in *wrapperspb.BytesValue) (*emptypb.Empty, error) {
	err := s.session.Deliver(in.GetValue())
	if s.metrics != nil {
		s.metrics.observeMessage(in.GetValue(), err)
	}
	switch {
	case err == nil:
		return &emptypb.Empty{}, nil
	case errors.Is(err, core.ErrNoSession):
		return nil, status.Error(codes.FailedPrecondition, err.Error())
	default:
		core.Log.Warnf("Daemon", "Rejected message %q: %v", in.GetValue(), err)
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
}

func (s *Service) WatchStatus(_ *emptypb.Empty, stream ipc.StatusStream) error {
	current, sub := s.session.Watch("grpc-watch")
	defer sub.Cancel()

	if err := stream.Send(wrapperspb.Int32(int32(current))); err != nil {
		return err
	}
	for {
		select {
		case raw := <-sub.Events():
			if err := stream.Send(wrapperspb.Int32(int32(raw))); err != nil {
				return err
			}
		case <-stream.Context().Done():
			return nil
		case <-s.done:
			return status.Error(codes.Unavailable, "daemon shutting down")
		}
	}
}
