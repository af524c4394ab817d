package comch

import (
	"context"
	"fmt"

	"xdao.co/ldpcoffload/ldpc"
)

// Control markers. Both ends must match them byte for byte.
const (
	StartMarker = "start-data-path-test"
	StopMarker  = "stop-data-path-test"
)

// SignalStart sends the start marker and polls until the peer echoes it.
// If the session closes first the call fails with the recorded error or a
// PeerProtocol StartNotEchoed error.
func (s *Session) SignalStart(ctx context.Context) error {
	if err := s.requireEstablished(); err != nil {
		return err
	}
	s.startSeen = false
	if err := s.sendControl(StartMarker); err != nil {
		return err
	}
	return s.await(ctx, func() bool { return s.startSeen },
		ldpc.KindPeerProtocol, ldpc.RuleStartNotEchoed, "peer did not echo the start marker")
}

// SignalStop sends the stop marker and polls until the peer echoes it. The
// echo invalidates the cached remote consumer id and requests Draining.
// If the session closes first the call fails with the recorded error or a
// PeerProtocol StopNotEchoed error.
func (s *Session) SignalStop(ctx context.Context) error {
	if s.stopSeen {
		return nil
	}
	if s.state != Established {
		if s.result != nil {
			return s.result
		}
		return ldpc.NewError(ldpc.KindPeerProtocol, ldpc.RuleStopNotEchoed,
			fmt.Sprintf("cannot signal stop in state %s", s.state))
	}
	if err := s.sendControl(StopMarker); err != nil {
		return err
	}
	return s.await(ctx, func() bool { return s.stopSeen },
		ldpc.KindPeerProtocol, ldpc.RuleStopNotEchoed, "peer did not echo the stop marker before the session closed")
}

func (s *Session) sendControl(marker string) error {
	msg := []byte(marker)
	if limit := s.conn.MaxMessageSize(); limit > 0 && len(msg) > limit {
		return ldpc.NewError(ldpc.KindTransfer, ldpc.RuleSendFailed,
			fmt.Sprintf("control message of %d bytes exceeds channel limit %d", len(msg), limit))
	}
	if err := s.conn.SendMessage(msg); err != nil {
		err = ldpc.WrapError(ldpc.KindTransfer, ldpc.RuleSendFailed, "submit control message", err)
		s.fail(err)
		return err
	}
	return nil
}

func (s *Session) requireEstablished() error {
	if s.state == Established {
		return nil
	}
	if s.result != nil {
		return s.result
	}
	return ldpc.NewError(ldpc.KindConnection, ldpc.RuleConnectionLost,
		fmt.Sprintf("session is %s, not established", s.state))
}
