package comch

import (
	"context"
	"errors"
)

// Teardown releases, in order, the buffer exchange endpoints and their
// regions, the connection and engine, then the device. A live session is
// drained to Closed first, bounded by SessionConfig.DrainTimeout.
//
// Teardown is idempotent and safe on a partially initialized session.
func (s *Session) Teardown() error {
	if s == nil {
		return nil
	}
	var errs []error
	errs = append(errs, s.CloseExchange())

	if s.conn != nil && s.state != Closed {
		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.DrainTimeout)
		errs = append(errs, s.Drain(ctx))
		cancel()
	}
	if s.conn != nil {
		errs = append(errs, s.conn.Close())
		s.conn = nil
	}
	if s.engine != nil {
		errs = append(errs, s.engine.Close())
		s.engine = nil
	}
	if s.dev != nil {
		errs = append(errs, s.dev.Close())
		s.dev = nil
	}
	s.setState(Closed)
	return errors.Join(errs...)
}
