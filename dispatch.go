package apyserver

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// dispatch runs the handler registry's dispatch algorithm for one decoded
// message (spec.md §4.6). It returns true if the connection should be
// closed (the client is banned, or a handler raised StopPropagation).
func (s *Server) dispatch(c *Client, m *Message) (closeConn bool) {
	if s.sessions.isBanned(c.Address) {
		return true
	}

	for _, group := range s.handlers.groupsInOrder() {
		for _, h := range s.handlers.handlersIn(group) {
			if !h.matches(c, m) {
				continue
			}

			err := h.fn(c, m)
			if err != nil {
				if errors.Is(err, StopPropagation) {
					return true
				}

				fields := logrus.Fields{"remote_addr": c.Address, "group": group}
				if c.Session != nil {
					fields["session"] = c.Session.ID
				}
				s.logger.WithFields(fields).WithError(err).Error("handler failed")

				// HandlerFailure terminates only this message's dispatch
				// (spec.md §4.6 step 4); the connection stays open.
				return false
			}

			// At most one handler per group (spec.md §4.6 step 2).
			break
		}
	}
	return false
}
