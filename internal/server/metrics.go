package server

func (s *Server) recordAccepted() {
	if m := s.config.Metrics; m != nil {
		m.ConnectionsAccepted.WithLabelValues(s.config.Name).Inc()
	}
}

func (s *Server) recordRejected(reason string) {
	if m := s.config.Metrics; m != nil {
		m.ConnectionsRejected.WithLabelValues(s.config.Name, reason).Inc()
	}
}

func (s *Server) recordResponse(status string) {
	if m := s.config.Metrics; m != nil {
		m.Responses.WithLabelValues(s.config.Name, statusCode(status)).Inc()
	}
}
