package workspace

import "log/slog"

// Option is a functional option for configuring the Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSettings sets controller settings.
func WithSettings(st Settings) Option {
	return func(s *Service) {
		if st.Policy == "" {
			st.Policy = s.settings.Policy
		}
		s.settings = st
	}
}

// WithPublisher sets where live events go.
func WithPublisher(p Publisher) Option {
	return func(s *Service) {
		s.pub = p
	}
}
