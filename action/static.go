package action

import (
	"context"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"

	"github.com/mantrid-go/mantridproxy/static"
)

// Static sends the raw contents of <static_dir>/<type>.http verbatim,
// falling back to a bundled default when the operator hasn't dropped a
// file of that name into the static directory.
type Static struct {
	Type      string
	StaticDir string
}

// Handle implements Action.
func (s *Static) Handle(_ context.Context, req *Request) error {
	body, err := s.load()
	if err != nil {
		log.WithError(err).WithField("type", s.Type).Warn("no static response available")
		return nil
	}
	return writeIgnoringBrokenPipe(req.Conn, body)
}

func (s *Static) load() ([]byte, error) {
	if s.StaticDir != "" {
		path := filepath.Join(s.StaticDir, s.Type+".http")
		if data, err := os.ReadFile(path); err == nil {
			return data, nil
		}
	}
	if data, ok := static.Default(s.Type); ok {
		return data, nil
	}
	return nil, os.ErrNotExist
}
