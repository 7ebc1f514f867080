package artifacts

import (
	"fmt"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/fridayops/friday/pkg/config"
	"github.com/sirupsen/logrus"
)

// LocalServer serves test artifacts (screenshots, raw report archives)
// directly from local directory roots. Incoming request paths are
// resolved relative to these roots.
type LocalServer struct {
	log   logrus.FieldLogger
	roots []string
}

// NewLocalServer creates a local artifact server from the given config.
func NewLocalServer(
	log logrus.FieldLogger,
	cfg *config.LocalArtifactsConfig,
) *LocalServer {
	roots := make([]string, 0, len(cfg.Roots))
	for _, p := range cfg.Roots {
		roots = append(roots, filepath.Clean(p))
	}

	return &LocalServer{
		log:   log.WithField("component", "artifacts-local"),
		roots: roots,
	}
}

// ServeFile locates filePath under one of the roots and serves it via
// http.ServeFile. Returns an error when the path is disallowed or not
// found under any root.
func (l *LocalServer) ServeFile(
	w http.ResponseWriter,
	r *http.Request,
	filePath string,
) error {
	if !l.isAllowedPath(filePath) {
		return fmt.Errorf("path %q is not allowed", filePath)
	}

	for _, root := range l.roots {
		full := filepath.Join(root, filePath)

		// Defense-in-depth: ensure the resolved path stays under root.
		if !strings.HasPrefix(full, root+string(filepath.Separator)) &&
			full != root {
			continue
		}

		if _, err := os.Stat(full); err != nil {
			continue
		}

		http.ServeFile(w, r, full)

		return nil
	}

	return fmt.Errorf("artifact %q not found in any root", filePath)
}

// isAllowedPath rejects empty, absolute, unclean, or traversal paths.
func (l *LocalServer) isAllowedPath(filePath string) bool {
	if filePath == "" {
		return false
	}

	if strings.Contains(filePath, "..") {
		return false
	}

	if filepath.IsAbs(filePath) {
		return false
	}

	return path.Clean(filePath) == filePath
}
