package artifacts

import (
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fridayops/friday/pkg/config"
)

func TestLocalServer_IsAllowedPath(t *testing.T) {
	srv := &LocalServer{
		log:   logrus.New(),
		roots: []string{"/data/artifacts"},
	}

	tests := []struct {
		name     string
		path     string
		expected bool
	}{
		{name: "valid simple path", path: "runs/abc/screenshot.png", expected: true},
		{name: "valid top-level path", path: "report.json", expected: true},
		{name: "empty path", path: "", expected: false},
		{name: "path traversal", path: "runs/../../etc/passwd", expected: false},
		{name: "dot dot only", path: "..", expected: false},
		{name: "absolute path", path: "/etc/passwd", expected: false},
		{name: "trailing slash", path: "runs/abc/", expected: false},
		{name: "double slash", path: "runs//abc", expected: false},
		{name: "dot segment", path: "runs/./abc", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, srv.isAllowedPath(tt.path))
		})
	}
}

func TestLocalServer_ServeFile(t *testing.T) {
	// Create temp directory structure.
	root := t.TempDir()
	shotsDir := filepath.Join(root, "runs", "abc")
	require.NoError(t, os.MkdirAll(shotsDir, 0o755))
	require.NoError(
		t, os.WriteFile(
			filepath.Join(shotsDir, "screenshot.png"),
			[]byte("png-bytes"), 0o644,
		),
	)

	srv := NewLocalServer(logrus.New(), &config.LocalArtifactsConfig{
		Enabled: true,
		Roots:   []string{root},
	})

	t.Run("serves existing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/abc/screenshot.png", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "runs/abc/screenshot.png")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "png-bytes")
	})

	t.Run("returns error for missing file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/runs/abc/nope.png", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "runs/abc/nope.png")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
	})

	t.Run("rejects path traversal", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/../../etc/passwd", nil)
		rec := httptest.NewRecorder()

		err := srv.ServeFile(rec, req, "../../etc/passwd")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not allowed")
	})

	t.Run("searches multiple roots", func(t *testing.T) {
		root2 := t.TempDir()
		require.NoError(t, os.MkdirAll(filepath.Join(root2, "archive"), 0o755))
		require.NoError(
			t, os.WriteFile(
				filepath.Join(root2, "archive", "old.png"),
				[]byte("old-bytes"), 0o644,
			),
		)

		multi := NewLocalServer(logrus.New(), &config.LocalArtifactsConfig{
			Enabled: true,
			Roots:   []string{root, root2},
		})

		req := httptest.NewRequest(http.MethodGet, "/archive/old.png", nil)
		rec := httptest.NewRecorder()

		err := multi.ServeFile(rec, req, "archive/old.png")
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "old-bytes")
	})
}
