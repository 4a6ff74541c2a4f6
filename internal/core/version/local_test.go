package version

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/melih/lighthouse-updater/internal/core/domain"
	"github.com/melih/lighthouse-updater/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubGit struct {
	version string
	err     error
}

func (s stubGit) LocalVersion(context.Context) (string, error) { return s.version, s.err }

func writeManifest(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "version.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLocalLookup_Priority(t *testing.T) {
	identity := &domain.ContainerIdentity{ContainerID: "0123456789ab", ContainerName: "lighthouse"}
	runtime := mocks.NewRuntime(domain.ContainerDetails{Name: "lighthouse", Image: "melih/lighthouse:v1.1.0"})
	manifestPath := writeManifest(t, `{"version": "v1.0.5"}`)

	tests := []struct {
		name       string
		opts       LocalOptions
		identity   *domain.ContainerIdentity
		wantSource string
		want       string
	}{
		{
			name:       "env override wins",
			opts:       LocalOptions{Override: "v9.9.9", ManifestPath: manifestPath, Runtime: runtime},
			identity:   identity,
			wantSource: SourceEnv,
			want:       "v9.9.9",
		},
		{
			name:       "manifest before image",
			opts:       LocalOptions{ManifestPath: manifestPath, Runtime: runtime},
			identity:   identity,
			wantSource: SourceManifest,
			want:       "v1.0.5",
		},
		{
			name:       "image tag when manifest missing",
			opts:       LocalOptions{ManifestPath: filepath.Join(t.TempDir(), "absent.json"), Runtime: runtime},
			identity:   identity,
			wantSource: SourceImage,
			want:       "v1.1.0",
		},
		{
			name:       "image lookup needs an identity",
			opts:       LocalOptions{Runtime: runtime, Git: stubGit{version: "v0.8.0"}},
			wantSource: SourceGit,
			want:       "v0.8.0",
		},
		{
			name:       "sentinel when nothing is known",
			opts:       LocalOptions{Git: stubGit{err: errors.New("not a repository")}},
			wantSource: SourceNone,
			want:       domain.SentinelVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inst := NewLocalLookup(tt.opts).Lookup(context.Background(), tt.identity)
			assert.Equal(t, tt.wantSource, inst.Source)
			assert.Equal(t, tt.want, inst.Version)
			assert.Equal(t, tt.wantSource != SourceNone, inst.Exists)
		})
	}
}

func TestLocalLookup_ManifestTimestamps(t *testing.T) {
	path := writeManifest(t, `{"version": "1.4.0", "last_updated": "2026-08-01T09:30:00Z"}`)
	inst := NewLocalLookup(LocalOptions{ManifestPath: path}).Lookup(context.Background(), nil)
	require.NotNil(t, inst.LastUpdated)
	assert.Equal(t, 2026, inst.LastUpdated.Year())

	path = writeManifest(t, `{"version": "1.4.0"}`)
	inst = NewLocalLookup(LocalOptions{ManifestPath: path}).Lookup(context.Background(), nil)
	require.NotNil(t, inst.LastUpdated, "falls back to the manifest mtime")
}

func TestLocalLookup_BadManifestIsSkipped(t *testing.T) {
	path := writeManifest(t, `{"version": `)
	inst := NewLocalLookup(LocalOptions{ManifestPath: path}).Lookup(context.Background(), nil)
	assert.False(t, inst.Exists)
}

func TestImageTag(t *testing.T) {
	assert.Equal(t, "v1.2.0", ImageTag("melih/lighthouse:v1.2.0"))
	assert.Equal(t, "1.2.0", ImageTag("ghcr.io/melih/lighthouse:1.2.0"))
	assert.Equal(t, "", ImageTag("melih/lighthouse:latest"))
	assert.Equal(t, "", ImageTag("melih/lighthouse"))
	assert.Equal(t, "", ImageTag("sha256:0123"))
}

func TestImageRef(t *testing.T) {
	ref, err := ImageRef("melih/lighthouse", "v1.2.0")
	require.NoError(t, err)
	assert.Equal(t, "melih/lighthouse:v1.2.0", ref)

	ref, err = ImageRef("ghcr.io/melih/lighthouse:old", "v2.0.0")
	require.NoError(t, err)
	assert.Equal(t, "ghcr.io/melih/lighthouse:v2.0.0", ref)

	_, err = ImageRef("Invalid Repo", "v1")
	require.Error(t, err)
}
