package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadMissingFile(t *testing.T) {
	cfg, err := Load(t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, cfg.Name)
	assert.NotNil(t, cfg.Repositories)
}

func TestSaveAndLoad(t *testing.T) {
	dir := filepath.Join(t.TempDir(), ".wpsnapshots")

	cfg := &Config{Name: "Jane Doe", Email: "jane@example.com"}
	cfg.SetRepository(RepositoryConfig{
		Repository:      "10up",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "secret",
		Region:          "us-west-1",
	})
	require.NoError(t, cfg.Save(dir))

	info, err := os.Stat(filepath.Join(dir, FileName))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	loaded, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, loaded)
}

func TestLoadInvalidJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, FileName), []byte("{not json"), 0o600))

	_, err := Load(dir)
	assert.Error(t, err)
}

func TestRepositorySelection(t *testing.T) {
	cfg := &Config{}

	_, err := cfg.Repository("")
	assert.True(t, errors.Is(err, ErrRepositoryNotConfigured))

	cfg.SetRepository(RepositoryConfig{Repository: "alpha"})
	rc, err := cfg.Repository("")
	require.NoError(t, err)
	assert.Equal(t, "alpha", rc.Repository)

	cfg.SetRepository(RepositoryConfig{Repository: "beta"})
	_, err = cfg.Repository("")
	assert.True(t, errors.Is(err, ErrRepositoryNotConfigured))
	assert.Contains(t, err.Error(), "alpha, beta")

	rc, err = cfg.Repository("beta")
	require.NoError(t, err)
	assert.Equal(t, "beta", rc.Repository)

	_, err = cfg.Repository("gamma")
	assert.True(t, errors.Is(err, ErrRepositoryNotConfigured))
}

func TestRepositoryValidate(t *testing.T) {
	tests := []struct {
		name    string
		rc      RepositoryConfig
		wantErr bool
	}{
		{
			name: "complete aws repository",
			rc:   RepositoryConfig{Repository: "team", AccessKeyID: "a", SecretAccessKey: "s", Region: "us-east-1"},
		},
		{
			name: "both endpoints without region",
			rc:   RepositoryConfig{Repository: "local", AccessKeyID: "a", SecretAccessKey: "s", Endpoint: "localhost:9000", MetadataEndpoint: "localhost:8000"},
		},
		{
			name:    "storage endpoint without region",
			rc:      RepositoryConfig{Repository: "local", AccessKeyID: "a", SecretAccessKey: "s", Endpoint: "localhost:9000"},
			wantErr: true,
		},
		{
			name: "minio with aws records",
			rc:   RepositoryConfig{Repository: "local", AccessKeyID: "a", SecretAccessKey: "s", Endpoint: "localhost:9000", Region: "us-west-1"},
		},
		{
			name:    "missing secret",
			rc:      RepositoryConfig{Repository: "team", AccessKeyID: "a", Region: "us-east-1"},
			wantErr: true,
		},
		{
			name:    "missing region and endpoint",
			rc:      RepositoryConfig{Repository: "team", AccessKeyID: "a", SecretAccessKey: "s"},
			wantErr: true,
		},
		{
			name:    "uppercase name",
			rc:      RepositoryConfig{Repository: "Team", AccessKeyID: "a", SecretAccessKey: "s", Region: "us-east-1"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rc.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidateIdentity(t *testing.T) {
	assert.ErrorIs(t, (&Config{Name: "Jane"}).ValidateIdentity(), ErrIdentityMissing)
	assert.NoError(t, (&Config{Name: "Jane", Email: "jane@example.com"}).ValidateIdentity())
}

func TestMetadataURL(t *testing.T) {
	assert.Empty(t, RepositoryConfig{Endpoint: "minio:9000"}.MetadataURL())
	assert.Equal(t, "http://localhost:4566", RepositoryConfig{MetadataEndpoint: "localhost:4566"}.MetadataURL())
	assert.Equal(t, "https://ddb.internal:8000", RepositoryConfig{MetadataEndpoint: "ddb.internal:8000", UseSSL: true}.MetadataURL())
	assert.Equal(t, "http://dynamodb-local:8000", RepositoryConfig{MetadataEndpoint: "http://dynamodb-local:8000", UseSSL: true}.MetadataURL())
}

func TestResourceNames(t *testing.T) {
	rc := RepositoryConfig{Repository: "10up"}
	assert.Equal(t, "wpsnapshots-10up", rc.BucketName())
	assert.Equal(t, "wpsnapshots-10up", rc.TableName())
}
