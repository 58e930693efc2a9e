package utils

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"ranked-queue-service/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestR2Endpoint(t *testing.T) {
	tests := map[string]struct {
		cfg  config.ArchiveConfig
		want string
	}{
		"account id": {cfg: config.ArchiveConfig{AccountID: "acc"}, want: "https://acc.r2.cloudflarestorage.com"},
		"override":   {cfg: config.ArchiveConfig{AccountID: "acc", Endpoint: "http://minio:9000"}, want: "http://minio:9000"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, R2Endpoint(tc.cfg))
		})
	}
}

func TestNewR2ClientRequiresBucketAndEndpoint(t *testing.T) {
	_, err := NewR2Client(context.Background(), config.ArchiveConfig{AccountID: "acc"})
	assert.Error(t, err)

	_, err = NewR2Client(context.Background(), config.ArchiveConfig{Bucket: "b"})
	assert.Error(t, err)
}

func TestR2ClientPutObject(t *testing.T) {
	var gotPath, gotType, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client, err := NewR2Client(context.Background(), config.ArchiveConfig{
		AccessKeyID:     "key",
		AccessKeySecret: "secret",
		Bucket:          "archive",
		Endpoint:        srv.URL,
	})
	require.NoError(t, err)

	err = client.PutObject(context.Background(), "tournaments/2024-06-01/ace-t1.json", "application/json", []byte(`{"ok":true}`))
	require.NoError(t, err)

	assert.Equal(t, "/archive/tournaments/2024-06-01/ace-t1.json", gotPath)
	assert.Equal(t, "application/json", gotType)
	assert.True(t, strings.Contains(gotBody, `"ok":true`), gotBody)
}
