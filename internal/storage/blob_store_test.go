package storage

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinical-intake-pipeline/internal/intake"
	"github.com/wolfman30/clinical-intake-pipeline/pkg/logging"
)

type stubPresigner struct {
	baseURL string
	keys    []string
	expires time.Duration
	err     error
}

func (s *stubPresigner) PresignGetObject(_ context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	if s.err != nil {
		return nil, s.err
	}
	opts := s3.PresignOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	s.expires = opts.Expires
	s.keys = append(s.keys, *params.Key)
	return &v4.PresignedHTTPRequest{URL: s.baseURL + "/" + *params.Key, Method: http.MethodGet}, nil
}

func newTestServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "missing.pdf") {
			http.Error(w, "NoSuchKey", http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchDownloadsWithinLimit(t *testing.T) {
	srv := newTestServer(t, "lab results")
	presigner := &stubPresigner{baseURL: srv.URL}
	store := NewBlobStore(presigner, "patient-files", logging.Discard(), WithSignedURLTTL(5*time.Minute))

	data, err := store.Fetch(context.Background(), "/consult-1/labs.pdf")
	require.NoError(t, err)
	assert.Equal(t, "lab results", string(data))
	assert.Equal(t, []string{"consult-1/labs.pdf"}, presigner.keys)
	assert.Equal(t, 5*time.Minute, presigner.expires)
}

func TestFetchRejectsOversize(t *testing.T) {
	srv := newTestServer(t, strings.Repeat("x", 64))
	store := NewBlobStore(&stubPresigner{baseURL: srv.URL}, "patient-files", logging.Discard(), WithMaxBytes(16))

	_, err := store.Fetch(context.Background(), "big.png")
	var oversize *intake.OversizeFileError
	require.True(t, errors.As(err, &oversize))
	assert.Equal(t, int64(16), oversize.Limit)
}

func TestFetchExactlyAtLimit(t *testing.T) {
	srv := newTestServer(t, strings.Repeat("x", 16))
	store := NewBlobStore(&stubPresigner{baseURL: srv.URL}, "patient-files", logging.Discard(), WithMaxBytes(16))

	data, err := store.Fetch(context.Background(), "edge.png")
	require.NoError(t, err)
	assert.Len(t, data, 16)
}

func TestFetchSurfacesHTTPFailure(t *testing.T) {
	srv := newTestServer(t, "")
	store := NewBlobStore(&stubPresigner{baseURL: srv.URL}, "patient-files", logging.Discard())

	_, err := store.Fetch(context.Background(), "missing.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestFetchPresignFailure(t *testing.T) {
	store := NewBlobStore(&stubPresigner{err: errors.New("denied")}, "patient-files", logging.Discard())

	_, err := store.Fetch(context.Background(), "labs.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "presign")

	_, err = store.SignedURL(context.Background(), "  ")
	require.Error(t, err)
}
