package main

import (
	"context"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fieldid/internal/authstub"
)

func TestLoadKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys.txt")
	require.NoError(t, os.WriteFile(path, []byte("# issued 2026-10\nKEY-FROM-FILE-01\n\n  KEY-SHARED-0001  \n"), 0600))

	got, err := loadKeys("KEY-SHARED-0001, KEY-FLAG-00001,,", path)
	require.NoError(t, err)
	assert.Equal(t, []string{"KEY-SHARED-0001", "KEY-FLAG-00001", "KEY-FROM-FILE-01"}, got)
}

func TestLoadKeysMissingFile(t *testing.T) {
	_, err := loadKeys("", filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestServeShutsDownOnCancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	address := ln.Addr().String()
	require.NoError(t, ln.Close())

	stub := authstub.New(authstub.Config{Version: "1.0.0"}, nil)
	defer stub.Close()
	srv := &http.Server{Addr: address, Handler: stub.Router(), ReadHeaderTimeout: time.Second}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- serve(ctx, srv) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + address + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestServeReportsListenError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	srv := &http.Server{Addr: ln.Addr().String(), Handler: http.NotFoundHandler(), ReadHeaderTimeout: time.Second}
	err = serve(context.Background(), srv)
	assert.Error(t, err)
}
