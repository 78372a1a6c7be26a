package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeEnvelope(w http.ResponseWriter, status int, success bool, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]interface{}{"success": success, "message": message}
	if data != nil {
		body["data"] = data
	}
	_ = json.NewEncoder(w).Encode(body)
}

func TestDispatchClient_Connect(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/sessions/u1/connect", r.URL.Path)
		assert.Equal(t, "work", r.URL.Query().Get("session"))
		writeEnvelope(w, http.StatusOK, true, "Session connecting", map[string]interface{}{
			"userId": "u1", "sessionId": "work", "state": "connecting", "phase": "awaiting_qr", "pendingQr": "2@abc",
		})
	}))
	defer srv.Close()

	info, err := NewDispatchClient(srv.URL, time.Second).Connect(context.Background(), "u1", "work")
	require.NoError(t, err)
	assert.Equal(t, "connecting", info.State)
	assert.Equal(t, "awaiting_qr", info.Phase)
	assert.Equal(t, "2@abc", info.PendingQR)
}

func TestDispatchClient_ErrorEnvelope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"success":false,"message":"Session not found","error":{"code":"SESSION_NOT_FOUND"}}`))
	}))
	defer srv.Close()

	_, err := NewDispatchClient(srv.URL, time.Second).Status(context.Background(), "u1", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Session not found")
	assert.Contains(t, err.Error(), "404")
}

func TestDispatchClient_SubmitJob(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body submitPayload
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "u1", body.UserID)
		assert.Equal(t, 5, body.DelaySeconds)
		require.Len(t, body.Targets, 1)
		assert.Equal(t, "0501234567", body.Targets[0].Phone)

		writeEnvelope(w, http.StatusAccepted, true, "Job accepted", map[string]interface{}{"jobId": "job-1", "targets": 1})
	}))
	defer srv.Close()

	jobID, err := NewDispatchClient(srv.URL, time.Second).SubmitJob(context.Background(), "u1", "", 5,
		[]JobTarget{{Phone: "0501234567", Messages: []string{"hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "job-1", jobID)
}

func TestDispatchClient_ImportJob(t *testing.T) {
	path := filepath.Join(t.TempDir(), "targets.xlsx")
	require.NoError(t, os.WriteFile(path, []byte("PK\x03\x04fake"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/import", r.URL.Path)
		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "u1", r.FormValue("userId"))
		assert.Equal(t, "10", r.FormValue("delaySeconds"))
		assert.Equal(t, "hello {NAME}", r.FormValue("message"))

		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		assert.Equal(t, "targets.xlsx", hdr.Filename)

		var buf bytes.Buffer
		_, _ = buf.ReadFrom(f)
		assert.Equal(t, "PK\x03\x04fake", buf.String())

		writeEnvelope(w, http.StatusAccepted, true, "Job accepted", map[string]interface{}{"jobId": "job-2"})
	}))
	defer srv.Close()

	jobID, err := NewDispatchClient(srv.URL, time.Second).ImportJob(context.Background(), "u1", "", "hello {NAME}", 10, path)
	require.NoError(t, err)
	assert.Equal(t, "job-2", jobID)
}

func TestDispatchClient_WaitJob(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/jobs/job-1", r.URL.Path)
		n := atomic.AddInt32(&calls, 1)
		status := "running"
		if n >= 3 {
			status = "completed"
		}
		writeEnvelope(w, http.StatusOK, true, "Job status", map[string]interface{}{
			"jobId": "job-1", "status": status, "total": 2, "processed": int(n) - 1,
		})
	}))
	defer srv.Close()

	var ticks int
	info, err := NewDispatchClient(srv.URL, time.Second).WaitJob(context.Background(), "job-1", 5*time.Millisecond, func(JobInfo) { ticks++ })
	require.NoError(t, err)
	assert.Equal(t, "completed", info.Status)
	assert.Equal(t, 3, ticks)
}

func TestDispatchClient_WaitJobCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEnvelope(w, http.StatusOK, true, "Job status", map[string]interface{}{"jobId": "job-1", "status": "running"})
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := NewDispatchClient(srv.URL, time.Second).WaitJob(ctx, "job-1", 5*time.Millisecond, nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestBuildTargets(t *testing.T) {
	t.Run("primary and secondary", func(t *testing.T) {
		targets, err := buildTargets([]string{"0501", "0502/0503", "/0504"}, []string{"hi", " "})
		require.NoError(t, err)
		require.Len(t, targets, 3)
		assert.Equal(t, JobTarget{Phone: "0501", Messages: []string{"hi"}}, targets[0])
		assert.Equal(t, "0503", targets[1].SecondaryPhone)
		assert.Equal(t, "", targets[2].Phone)
		assert.Equal(t, "0504", targets[2].SecondaryPhone)
	})

	t.Run("requires a message", func(t *testing.T) {
		_, err := buildTargets([]string{"0501"}, []string{"  "})
		assert.Error(t, err)
	})

	t.Run("requires a phone", func(t *testing.T) {
		_, err := buildTargets([]string{"/"}, []string{"hi"})
		assert.Error(t, err)
	})
}
