package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubAPI(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/registration/send-code", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{"success": true, "message": "Verification code sent successfully."})
	})
	mux.HandleFunc("/api/registration/verify-code", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]any{"success": false, "message": "Invalid verification code."})
	})
	mux.HandleFunc("/api/registration/status", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"success": true,
			"data":    map[string]bool{"hasPendingVerification": true, "canRequestNewCode": false},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	t.Cleanup(func() { statusFormat = "text" })
	err := rootCmd.Execute()
	return out.String(), err
}

func TestSendCommand(t *testing.T) {
	srv := stubAPI(t)
	out, err := execute(t, "--api", srv.URL, "send", "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "Verification code sent to a@b.com.\n", out)
}

func TestVerifyCommand_Rejected(t *testing.T) {
	srv := stubAPI(t)
	_, err := execute(t, "--api", srv.URL, "verify", "a@b.com", "0000")
	require.Error(t, err)
	assert.Equal(t, "Invalid verification code.", err.Error())
}

func TestStatusCommand_JSON(t *testing.T) {
	srv := stubAPI(t)
	out, err := execute(t, "--api", srv.URL, "status", "--format", "json", "a@b.com")
	require.NoError(t, err)

	var rows []statusRow
	require.NoError(t, json.Unmarshal([]byte(out), &rows))
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Status.HasPendingVerification)
	assert.False(t, rows[0].Status.CanRequestNewCode)
}

func TestStatusCommand_Text(t *testing.T) {
	srv := stubAPI(t)
	out, err := execute(t, "--api", srv.URL, "status", "a@b.com")
	require.NoError(t, err)
	assert.Contains(t, out, "EMAIL")
	assert.Contains(t, out, "a@b.com  true")
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, "version")
	require.NoError(t, err)
	assert.Equal(t, "mailcode dev\n", out)
}
