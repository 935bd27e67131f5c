package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"visitmap/internal/dataset"
	"visitmap/internal/engine"
	"visitmap/internal/feedback"
	"visitmap/internal/gateway"
)

func newTestREPL(t *testing.T) (*repl, *bytes.Buffer) {
	t.Helper()
	// The remote rejects every call, as it would for a signed-out viewer.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	buf := &bytes.Buffer{}
	out := &syncWriter{w: buf}
	e := engine.New(engine.Config{
		Credentials: gateway.Credentials{BaseURL: srv.URL + "/api"},
		InitialZoom: 4,
		Files: dataset.Files{
			World:     "world-countries.json",
			States:    "india-states.json",
			Districts: "india-districts.json",
		},
	}, engine.Deps{
		Source:     dataset.DirSource{Dir: "../../testdata/geojson"},
		HTTPClient: srv.Client(),
		Sinks:      []feedback.Sink{toastPrinter{out: out}},
	})
	t.Cleanup(e.Close)
	require.NoError(t, e.Start(context.Background()))
	return newREPL(e, out), buf
}

func TestREPLSession(t *testing.T) {
	r, buf := newTestREPL(t)

	script := strings.Join([]string{
		"zoom 8",
		"hover district Springfield",
		"click state Kerala",
		"click district Springfield",
		"confirm",
		"quit",
		"zoom 2",
	}, "\n")
	require.NoError(t, r.Run(context.Background(), strings.NewReader(script)))

	got := buf.String()
	assert.Contains(t, got, "layers: country+state+district (remounted)")
	assert.Contains(t, got, "Springfield: hover-locked clickable=true")
	assert.Contains(t, got, "Kerala is not clickable")
	assert.Contains(t, got, "selected Springfield: confirm to mark as visited")
	assert.Contains(t, got, "syncing Springfield")
	assert.Contains(t, got, "mark Springfield: failed")
	assert.Contains(t, got, "[error] Connection failed. Reverting.")
	assert.NotContains(t, got, "layers: country\n", "commands after quit are not run")
}

func TestREPLReportsBadInput(t *testing.T) {
	r, buf := newTestREPL(t)

	script := "zoom\nzoom high\nfly away\nclick planet Mars\nclick district Springfield\nconfirm\nat district 75 9\nstatus\n"
	require.NoError(t, r.Run(context.Background(), strings.NewReader(script)))

	got := buf.String()
	assert.Contains(t, got, "error: usage: zoom N")
	assert.Contains(t, got, `error: bad zoom "high"`)
	assert.Contains(t, got, `error: unknown command "fly"`)
	assert.Contains(t, got, `error: unknown tier "planet"`)
	assert.Contains(t, got, "error: layer is not shown at this zoom")
	assert.Contains(t, got, "error: no selection awaiting confirmation")
	assert.Contains(t, got, "Zoom in to mark districts")
	assert.Contains(t, got, "selection: none")
}
