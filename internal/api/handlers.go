package api

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"math"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/banshee-data/serialscope/internal/channel"
	"github.com/banshee-data/serialscope/internal/db"
	"github.com/banshee-data/serialscope/internal/export"
	"github.com/banshee-data/serialscope/internal/httputil"
	"github.com/banshee-data/serialscope/internal/monitoring"
	"github.com/banshee-data/serialscope/internal/pipeline"
	"github.com/banshee-data/serialscope/internal/security"
	"github.com/banshee-data/serialscope/internal/version"
)

func queryUint(r *http.Request, key string, def uint64) (uint64, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q", key, v)
	}
	return n, nil
}

// windowSize reads ?n=, falling back to the server window. n=0 asks for
// everything retained.
func (s *Server) windowSize(r *http.Request) (int, error) {
	v := r.URL.Query().Get("n")
	if v == "" {
		return s.window, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid n %q", v)
	}
	return n, nil
}

func pathChannel(r *http.Request) (channel.ID, error) {
	v := r.PathValue("id")
	id, err := strconv.Atoi(v)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("invalid channel id %q", v)
	}
	return channel.ID(id), nil
}

// writeChannelError maps registry errors to a status.
func writeChannelError(w http.ResponseWriter, err error) {
	if errors.Is(err, channel.ErrUnknownChannel) {
		httputil.NotFound(w, err.Error())
		return
	}
	httputil.InternalServerError(w, err.Error())
}

func (s *Server) listChannels(w http.ResponseWriter, r *http.Request) {
	chans := s.disp.Channels()
	out := make([]channelJSON, len(chans))
	for i, c := range chans {
		out[i] = toChannelJSON(c)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) renameChannel(w http.ResponseWriter, r *http.Request) {
	id, err := pathChannel(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Name == "" {
		httputil.BadRequest(w, "name must not be empty")
		return
	}
	if err := s.disp.RenameChannel(id, req.Name); err != nil {
		writeChannelError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"id": id, "name": req.Name})
}

func (s *Server) setChannelVisible(w http.ResponseWriter, r *http.Request) {
	id, err := pathChannel(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	var req struct {
		Visible *bool `json:"visible"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Visible == nil {
		httputil.BadRequest(w, "visible is required")
		return
	}
	if err := s.disp.SetChannelVisible(id, *req.Visible); err != nil {
		writeChannelError(w, err)
		return
	}
	httputil.WriteJSONOK(w, map[string]any{"id": id, "visible": *req.Visible})
}

func (s *Server) showAll(w http.ResponseWriter, r *http.Request) {
	s.disp.ShowAll()
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) reset(w http.ResponseWriter, r *http.Request) {
	s.disp.Reset()
	httputil.WriteJSONOK(w, map[string]string{"status": "ok"})
}

func (s *Server) samples(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("channel")
	id, err := strconv.Atoi(q)
	if err != nil || id < 0 {
		httputil.BadRequest(w, fmt.Sprintf("invalid channel %q", q))
		return
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	to, err := queryUint(r, "to", math.MaxUint64)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	samples, err := s.disp.Samples(channel.ID(id), from, to)
	if err != nil {
		writeChannelError(w, err)
		return
	}
	httputil.WriteJSONOK(w, toSamplesJSON(samples))
}

func (s *Server) windowHandler(w http.ResponseWriter, r *http.Request) {
	n, err := s.windowSize(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, toSnapshotJSON(s.disp.Window(n)))
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	n, err := s.windowSize(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snap := s.disp.Window(n)
	stats := export.SummariseSnapshot(snap)
	out := struct {
		From     uint64      `json:"from"`
		To       uint64      `json:"to"`
		Channels []statsJSON `json:"channels"`
		Range    *struct {
			Min Float `json:"min"`
			Max Float `json:"max"`
		} `json:"range"`
	}{From: snap.From, To: snap.To, Channels: make([]statsJSON, len(stats))}
	for i, st := range stats {
		out.Channels[i] = toStatsJSON(st)
	}
	if rng, ok := export.AutoRange(snap); ok {
		out.Range = &struct {
			Min Float `json:"min"`
			Max Float `json:"max"`
		}{Float(rng.Min), Float(rng.Max)}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{"dispatcher": s.disp.Stats()}
	if s.pipe != nil {
		out["pipeline"] = s.pipe.Stats()
	}
	if s.recorder != nil {
		path, on := s.recorder.Recording()
		out["recording"] = map[string]any{"active": on, "path": path}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) ports(w http.ResponseWriter, r *http.Request) {
	ports, err := s.listPorts()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if ports == nil {
		ports = []string{}
	}
	httputil.WriteJSONOK(w, ports)
}

func (s *Server) versionHandler(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, version.Get())
}

func (s *Server) exportPNG(w http.ResponseWriter, r *http.Request) {
	n, err := s.windowSize(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	snap := s.disp.Window(n)
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.PNGFileName(snap)))
	if err := export.WritePNG(w, snap); err != nil {
		httputil.InternalServerError(w, err.Error())
	}
}

func (s *Server) savePNG(w http.ResponseWriter, r *http.Request) {
	n, err := s.windowSize(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	path, err := export.SavePNG(s.fs, s.exportDir, s.disp.Window(n))
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"path": path})
}

func (s *Server) listExports(w http.ResponseWriter, r *http.Request) {
	names, err := export.List(s.fs, s.exportDir)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string][]string{"files": names})
}

// downloadExport serves one CSV recording or saved PNG from the export dir.
func (s *Server) downloadExport(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := security.ValidateExportName(name, ".csv", ".png"); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	err := security.ValidatePathWithinDirectory(filepath.Join(s.exportDir, name), s.exportDir)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "export not found")
		return
	}
	if err != nil {
		httputil.Forbidden(w, "path outside export directory")
		return
	}
	rc, err := export.Open(s.fs, s.exportDir, name)
	if errors.Is(err, fs.ErrNotExist) {
		httputil.NotFound(w, "export not found")
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	defer rc.Close()

	contentType := "text/csv"
	if strings.EqualFold(filepath.Ext(name), ".png") {
		contentType = "image/png"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", name))
	if _, err := io.Copy(w, rc); err != nil {
		monitoring.Logf("failed to send export %s: %v", name, err)
	}
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request) {
	s.pipe.Pause()
	httputil.WriteJSONOK(w, map[string]bool{"paused": true})
}

func (s *Server) resume(w http.ResponseWriter, r *http.Request) {
	s.pipe.Resume()
	httputil.WriteJSONOK(w, map[string]bool{"paused": false})
}

func (s *Server) getRawMode(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, map[string]string{"mode": s.pipe.RawMode().String()})
}

func (s *Server) setRawMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	mode, err := pipeline.ParseRawMode(req.Mode)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	s.pipe.SetRawMode(mode)
	httputil.WriteJSONOK(w, map[string]string{"mode": mode.String()})
}

func (s *Server) sendCommand(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Command string `json:"command"`
	}
	if err := httputil.DecodeJSON(r, &req); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if req.Command == "" {
		httputil.BadRequest(w, "command must not be empty")
		return
	}
	if err := s.serial.SendCommand(req.Command); err != nil {
		httputil.InternalServerError(w, "failed to send command")
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"status": "sent"})
}

func (s *Server) recordStatus(w http.ResponseWriter, r *http.Request) {
	path, on := s.recorder.Recording()
	httputil.WriteJSONOK(w, map[string]any{"active": on, "path": path})
}

func (s *Server) recordStart(w http.ResponseWriter, r *http.Request) {
	path, err := s.recorder.Start()
	switch {
	case errors.Is(err, export.ErrAlreadyRecording):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, map[string]any{"active": true, "path": path})
	}
}

func (s *Server) recordStop(w http.ResponseWriter, r *http.Request) {
	err := s.recorder.Stop()
	switch {
	case errors.Is(err, export.ErrNotRecording):
		httputil.Conflict(w, err.Error())
	case err != nil:
		httputil.InternalServerError(w, err.Error())
	default:
		httputil.WriteJSONOK(w, map[string]any{"active": false})
	}
}

func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := s.db.Sessions(r.Context())
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	if sessions == nil {
		sessions = []db.Session{}
	}
	httputil.WriteJSONOK(w, sessions)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.db.GetSession(r.Context(), id)
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	chans, err := s.db.SessionChannels(r.Context(), id)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := struct {
		db.Session
		Channels []channelJSON `json:"channels"`
	}{Session: sess, Channels: make([]channelJSON, len(chans))}
	for i, c := range chans {
		out.Channels[i] = toChannelJSON(c)
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) deleteSession(w http.ResponseWriter, r *http.Request) {
	err := s.db.DeleteSession(r.Context(), r.PathValue("id"))
	if errors.Is(err, db.ErrSessionNotFound) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	httputil.NoContent(w)
}

func (s *Server) sessionSamples(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	q := r.URL.Query().Get("channel")
	ch, err := strconv.Atoi(q)
	if err != nil || ch < 0 {
		httputil.BadRequest(w, fmt.Sprintf("invalid channel %q", q))
		return
	}
	from, err := queryUint(r, "from", 0)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	to, err := queryUint(r, "to", math.MaxUint64)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	if _, err := s.db.GetSession(r.Context(), id); err != nil {
		if errors.Is(err, db.ErrSessionNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, err.Error())
		return
	}
	stored, err := s.db.SessionSamples(r.Context(), id, channel.ID(ch), from, to)
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	out := make([]sampleJSON, len(stored))
	for i, st := range stored {
		out[i] = sampleJSON{Index: st.Index, Value: Float(st.Value)}
	}
	httputil.WriteJSONOK(w, out)
}
