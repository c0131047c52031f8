package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/slaclab/bsastream/internal/beamline"
	"github.com/slaclab/bsastream/internal/pulse"
	"github.com/slaclab/bsastream/internal/stream"
	"github.com/slaclab/bsastream/internal/ws"
)

// StreamInfo summarizes one registered stream.
type StreamInfo struct {
	Name       string   `json:"name"`
	Channel    string   `json:"channel"`
	Beamline   string   `json:"beamline"`
	Running    bool     `json:"running"`
	SampleRate float64  `json:"sample_rate"`
	PulseID    pulse.ID `json:"pulse_id"`
}

// PairInfo summarizes one registered pair.
type PairInfo struct {
	Name     string `json:"name"`
	Ch1      string `json:"ch1"`
	Ch2      string `json:"ch2"`
	Beamline string `json:"beamline"`
}

// ListResponse is the /streams listing.
type ListResponse struct {
	Streams []StreamInfo `json:"streams"`
	Pairs   []PairInfo   `json:"pairs"`
}

// SnapshotResponse is one buffer snapshot with its timing state.
type SnapshotResponse struct {
	Name           string           `json:"name"`
	Channel        string           `json:"channel"`
	Beamline       string           `json:"beamline"`
	PulseID        pulse.ID         `json:"pulse_id"`
	SampleRate     float64          `json:"sample_rate"`
	SampleSpacing  ws.NullableFloat `json:"sample_spacing"`
	TicksPerSample ws.NullableFloat `json:"ticks_per_sample"`
	BufferModulus  ws.NullableFloat `json:"buffer_modulus"`
	Values         ws.FloatSeries   `json:"values"`
}

// AlignedResponse is one aligned pair read.
type AlignedResponse struct {
	Name    string         `json:"name"`
	PulseID pulse.ID       `json:"pulse_id"`
	Points  int            `json:"points"`
	A       ws.FloatSeries `json:"a"`
	B       ws.FloatSeries `json:"b"`
}

// ReconfigureStreamRequest replaces a stream's channel and beamline.
type ReconfigureStreamRequest struct {
	Channel  string `json:"channel"`
	Beamline string `json:"beamline"`
}

// ReconfigurePairRequest replaces a pair's channels and beamline.
type ReconfigurePairRequest struct {
	Ch1      string `json:"ch1"`
	Ch2      string `json:"ch2"`
	Beamline string `json:"beamline"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListStreams(w http.ResponseWriter, r *http.Request) {
	resp := ListResponse{Streams: []StreamInfo{}, Pairs: []PairInfo{}}

	for _, name := range s.registry.StreamNames() {
		single, ok := s.registry.Stream(name)
		if !ok {
			continue
		}
		_, id := single.Snapshot()
		resp.Streams = append(resp.Streams, StreamInfo{
			Name:       name,
			Channel:    single.Channel(),
			Beamline:   string(single.BeamlineName()),
			Running:    single.Running(),
			SampleRate: single.SampleRate(),
			PulseID:    id,
		})
	}
	for _, name := range s.registry.PairNames() {
		pair, ok := s.registry.Pair(name)
		if !ok {
			continue
		}
		resp.Pairs = append(resp.Pairs, PairInfo{
			Name:     name,
			Ch1:      pair.Ch1(),
			Ch2:      pair.Ch2(),
			Beamline: string(pair.BeamlineName()),
		})
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	single, ok := s.registry.Stream(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown stream: " + name})
		return
	}

	values, id := single.Snapshot()
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Name:           name,
		Channel:        single.Channel(),
		Beamline:       string(single.BeamlineName()),
		PulseID:        id,
		SampleRate:     single.SampleRate(),
		SampleSpacing:  ws.NullableFloat(single.SampleSpacing()),
		TicksPerSample: ws.NullableFloat(single.TicksPerSample()),
		BufferModulus:  ws.NullableFloat(single.BufferModulus()),
		Values:         values,
	})
}

func (s *Server) handleAligned(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pair, ok := s.registry.Pair(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown pair: " + name})
		return
	}

	aligned := pair.Align()
	writeJSON(w, http.StatusOK, AlignedResponse{
		Name:    name,
		PulseID: aligned.PulseID,
		Points:  aligned.Points,
		A:       aligned.A,
		B:       aligned.B,
	})
}

func (s *Server) handleReconfigureStream(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	single, ok := s.registry.Stream(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown stream: " + name})
		return
	}

	var req ReconfigureStreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	err := single.Reconfigure(r.Context(), stream.Config{
		Channel:  req.Channel,
		Beamline: beamline.Beamline(req.Beamline),
	})
	if err != nil {
		s.reconfigureError(w, name, req.Channel, req.Beamline, err)
		return
	}

	s.logger.Info("stream reconfigured",
		zap.String("name", name),
		zap.String("channel", req.Channel),
		zap.String("beamline", req.Beamline),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

func (s *Server) handleReconfigurePair(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	pair, ok := s.registry.Pair(name)
	if !ok {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "unknown pair: " + name})
		return
	}

	var req ReconfigurePairRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "malformed request body"})
		return
	}

	err := pair.Reconfigure(r.Context(), stream.PairConfig{
		Ch1:      req.Ch1,
		Ch2:      req.Ch2,
		Beamline: beamline.Beamline(req.Beamline),
	})
	if err != nil {
		s.reconfigureError(w, name, req.Ch1+","+req.Ch2, req.Beamline, err)
		return
	}

	s.logger.Info("pair reconfigured",
		zap.String("name", name),
		zap.String("ch1", req.Ch1),
		zap.String("ch2", req.Ch2),
		zap.String("beamline", req.Beamline),
	)
	writeJSON(w, http.StatusOK, map[string]string{"status": "reconfigured"})
}

func (s *Server) reconfigureError(w http.ResponseWriter, name, channel, line string, err error) {
	if errors.Is(err, beamline.ErrInvalidBeamline) {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: err.Error()})
		return
	}

	// Init failures are alerted: the stream is now disabled until the
	// next successful reconfiguration.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		_ = s.notifier.StreamInitFailed(ctx, channel, line, err)
	}()

	s.logger.Error("reconfiguration failed",
		zap.String("name", name),
		zap.Error(err),
	)
	writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
