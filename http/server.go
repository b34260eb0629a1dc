package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/juju/ratelimit"
	"github.com/julienschmidt/httprouter"

	zfs "github.com/vansante/snapctl"
)

const (
	authenticationTokenHeader   = "X-Snapctl-Auth-Token"
	authenticationTokenGETParam = "authToken"

	// GETParamBytesPerSecond lets an authorized client override the server's
	// configured rate limit for a single transfer, when permitted.
	GETParamBytesPerSecond = "bytesPerSecond"
)

// Server is the httprouter-based daemon fronting a local zfs.Agent, adapted
// from the teacher's snapshot-transfer HTTP server.
type Server struct {
	router *httprouter.Router
	config Config
	agent  zfs.Agent
	logger zfs.Logger

	listener net.Listener
	server   *http.Server
	ctx      context.Context
}

// NewServer builds a Server exposing agent over HTTP per config.
func NewServer(ctx context.Context, config Config, agent zfs.Agent, logger zfs.Logger) *Server {
	config.ApplyDefaults()
	s := &Server{
		router: httprouter.New(),
		config: config,
		agent:  agent,
		logger: logger,
		ctx:    ctx,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	// dataset/snapshot longnames contain '/' and '@', so every identifier
	// travels as a query parameter (GET/PUT) or in the JSON body (POST) rather
	// than a path parameter - httprouter's named params cannot span a '/'.
	s.router.GET("/snapshots", s.authenticated(s.handleListSnapshots))
	s.router.POST("/snapshots/batch", s.authenticated(s.handleGetSnapshots))
	s.router.GET("/dataset", s.authenticated(s.handleGetDataset))
	s.router.GET("/dataset/pool", s.authenticated(s.handleGetPool))
	s.router.POST("/snapshots/create", s.authenticated(s.handleCreateSnapshot))
	s.router.POST("/snapshots/rename", s.authenticated(s.handleRenameSnapshot))
	s.router.POST("/snapshots/destroy", s.authenticated(s.handleDestroySnapshots))
	s.router.POST("/snapshots/tags", s.authenticated(s.handleSetTags))
	s.router.POST("/holds", s.authenticated(s.handlePlaceHold))
	s.router.POST("/holds/release", s.authenticated(s.handleReleaseHold))
	s.router.POST("/holds/get", s.authenticated(s.handleGetHolds))
	s.router.GET("/send", s.authenticated(s.handleSend))
	s.router.PUT("/receive", s.authenticated(s.handleReceive))
}

// Handler returns the Server's http.Handler, for embedding behind another
// mux or driving directly from httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Listen opens the configured socket without serving requests yet.
func (s *Server) Listen() error {
	listener, err := net.Listen("tcp", fmt.Sprintf("%s:%d", s.config.Host, s.config.Port))
	if err != nil {
		return fmt.Errorf("http: opening socket on %s:%d: %w", s.config.Host, s.config.Port, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler: s.router,
		BaseContext: func(net.Listener) context.Context {
			return s.ctx
		},
	}
	return nil
}

// Serve blocks, serving requests on the listener opened by Listen.
func (s *Server) Serve() error {
	err := s.server.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Addr returns the address Listen bound to.
func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

type handlerFunc func(w http.ResponseWriter, req *http.Request, ps httprouter.Params)

func (s *Server) authenticated(handle handlerFunc) httprouter.Handle {
	return func(w http.ResponseWriter, req *http.Request, ps httprouter.Params) {
		token := req.Header.Get(authenticationTokenHeader)
		if token == "" {
			token = req.URL.Query().Get(authenticationTokenGETParam)
		}

		if len(s.config.AuthenticationTokens) > 0 {
			authorized := false
			for _, t := range s.config.AuthenticationTokens {
				if t == token {
					authorized = true
					break
				}
			}
			if !authorized {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
		}

		handle(w, req, ps)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error(), Held: errors.Is(err, zfs.ErrHeldSnapshot)})
}

func decodeJSON(req *http.Request, v interface{}) error {
	return json.NewDecoder(req.Body).Decode(v)
}

func (s *Server) handleListSnapshots(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	q := req.URL.Query()
	opts := zfs.ListSnapshotsOptions{
		Dataset:   q.Get("dataset"),
		Recursive: q.Get("recursive") == "true",
		SortBy:    q.Get("sortBy"),
		Reverse:   q.Get("reverse") == "true",
	}
	snaps, err := s.agent.ListSnapshots(req.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireSlice(snaps))
}

func (s *Server) handleGetSnapshots(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body getSnapshotsRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	snaps, err := s.agent.GetSnapshots(req.Context(), body.Longnames)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toWireSlice(snaps))
}

func (s *Server) handleGetDataset(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	ds, err := s.agent.GetDataset(req.Context(), req.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, datasetWire{Name: ds.Name, GUID: ds.GUID})
}

func (s *Server) handleGetPool(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	pool, err := s.agent.GetPoolFromDataset(req.Context(), req.URL.Query().Get("name"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, poolWire{Name: pool.Name, GUID: pool.GUID})
}

func (s *Server) handleCreateSnapshot(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body createRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.agent.CreateSnapshot(req.Context(), body.Longname, body.Recursive, body.Properties); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRenameSnapshot(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body renameRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.agent.RenameSnapshot(req.Context(), body.Longname, body.NewShortname); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDestroySnapshots(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body destroyRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := s.agent.DestroySnapshots(req.Context(), body.Dataset, body.Shortnames)
	if errors.Is(err, zfs.ErrHeldSnapshot) {
		writeError(w, http.StatusConflict, err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetTags(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body setTagsRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	var tags zfs.TagSet
	if !body.TagsUnset {
		tags = zfs.NewTagSet(body.Tags...)
	}
	if err := s.agent.SetTags(req.Context(), body.Longname, tags); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePlaceHold(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body holdRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.agent.Hold(req.Context(), body.Longnames, body.Tag); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReleaseHold(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body holdRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.agent.Release(req.Context(), body.Longnames, body.Tag); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetHolds(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	var body getHoldsRequest
	if err := decodeJSON(req, &body); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	holds, err := s.agent.GetHolds(req.Context(), body.Longnames)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, toHoldWireSlice(holds))
}

// handleSend streams a `zfs send` (optionally incremental against ?base=)
// straight onto the response body. The request is only "done" from the
// client's perspective once the body has been fully read, matching the
// non-blocking SendHandle contract one HTTP round-trip at a time.
func (s *Server) handleSend(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	longname := req.URL.Query().Get("longname")
	base := req.URL.Query().Get("base")

	handle, err := s.agent.SendSnapshotAsync(req.Context(), longname, base)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	out := s.rateLimitedWriter(req, w)
	w.WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(out, handle.Stdout())
	code := handle.Wait()
	if copyErr != nil || code != 0 {
		s.logger.WithField("longname", longname).WithField("exitCode", code).Error("http: send failed mid-stream")
	}
}

// handleReceive consumes the request body as a `zfs receive` stream, only
// responding once the receive has completed.
func (s *Server) handleReceive(w http.ResponseWriter, req *http.Request, _ httprouter.Params) {
	dataset := req.URL.Query().Get("dataset")

	handle, err := s.agent.ReceiveSnapshotAsync(req.Context(), dataset, s.rateLimitedReader(req), nil)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	code := handle.Wait()
	if code != 0 {
		writeError(w, http.StatusInternalServerError, fmt.Errorf("http: zfs receive exited %d", code))
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) speedLimit(req *http.Request) int64 {
	speed := s.config.SpeedBytesPerSecond
	if !s.config.AllowSpeedOverride {
		return speed
	}
	override := req.URL.Query().Get(GETParamBytesPerSecond)
	if override == "" {
		return speed
	}
	var custom int64
	if _, err := fmt.Sscanf(override, "%d", &custom); err == nil {
		return custom
	}
	return speed
}

func (s *Server) rateLimitedWriter(req *http.Request, w http.ResponseWriter) io.Writer {
	speed := s.speedLimit(req)
	if speed <= 0 {
		return w
	}
	return ratelimit.Writer(w, ratelimit.NewBucketWithRate(float64(speed), speed))
}

func (s *Server) rateLimitedReader(req *http.Request) io.Reader {
	speed := s.speedLimit(req)
	if speed <= 0 {
		return req.Body
	}
	return ratelimit.Reader(req.Body, ratelimit.NewBucketWithRate(float64(speed), speed))
}
