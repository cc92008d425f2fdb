package tools

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/pluglist-tools/moodle-plugin-lookup/internal/lookup"
	"github.com/sirupsen/logrus"
)

const LogFieldSession = "session"

// Server answers newline delimited JSON-RPC 2.0 requests. Requests are
// handled one at a time in the order they arrive.
type Server struct {
	log     *logrus.Entry
	service *lookup.Service
	version string
}

func New(log *logrus.Logger, service *lookup.Service, version string) *Server {
	return &Server{
		log:     log.WithField(LogFieldSession, uuid.NewString()),
		service: service,
		version: version,
	}
}

// Serve reads requests from r until it is exhausted or ctx is done and
// writes the responses to w. A read blocked on r does not delay the return
// after ctx is done.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go readLines(ctx, r, lines, readErr)

	s.log.Info("serving tools on stdio")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line := <-lines:
			if resp := s.Handle(ctx, line); resp != nil {
				if err := enc.Encode(resp); err != nil {
					return fmt.Errorf("failed to write response: %w", err)
				}
			}
		case err := <-readErr:
			if errors.Is(err, io.EOF) {
				s.log.Info("input closed, stopping")
				return nil
			}
			return fmt.Errorf("failed to read request: %w", err)
		}
	}
}

// readLines sends every non-empty line of r to lines. The final read error,
// io.EOF included, is sent to errc after the last line was delivered.
func readLines(ctx context.Context, r io.Reader, lines chan<- []byte, errc chan<- error) {
	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		line = bytes.TrimSpace(line)
		if len(line) > 0 {
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			errc <- err
			return
		}
	}
}

// Handle processes a single raw message. It returns nil for notifications.
func (s *Server) Handle(ctx context.Context, raw []byte) *Response {
	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		s.log.Warnf("could not parse request: %v", err)
		return newError(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != jsonRPCVersion || req.Method == "" {
		return newError(req.ID, CodeInvalidRequest, "Invalid Request")
	}
	if req.IsNotification() {
		s.log.Debugf("ignoring notification %s", req.Method)
		return nil
	}

	log := s.log.WithField("method", req.Method)
	log.Debug("handling request")
	switch req.Method {
	case "initialize":
		return s.initialize(log, &req)
	case "ping":
		return newResult(req.ID, struct{}{})
	case "tools/list":
		return newResult(req.ID, &listToolsResult{Tools: toolList})
	case "tools/call":
		return s.toolsCall(ctx, log, &req)
	default:
		return newError(req.ID, CodeMethodNotFound, fmt.Sprintf("Method not found: %s", req.Method))
	}
}

func (s *Server) initialize(log *logrus.Entry, req *Request) *Response {
	var params initializeParams
	if len(req.Params) > 0 {
		if err := json.Unmarshal(req.Params, &params); err != nil {
			return newError(req.ID, CodeInvalidParams, fmt.Sprintf("Invalid params: %v", err))
		}
	}
	if dir := params.InitializationOptions.Settings.CacheDir; dir != "" {
		err := s.service.SwitchCacheDir(dir)
		switch {
		case errors.Is(err, lookup.ErrCacheDirUnsupported):
			log.Warnf("ignoring cache directory %s: %v", dir, err)
		case err != nil:
			return newError(req.ID, CodeInvalidParams, err.Error())
		}
	}
	log.Infof("client initialized (protocol %s)", params.ProtocolVersion)
	return newResult(req.ID, &initializeResult{
		ProtocolVersion: ProtocolVersion,
		Capabilities: map[string]any{
			"tools": map[string]any{},
			"settings": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"cacheDir": map[string]any{
						"type":        "string",
						"description": "Directory to store cache files (defaults to temp directory)",
					},
				},
			},
		},
		ServerInfo: serverInfo{Name: ServerName, Version: s.version},
	})
}

func (s *Server) toolsCall(ctx context.Context, log *logrus.Entry, req *Request) *Response {
	var params callToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return newError(req.ID, CodeInvalidParams, "Invalid params: tool name is missing")
	}
	text, err := s.callTool(ctx, params.Name, params.Arguments)
	if err != nil {
		log.WithField("tool", params.Name).Errorf("tool failed: %v", err)
		res := textResult(fmt.Sprintf("Error: %s", err))
		res.IsError = true
		return newResult(req.ID, res)
	}
	return newResult(req.ID, textResult(text))
}
