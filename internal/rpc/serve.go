package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/filigree-dev/filigree/internal/debug"
	"github.com/filigree-dev/filigree/internal/engine"
)

// ServeStream reads newline-delimited JSON requests from r and writes one
// response line per request to w. It returns when r is exhausted or ctx is
// cancelled. Malformed lines produce an error envelope instead of killing
// the stream.
func (s *Server) ServeStream(ctx context.Context, r io.Reader, w io.Writer) error {
	dec := json.NewDecoder(r)
	enc := json.NewEncoder(w)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		var req Request
		if err := dec.Decode(&req); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			resp := fail(engine.E(engine.CodeValidation, "malformed request: %v", err))
			if encErr := enc.Encode(resp); encErr != nil {
				return encErr
			}
			// A decode error leaves the stream position undefined; a
			// fresh decoder resynchronizes at the next line.
			dec = json.NewDecoder(r)
			continue
		}
		if err := enc.Encode(s.Handle(ctx, req)); err != nil {
			return err
		}
	}
}

// ServeListener accepts connections and runs ServeStream on each. It returns
// after ctx is cancelled and the listener is closed. Intended for unix
// sockets under .filigree/.
func (s *Server) ServeListener(ctx context.Context, ln net.Listener) error {
	var wg sync.WaitGroup
	done := make(chan struct{})
	defer func() {
		close(done)
		wg.Wait()
	}()

	go func() {
		select {
		case <-ctx.Done():
			ln.Close()
		case <-done:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer conn.Close()
			if err := s.ServeStream(ctx, conn, conn); err != nil && !errors.Is(err, context.Canceled) {
				debug.Logf("rpc: connection ended: %v", err)
			}
		}()
	}
}
