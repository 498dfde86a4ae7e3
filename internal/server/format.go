package server

import (
	"bytes"
	"fmt"
	"math"
	"os/exec"
	"strings"
	"time"

	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"

	"nixls/internal/worker"
)

// textDocumentFormatting pipes the draft through the configured
// external command under a hard one-second deadline. Formatting is a
// user-initiated action, so failures surface as errors instead of a
// silent no-op. On timeout the reply is an error but the child is left
// to finish in the background; its goroutine reaps it.
func (s *Server) textDocumentFormatting(ctx *glsp.Context, params *protocol.DocumentFormattingParams) ([]protocol.TextEdit, error) {
	s.captureNotify(ctx)
	path := worker.URIToPath(params.TextDocument.URI)
	d, ok := s.drafts.Get(path)
	if !ok {
		return nil, fmt.Errorf("unknown document: %s", path)
	}
	command := s.config().Formatting.Command
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, fmt.Errorf("no formatting command configured")
	}

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		cmd := exec.Command(argv[0], argv[1:]...)
		cmd.Stdin = strings.NewReader(d.Contents)
		var stdout bytes.Buffer
		cmd.Stdout = &stdout
		err := cmd.Run()
		done <- result{out: stdout.Bytes(), err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			log.Errorf("cannot summon external formatting command: %s", r.err.Error())
			return nil, fmt.Errorf("no formatting response received")
		}
		edit := protocol.TextEdit{
			Range: protocol.Range{
				Start: protocol.Position{Line: 0, Character: 0},
				End:   protocol.Position{Line: math.MaxInt32, Character: math.MaxInt32},
			},
			NewText: string(r.out),
		}
		return []protocol.TextEdit{edit}, nil
	case <-time.After(deadlineFormat):
		log.Errorf("formatter %q exceeded its deadline", command)
		return nil, fmt.Errorf("no formatting response received")
	}
}
