package handlers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/mrmushfiq/ai-gateway/internal/gateway/providers"
)

type callFunc func(ctx context.Context, req providers.Request) (*providers.Response, error)

// HandleChatCompletion handles POST /chat/completions. Requests with
// "stream": true are answered as server-sent events.
func (h *Handler) HandleChatCompletion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.Stream {
		h.handleStreamingChat(w, r, req)
		return
	}
	h.respond(w, r, req, h.gw.ChatCompletion)
}

// HandleCompletion handles POST /completions
func (h *Handler) HandleCompletion(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, req, h.gw.Completion)
}

// HandleEmbeddings handles POST /embeddings
func (h *Handler) HandleEmbeddings(w http.ResponseWriter, r *http.Request) {
	req, err := decodeRequest(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	h.respond(w, r, req, h.gw.Embeddings)
}

type genericRequest struct {
	Endpoint string          `json:"endpoint"`
	Params   json.RawMessage `json:"params"`
}

// HandleRequest handles POST /request, which forwards params to an
// arbitrary provider endpoint.
func (h *Handler) HandleRequest(w http.ResponseWriter, r *http.Request) {
	data, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var body genericRequest
	if err := json.Unmarshal(data, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	var req providers.Request
	if len(body.Params) > 0 {
		req, err = parseRequest(body.Params)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	h.respond(w, r, req, func(ctx context.Context, req providers.Request) (*providers.Response, error) {
		return h.gw.Request(ctx, body.Endpoint, req)
	})
}

func (h *Handler) respond(w http.ResponseWriter, r *http.Request, req providers.Request, call callFunc) {
	start := time.Now()

	resp, err := call(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}

	w.Header().Set("X-Cache-Hit", strconv.FormatBool(resp.Cached))
	w.Header().Set("X-Provider", resp.Provider)
	w.Header().Set("X-Latency-Ms", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	writeJSON(w, http.StatusOK, resp)
}

// handleStreamingChat relays the provider stream as OpenAI-style SSE chunks.
// Failover only applies until the first byte is written.
func (h *Handler) handleStreamingChat(w http.ResponseWriter, r *http.Request, req providers.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	stream, provider, err := h.gw.ChatCompletionStream(r.Context(), req)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	defer stream.Close()

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.Header().Set("X-Provider", provider)
	w.Header().Set("X-Cache-Hit", "false")
	w.WriteHeader(http.StatusOK)

	// Stream chunks
	for {
		chunk, err := stream.Recv()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.logger.Warn("stream interrupted", "provider", provider, "error", err)
			data, _ := json.Marshal(map[string]string{"error": err.Error()})
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
			return
		}

		data, err := json.Marshal(chunk)
		if err != nil {
			continue
		}
		fmt.Fprintf(w, "data: %s\n\n", data)
		flusher.Flush()
	}

	// Send [DONE]
	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
}
