package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tendant/become-image-pipeline/internal/graph"
	"github.com/tendant/become-image-pipeline/pkg/pipeline"
)

// ComfyConfig holds ComfyUI client configuration
type ComfyConfig struct {
	// Addr is the host:port the engine listens on
	Addr string

	// Command launches the engine process. Optional; when empty the engine is assumed to be running.
	// The output and input directory flags are appended by Start.
	Command []string

	// ReadyTimeout bounds the wait for the engine to answer after Start. Defaults to 5 minutes.
	ReadyTimeout time.Duration
}

// ComfyClient drives a ComfyUI server over its HTTP and websocket API
type ComfyClient struct {
	cfg        ComfyConfig
	clientID   string
	httpClient *http.Client
	logger     zerolog.Logger

	mu       sync.Mutex
	conn     *websocket.Conn
	cmd      *exec.Cmd
	inputDir string
}

// NewComfyClient creates a client for the engine at cfg.Addr
func NewComfyClient(cfg ComfyConfig, logger zerolog.Logger) *ComfyClient {
	if cfg.ReadyTimeout == 0 {
		cfg.ReadyTimeout = 5 * time.Minute
	}
	return &ComfyClient{
		cfg:        cfg,
		clientID:   uuid.New().String(),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		logger:     logger,
	}
}

// Start implements Engine
func (c *ComfyClient) Start(ctx context.Context, outputDir, inputDir string) error {
	c.mu.Lock()
	c.inputDir = inputDir
	c.mu.Unlock()

	if len(c.cfg.Command) > 0 {
		args := append([]string{}, c.cfg.Command[1:]...)
		args = append(args, "--output-directory", outputDir, "--input-directory", inputDir)

		cmd := exec.Command(c.cfg.Command[0], args...)
		cmd.Stdout = os.Stderr
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("failed to start engine: %w", err)
		}
		c.mu.Lock()
		c.cmd = cmd
		c.mu.Unlock()
		c.logger.Info().Int("pid", cmd.Process.Pid).Strs("command", c.cfg.Command).Msg("Engine process started")
	}

	return c.waitReady(ctx)
}

func (c *ComfyClient) waitReady(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 250 * time.Millisecond
	b.MaxInterval = 5 * time.Second
	b.MaxElapsedTime = c.cfg.ReadyTimeout

	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.httpURL("/system_stats"), nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("engine not ready: status %d", resp.StatusCode)
		}
		return nil
	}, backoff.WithContext(b, ctx))
	if err != nil {
		return fmt.Errorf("engine at %s did not become ready: %w", c.cfg.Addr, err)
	}

	c.logger.Info().Str("addr", c.cfg.Addr).Int("attempts", attempt).Msg("Engine is ready")
	return nil
}

// LoadGraph implements Engine
func (c *ComfyClient) LoadGraph(g graph.Graph, opts LoadOptions) (*Prompt, error) {
	if opts.CheckInputs {
		c.mu.Lock()
		inputDir := c.inputDir
		c.mu.Unlock()

		for _, name := range g.ImageFiles() {
			if _, err := os.Stat(filepath.Join(inputDir, name)); err != nil {
				return nil, fmt.Errorf("workflow input %q not found in %s: %w", name, inputDir, err)
			}
		}
	}
	return &Prompt{Graph: g}, nil
}

// Connect implements Engine
func (c *ComfyClient) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}

	u := url.URL{Scheme: "ws", Host: c.cfg.Addr, Path: "/ws", RawQuery: "clientId=" + c.clientID}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("%w: websocket connect failed: %v", pipeline.ErrEngineFailure, err)
	}
	c.conn = conn
	return nil
}

type promptRequest struct {
	Prompt   graph.Graph `json:"prompt"`
	ClientID string      `json:"client_id"`
}

type promptResponse struct {
	PromptID string `json:"prompt_id"`
	Number   int    `json:"number"`
}

type wsMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type executingData struct {
	Node     *string `json:"node"`
	PromptID string  `json:"prompt_id"`
}

type executionErrorData struct {
	PromptID         string `json:"prompt_id"`
	NodeID           string `json:"node_id"`
	NodeType         string `json:"node_type"`
	ExceptionMessage string `json:"exception_message"`
}

// Run implements Engine
func (c *ComfyClient) Run(ctx context.Context, p *Prompt) error {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("%w: not connected", pipeline.ErrEngineFailure)
	}

	promptID, err := c.queuePrompt(ctx, p.Graph)
	if err != nil {
		return err
	}
	p.ID = promptID
	c.logger.Info().Str("prompt_id", promptID).Msg("Workflow queued")

	// Unblock ReadMessage when the caller gives up
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("%w: run aborted: %w", pipeline.ErrEngineFailure, ctx.Err())
			}
			return fmt.Errorf("%w: event stream closed: %v", pipeline.ErrEngineFailure, err)
		}
		if messageType != websocket.TextMessage {
			// Binary frames carry previews
			continue
		}

		var msg wsMessage
		if err := sonic.Unmarshal(data, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("Skipping undecodable engine message")
			continue
		}

		switch msg.Type {
		case "executing":
			var d executingData
			if err := sonic.Unmarshal(msg.Data, &d); err != nil || d.PromptID != promptID {
				continue
			}
			if d.Node == nil {
				c.logger.Info().Str("prompt_id", promptID).Msg("Workflow execution complete")
				return nil
			}
			c.logger.Debug().Str("node", *d.Node).Msg("Executing node")

		case "execution_success":
			var d executingData
			if err := sonic.Unmarshal(msg.Data, &d); err == nil && d.PromptID == promptID {
				c.logger.Info().Str("prompt_id", promptID).Msg("Workflow execution complete")
				return nil
			}

		case "execution_error":
			var d executionErrorData
			if err := sonic.Unmarshal(msg.Data, &d); err != nil || d.PromptID != promptID {
				continue
			}
			return fmt.Errorf("%w: node %s (%s): %s", pipeline.ErrEngineFailure, d.NodeID, d.NodeType, d.ExceptionMessage)

		case "execution_interrupted":
			var d executingData
			if err := sonic.Unmarshal(msg.Data, &d); err == nil && d.PromptID == promptID {
				return fmt.Errorf("%w: execution interrupted", pipeline.ErrEngineFailure)
			}
		}
	}
}

func (c *ComfyClient) queuePrompt(ctx context.Context, g graph.Graph) (string, error) {
	var resp promptResponse
	if err := c.post(ctx, "/prompt", promptRequest{Prompt: g, ClientID: c.clientID}, &resp); err != nil {
		return "", fmt.Errorf("%w: %v", pipeline.ErrEngineFailure, err)
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("%w: no prompt_id in response", pipeline.ErrEngineFailure)
	}
	return resp.PromptID, nil
}

// ClearQueue implements Engine
func (c *ComfyClient) ClearQueue(ctx context.Context) error {
	if err := c.post(ctx, "/queue", map[string]bool{"clear": true}, nil); err != nil {
		return fmt.Errorf("failed to clear queue: %w", err)
	}
	if err := c.post(ctx, "/interrupt", map[string]any{}, nil); err != nil {
		return fmt.Errorf("failed to interrupt: %w", err)
	}
	return nil
}

// Close drops the event stream and stops a process launched by Start
func (c *ComfyClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	if c.conn != nil {
		errs = append(errs, c.conn.Close())
		c.conn = nil
	}
	if c.cmd != nil && c.cmd.Process != nil {
		if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
			errs = append(errs, err)
		}
		c.cmd.Wait()
		c.cmd = nil
	}
	return errors.Join(errs...)
}

func (c *ComfyClient) httpURL(path string) string {
	return fmt.Sprintf("http://%s%s", c.cfg.Addr, path)
}

func (c *ComfyClient) post(ctx context.Context, path string, body any, out any) error {
	payload, err := sonic.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.httpURL(path), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%s failed with status %d: %s", path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := sonic.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
