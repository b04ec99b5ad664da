package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/GPT012/pyoz-orchestrator/internal/control"
	"github.com/GPT012/pyoz-orchestrator/internal/core/config"
)

const controlTimeout = 3 * time.Second

var httpClient = &http.Client{Timeout: controlTimeout}

func controlURL(cfg *config.AppConfig, path string) (string, error) {
	if cfg.Server.Port <= 0 {
		return "", fmt.Errorf("%w: control server disabled (server.port is 0)", ErrControlUnreachable)
	}
	return fmt.Sprintf("http://127.0.0.1:%d%s", cfg.Server.Port, path), nil
}

// requestStop asks a running orchestrator to shut down.
func requestStop(ctx context.Context, cfg *config.AppConfig) error {
	url, err := controlURL(cfg, "/stop")
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("%w: unexpected status %s", ErrControlUnreachable, resp.Status)
	}
	return nil
}

// fetchSnapshot reads GET /status from a running orchestrator.
func fetchSnapshot(ctx context.Context, cfg *config.AppConfig) (control.Snapshot, error) {
	var snap control.Snapshot
	url, err := controlURL(cfg, "/status")
	if err != nil {
		return snap, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return snap, err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return snap, fmt.Errorf("%w: %w", ErrControlUnreachable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return snap, fmt.Errorf("%w: unexpected status %s", ErrControlUnreachable, resp.Status)
	}
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return snap, fmt.Errorf("decode status: %w", err)
	}
	return snap, nil
}
