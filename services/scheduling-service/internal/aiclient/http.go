package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/schedai/schedai/services/scheduling-service/internal/model"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type HTTPClient struct {
	baseURL string
	client  *http.Client
}

func NewHTTP(baseURL string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		client: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

func (c *HTTPClient) ScoreSlots(ctx context.Context, slots []model.Slot, hints map[string]string) ([]model.Slot, error) {
	var resp scoreResponse
	if err := c.post(ctx, "/ai/score-slots", scoreRequest{Slots: toWireSlots(slots), Context: hints}, &resp); err != nil {
		return nil, err
	}
	return mergeScores(slots, resp.Slots), nil
}

func (c *HTTPClient) OptimizeWeek(ctx context.Context, appts []model.Appointment) (OptimizeResult, error) {
	var resp optimizeResponse
	if err := c.post(ctx, "/ai/optimize", optimizeRequest{Appointments: toWireAppointments(appts)}, &resp); err != nil {
		return OptimizeResult{}, err
	}
	return fromOptimize(appts, resp), nil
}

func (c *HTTPClient) Debrief(ctx context.Context, appt model.Appointment, transcript string) (DebriefResult, error) {
	var resp debriefResponse
	if err := c.post(ctx, "/ai/debrief", toDebriefRequest(appt, transcript), &resp); err != nil {
		return DebriefResult{}, err
	}
	return fromDebrief(resp), nil
}

func (c *HTTPClient) post(ctx context.Context, path string, body, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return fmt.Errorf("ai service %s: status %d: %s", path, res.StatusCode, strings.TrimSpace(string(msg)))
	}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return fmt.Errorf("ai service %s: decode: %w", path, err)
	}
	return nil
}
