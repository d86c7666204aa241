// Package detector implements the client for the external landslide
// analysis service. The service is asynchronous: a submission returns
// a job id, and status is fetched until a terminal answer appears.
package detector

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"landslide_service/internal/domain/model"
)

// Client talks to the detection service over HTTP. Transport details
// (base URL, bearer token) are configuration, not part of the core
// contract.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL, apiKey string) *Client {
	http := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Content-Type", "application/json")
	if apiKey != "" {
		http.SetAuthToken(apiKey)
	}
	return &Client{http: http}
}

// The service expects X as longitude and Y as latitude.
type submitRequest struct {
	X         float64 `json:"X"`
	Y         float64 `json:"Y"`
	EventDate string  `json:"event_date"`
}

type submitResponse struct {
	ID string `json:"id"`
}

type statusResponse struct {
	Status               string          `json:"status"`
	LandslideDetected    bool            `json:"landslide_detected"`
	LandslideCoordinates json.RawMessage `json:"landslide_coordinates"`
	Message              string          `json:"message"`
}

// Submit sends a coordinate for analysis and returns the job id the
// service assigned. Transport failures and non-2xx responses come back
// as *model.RemoteServiceError.
func (c *Client) Submit(ctx context.Context, coord model.Coordinate) (string, error) {
	body := submitRequest{
		X:         coord.Lng,
		Y:         coord.Lat,
		EventDate: time.Now().UTC().Format("2006-01-02"),
	}

	var out submitResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("")
	if err != nil {
		return "", &model.RemoteServiceError{Op: "detector submit", Err: err}
	}
	if resp.IsError() {
		return "", &model.RemoteServiceError{Op: "detector submit", StatusCode: resp.StatusCode()}
	}
	if out.ID == "" {
		return "", fmt.Errorf("detector submit: response carried no job id")
	}
	return out.ID, nil
}

// GetStatus fetches one status snapshot for a job and decodes it into
// the tagged update variant. Unknown status strings are an error so
// callers never act on a shape they do not understand.
func (c *Client) GetStatus(ctx context.Context, jobID string) (model.DetectionUpdate, error) {
	var out statusResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/" + jobID)
	if err != nil {
		return model.DetectionUpdate{}, &model.RemoteServiceError{Op: "detector status", Err: err}
	}
	if resp.IsError() {
		return model.DetectionUpdate{}, &model.RemoteServiceError{Op: "detector status", StatusCode: resp.StatusCode()}
	}

	switch out.Status {
	case "processing", "pending":
		return model.DetectionUpdate{Kind: model.UpdateProcessing}, nil
	case "success":
		return model.DetectionUpdate{
			Kind:        model.UpdateSucceeded,
			Detected:    out.LandslideDetected,
			Coordinates: out.LandslideCoordinates,
		}, nil
	case "error":
		reason := out.Message
		if reason == "" {
			reason = "detection service reported an error"
		}
		return model.DetectionUpdate{Kind: model.UpdateFailed, Reason: reason}, nil
	default:
		return model.DetectionUpdate{}, fmt.Errorf("detector status: unrecognized status %q", out.Status)
	}
}
