// Package client は実行中のブリッジサーバーのHTTP APIを呼び出す
package client

import (
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"gigebridge/internal/camera"
	"gigebridge/internal/server"
)

// BridgeClient はブリッジサーバーのAPIクライアント
type BridgeClient struct {
	HTTP *resty.Client
}

// APIError はサーバーが返したエラー
type APIError struct {
	Status   int
	Response server.ErrorResponse
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%d %s: %s", e.Status, e.Response.Error, e.Response.Message)
}

// New は新しいBridgeClientを作成する
func New(baseURL string, timeout time.Duration) *BridgeClient {
	r := resty.New()
	r.SetBaseURL(baseURL)
	r.SetHeader("Content-Type", "application/json")
	r.SetHeader("Accept", "application/json")
	if timeout > 0 {
		r.SetTimeout(timeout)
	}
	r.SetError(&server.ErrorResponse{})

	return &BridgeClient{HTTP: r}
}

// check はレスポンスがエラーならAPIErrorに変換する
func check(resp *resty.Response, err error) error {
	if err != nil {
		return err
	}
	if resp.IsError() {
		apiErr := &APIError{Status: resp.StatusCode()}
		if body, ok := resp.Error().(*server.ErrorResponse); ok && body != nil {
			apiErr.Response = *body
		} else {
			apiErr.Response.Message = resp.String()
		}
		return apiErr
	}
	return nil
}

// GetHealth はサーバーの稼働状態を返す
func (c *BridgeClient) GetHealth() (string, error) {
	var result server.HealthResponse
	resp, err := c.HTTP.R().SetResult(&result).Get("/health")
	if err := check(resp, err); err != nil {
		return "", err
	}
	return result.Status, nil
}

// GetStatus はブリッジの状態を返す
func (c *BridgeClient) GetStatus() (*server.StatusResponse, error) {
	var result server.StatusResponse
	resp, err := c.HTTP.R().SetResult(&result).Get("/api/status")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetCameras はカメラを探索する（timeout<=0 でサーバーのデフォルト）
func (c *BridgeClient) GetCameras(timeout time.Duration) ([]camera.CameraDescriptor, error) {
	var result server.CamerasResponse
	req := c.HTTP.R().SetResult(&result)
	if timeout > 0 {
		req.SetQueryParam("timeout", strconv.FormatInt(timeout.Milliseconds(), 10))
	}
	resp, err := req.Get("/api/cameras")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return result.Cameras, nil
}

// Connect はデバイスIDまたはIPアドレスで接続する
func (c *BridgeClient) Connect(req server.ConnectRequest) (*camera.Status, error) {
	return c.postStatus("/api/connect", req)
}

// Disconnect は切断する
func (c *BridgeClient) Disconnect() (*camera.Status, error) {
	return c.postStatus("/api/disconnect", nil)
}

// StartStreaming は配信を開始する
func (c *BridgeClient) StartStreaming() (*camera.Status, error) {
	return c.postStatus("/api/stream/start", nil)
}

// StopStreaming は配信を停止する
func (c *BridgeClient) StopStreaming() (*camera.Status, error) {
	return c.postStatus("/api/stream/stop", nil)
}

func (c *BridgeClient) postStatus(path string, body any) (*camera.Status, error) {
	var result camera.Status
	req := c.HTTP.R().SetResult(&result)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Post(path)
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// SetSetting はパラメータを変更し、変更後の設定を返す
func (c *BridgeClient) SetSetting(param, value string) (*camera.Settings, error) {
	var result camera.Settings
	resp, err := c.HTTP.R().
		SetPathParam("param", param).
		SetBody(server.SettingValue{Value: value}).
		SetResult(&result).
		Put("/api/settings/{param}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSettings は現在の設定を返す
func (c *BridgeClient) GetSettings() (*camera.Settings, error) {
	var result camera.Settings
	resp, err := c.HTTP.R().SetResult(&result).Get("/api/settings")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &result, nil
}

// GetSnapshot は最新フレームのJPEGを返す
func (c *BridgeClient) GetSnapshot() ([]byte, error) {
	resp, err := c.HTTP.R().SetHeader("Accept", "image/jpeg").Get("/api/snapshot.jpg")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return resp.Body(), nil
}
