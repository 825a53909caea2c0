package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"sync"
)

// SettingsController は能力範囲と接続状態に対して設定変更を検証・適用する
type SettingsController struct {
	sm *ConnectionStateMachine

	mu       sync.RWMutex
	settings Settings
	loaded   bool
}

// NewSettingsController は状態機械にセッションリスナーとして接続されたSettingsControllerを作成する
func NewSettingsController(sm *ConnectionStateMachine) *SettingsController {
	c := &SettingsController{sm: sm}
	sm.attach(c)
	return c
}

// sessionOpened は接続直後にデバイスの現在値を読み込む
func (c *SettingsController) sessionOpened(dev Device, _ Capabilities) error {
	var s Settings
	var err error

	if s.FrameRate, err = dev.GetFloat(FeatureFrameRate); err != nil {
		return fmt.Errorf("フレームレートの読み出しに失敗: %w", err)
	}
	if s.ExposureTime, err = dev.GetFloat(FeatureExposureTime); err != nil {
		return fmt.Errorf("露光時間の読み出しに失敗: %w", err)
	}
	if s.Gain, err = dev.GetFloat(FeatureGain); err != nil {
		return fmt.Errorf("ゲインの読み出しに失敗: %w", err)
	}
	if s.Resolution, err = dev.Region(); err != nil {
		return fmt.Errorf("解像度の読み出しに失敗: %w", err)
	}
	if s.PixelFormat, err = dev.PixelFormat(); err != nil {
		return fmt.Errorf("ピクセルフォーマットの読み出しに失敗: %w", err)
	}

	c.mu.Lock()
	c.settings = s
	c.loaded = true
	c.mu.Unlock()
	return nil
}

// sessionClosed はキャッシュを破棄する
func (c *SettingsController) sessionClosed() {
	c.mu.Lock()
	c.settings = Settings{}
	c.loaded = false
	c.mu.Unlock()
}

// Snapshot は設定のスナップショットを返す（未接続なら false）
func (c *SettingsController) Snapshot() (Settings, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.settings, c.loaded
}

// Get は指定パラメータの現在値を返す
// 値はキャッシュから返すが、先にデバイスを読み出して接続が生きていることを確かめる
// 未接続の場合は ErrNotConnected を原因とする SettingsValidation エラー
// デバイスが失われていれば ConnectionError を返し、状態は Error になる
func (c *SettingsController) Get(p Parameter) (Value, error) {
	if !slices.Contains(Parameters, p) {
		return Value{}, validationError("get", "未知のパラメータ: %s", p)
	}
	op := "get_" + string(p)

	c.sm.mu.Lock()
	defer c.sm.mu.Unlock()

	switch c.sm.State() {
	case StateConnected, StateStreaming:
	default:
		return Value{}, newError(KindSettingsValidation, op, ErrNotConnected)
	}

	if err := read(c.sm.device, p); err != nil {
		if errors.Is(err, ErrDeviceLost) {
			return Value{}, c.sm.faultLocked(op, err)
		}
		slog.Debug("デバイスからの読み出しに失敗しました", "parameter", p, "error", err)
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.loaded {
		return Value{}, newError(KindSettingsValidation, op, ErrNotConnected)
	}
	return c.settings.value(p), nil
}

// Set は値を検証してキャッシュを更新し、デバイスへ書き込む
// 書き込みが拒否された場合はキャッシュを元に戻して同じエラーを返す
func (c *SettingsController) Set(_ context.Context, p Parameter, v Value) error {
	op := "set_" + string(p)

	c.sm.mu.Lock()
	defer c.sm.mu.Unlock()

	switch state := c.sm.State(); state {
	case StateConnected, StateStreaming:
	case StateDisconnected:
		return newError(KindSettingsValidation, op, ErrNotConnected)
	default:
		return validationError(op, "現在の状態では設定できません (状態: %s)", state)
	}

	caps, _ := c.sm.Capabilities()
	prev, _ := c.Snapshot()
	if err := validate(p, v, caps, prev); err != nil {
		return err
	}

	c.store(prev.with(p, v))

	var err error
	switch p {
	case ParamResolution, ParamPixelFormat:
		err = c.sm.reconfigureLocked(op, func(dev Device) error {
			return write(dev, p, v)
		})
	default:
		err = write(c.sm.device, p, v)
	}
	if err == nil {
		slog.Debug("設定を変更しました", "parameter", p, "value", v)
		return nil
	}

	c.rollback(prev)

	if errors.Is(err, ErrDeviceLost) {
		if c.sm.State() != StateError {
			return c.sm.faultLocked(op, err)
		}
		return err
	}
	if KindOf(err) != KindUnknown {
		return err
	}
	return newError(KindSettingsValidation, op, fmt.Errorf("デバイスが書き込みを拒否しました: %w", err))
}

func (c *SettingsController) store(s Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.settings = s
	}
}

// rollback はセッションが残っている場合のみキャッシュを戻す
func (c *SettingsController) rollback(prev Settings) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.loaded {
		c.settings = prev
	}
}

// validate は値を能力範囲と現在の設定に対して検証する
func validate(p Parameter, v Value, caps Capabilities, current Settings) error {
	op := "set_" + string(p)

	checkRange := func(name string, r Range) error {
		if !r.Contains(v.Number) {
			return validationError(op, "%s %g は範囲外です [%g, %g]", name, v.Number, r.Min, r.Max)
		}
		return nil
	}

	switch p {
	case ParamFrameRate:
		return checkRange("フレームレート", caps.FrameRate)
	case ParamExposureTime:
		return checkRange("露光時間", caps.ExposureTime)
	case ParamGain:
		return checkRange("ゲイン", caps.Gain)
	case ParamResolution:
		r := v.Resolution
		if r.Width <= 0 || r.Height <= 0 {
			return validationError(op, "無効な解像度: %s", r)
		}
		if !caps.SupportsResolution(r) {
			return validationError(op, "解像度 %s はサポートされていません", r)
		}
		if current.PixelFormat.IsBayer() && (r.Width%2 != 0 || r.Height%2 != 0) {
			return validationError(op, "解像度 %s は現在のピクセルフォーマット %s では使用できません", r, current.PixelFormat)
		}
		return nil
	case ParamPixelFormat:
		f := v.PixelFormat
		if !caps.SupportsPixelFormat(f) {
			return validationError(op, "ピクセルフォーマット %q はサポートされていません", f)
		}
		r := current.Resolution
		if f.IsBayer() && (r.Width%2 != 0 || r.Height%2 != 0) {
			return validationError(op, "ピクセルフォーマット %s は現在の解像度 %s では使用できません", f, r)
		}
		return nil
	default:
		return validationError(op, "未知のパラメータ: %s", p)
	}
}

// write はパラメータをデバイスへ書き込む
func write(dev Device, p Parameter, v Value) error {
	switch p {
	case ParamFrameRate:
		return dev.SetFloat(FeatureFrameRate, v.Number)
	case ParamExposureTime:
		return dev.SetFloat(FeatureExposureTime, v.Number)
	case ParamGain:
		return dev.SetFloat(FeatureGain, v.Number)
	case ParamResolution:
		return dev.SetRegion(v.Resolution)
	case ParamPixelFormat:
		return dev.SetPixelFormat(v.PixelFormat)
	default:
		return fmt.Errorf("未知のパラメータ: %s", p)
	}
}

// read はパラメータをデバイスから読み出す
func read(dev Device, p Parameter) error {
	var err error
	switch p {
	case ParamFrameRate:
		_, err = dev.GetFloat(FeatureFrameRate)
	case ParamExposureTime:
		_, err = dev.GetFloat(FeatureExposureTime)
	case ParamGain:
		_, err = dev.GetFloat(FeatureGain)
	case ParamResolution:
		_, err = dev.Region()
	case ParamPixelFormat:
		_, err = dev.PixelFormat()
	default:
		err = fmt.Errorf("未知のパラメータ: %s", p)
	}
	return err
}

// ParseParameter はパラメータ名を解析する
func ParseParameter(s string) (Parameter, error) {
	p := Parameter(strings.ToLower(strings.TrimSpace(s)))
	if !slices.Contains(Parameters, p) {
		return "", validationError("parse", "未知のパラメータ: %s", s)
	}
	return p, nil
}

// ParseValue はパラメータに応じて文字列の値を解析する
// 解像度は "1280x720"、ピクセルフォーマットは "Mono8" のような形式
func ParseValue(p Parameter, s string) (Value, error) {
	s = strings.TrimSpace(s)

	switch p {
	case ParamFrameRate, ParamExposureTime, ParamGain:
		n, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return Value{}, validationError("parse", "数値ではありません: %q", s)
		}
		return NumberValue(n), nil
	case ParamResolution:
		var w, h int
		if _, err := fmt.Sscanf(strings.ToLower(s), "%dx%d", &w, &h); err != nil {
			return Value{}, validationError("parse", "解像度は WxH 形式で指定してください: %q", s)
		}
		return ResolutionValue(w, h), nil
	case ParamPixelFormat:
		if s == "" {
			return Value{}, validationError("parse", "ピクセルフォーマットが空です")
		}
		return PixelFormatValue(PixelFormat(s)), nil
	default:
		return Value{}, validationError("parse", "未知のパラメータ: %s", p)
	}
}

// FormatValue は ParseValue が受け付ける形式で値を文字列にする
func FormatValue(p Parameter, v Value) string {
	switch p {
	case ParamResolution:
		return v.Resolution.String()
	case ParamPixelFormat:
		return string(v.PixelFormat)
	default:
		return strconv.FormatFloat(v.Number, 'g', -1, 64)
	}
}
