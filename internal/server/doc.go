// Package server はブリッジをHTTP APIとして公開する
//
// 責務:
//   - ブリッジ操作（探索・接続・配信・設定）のJSON API
//   - 状態遷移とエラーのServer-Sent Events配信
//   - 最新フレームのJPEGとMJPEGストリームの配信
//   - Prometheusメトリクスの公開
//
// 仕様:
//   - gin を使用
//   - ブリッジに登録するオブザーバーは Hub のみで、SSE・MQTT・スナップショットへ分配する
//   - エラー種別は HTTP ステータスに対応付ける（接続 409、設定 422、デバイス 502）
//   - グレースフルシャットダウンに対応
package server
