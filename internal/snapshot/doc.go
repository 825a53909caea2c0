// Package snapshot は配信されたフレームのJPEG化と定期保存を管理する
//
// # 責務
// - 最新フレームの保持（取得ループ上では参照の差し替えのみ）
// - 要求時のJPEGエンコードと縮小（golang.org/x/image/draw）
// - 一定間隔でのファイル保存と保持期間を過ぎたファイルの削除
//
// # 仕様
//   - Mono8 / RGB8 / BGRA8 / BayerRG8 に対応
//   - ファイル名は snapshot_YYYYMMDDThhmmss.000.jpg
//   - 同じフレームは二度保存しない
package snapshot
