// Package camera GigE Vision系ネットワークカメラと利用側アプリケーションの橋渡しを担う
//
// # 責務
// - カメラデバイスの検出（実機スタック + フェイクカメラ）
// - 接続状態の管理（状態遷移テーブルに従う）
// - デバイス能力範囲とパラメータ設定の検証・適用
// - バッファプールを再利用する取得ループとフレーム配信
// - フレーム・状態変化・エラー通知のオブザーバーへの配信
//
// # 使い分け
// このパッケージは以下の場合に使用する：
// - マシンビジョンスタックの上でフレームとライフサイクル通知を受け取りたい
// - 実機なしでパイプライン全体を試験したい（フェイクカメラ）
//
// # 仕様
//   - Bridge: 利用側に公開する唯一の窓口
//   - DeviceCatalog: 実機とフェイクカメラの列挙（deviceIDで重複排除）
//   - ConnectionStateMachine: Disconnected/Connecting/Connected/Streaming/Error
//   - SettingsController: 能力範囲と接続状態に対する検証、失敗時のロールバック
//   - StreamEngine: N個のStreamBufferを循環させる専用ゴルーチン
//   - FakeCameraRegistry: プロセス内で高々1台のエミュレートデバイス
//   - EventDispatcher: 高々1つのオブザーバーへ配信（未登録時は破棄）
//
// # 並行性
//   - 取得ループは専用ゴルーチンで動作し、フレームはそのゴルーチン上で配信される
//   - 状態遷移と設定変更は呼び出し側ゴルーチンで実行され、1つのミューテックスで直列化される
//   - 接続状態と停止フラグのみがループと共有され、いずれもアトミックに読み書きされる
//   - オブザーバーのコールバックからBridgeの変更系メソッドを同期的に呼んではならない
//
// # 前提要件
//   - 実機を扱う場合はベンダースタックを RegisterStack で登録する
//     （組み込みは "none" のみ）
package camera
