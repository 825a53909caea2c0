// Package emitter はブリッジの状態遷移とエラーをMQTTで外部へ通知する
//
// トピックは <prefix>/state と <prefix>/error。
// ペイロードは JSON または MessagePack。
package emitter
