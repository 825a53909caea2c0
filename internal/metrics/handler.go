package metrics

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewHandler はブリッジ用の専用レジストリを持つ /metrics ハンドラーを返す
func NewHandler(source Source) http.Handler {
	registry := prometheus.NewRegistry()
	registry.MustRegister(NewBridgeCollector(source))

	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{
		ErrorLog: log.Default(),
	})
}
