// Package exchange загружает исторические минутные свечи с бирж.
package exchange

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"sync"
	"time"
)

// HTTPClientConfig содержит настройки HTTP клиента для запросов свечей
type HTTPClientConfig struct {
	ConnectTimeout time.Duration // таймаут установки TCP соединения (default: 5s)
	ReadTimeout    time.Duration // ожидание заголовков ответа (default: 15s)
	TotalTimeout   time.Duration // общий таймаут запроса (default: 60s)

	MaxIdleConnsPerHost int           // default: 4
	IdleConnTimeout     time.Duration // default: 90s

	TLSHandshakeTimeout time.Duration // default: 5s
	KeepAliveInterval   time.Duration // default: 30s
}

// DefaultHTTPClientConfig возвращает конфигурацию по умолчанию.
// Ответ на сутки минутных свечей весит сотни килобайт, поэтому общий таймаут больше обычного.
func DefaultHTTPClientConfig() HTTPClientConfig {
	return HTTPClientConfig{
		ConnectTimeout:      5 * time.Second,
		ReadTimeout:         15 * time.Second,
		TotalTimeout:        60 * time.Second,
		MaxIdleConnsPerHost: 4,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		KeepAliveInterval:   30 * time.Second,
	}
}

// HTTPClient - общий HTTP клиент источников с пулом соединений
type HTTPClient struct {
	client *http.Client
	config HTTPClientConfig
}

var (
	globalClient     *HTTPClient
	globalClientOnce sync.Once
)

// GetGlobalHTTPClient возвращает общий клиент с настройками по умолчанию
func GetGlobalHTTPClient() *HTTPClient {
	globalClientOnce.Do(func() {
		globalClient = NewHTTPClient(DefaultHTTPClientConfig())
	})
	return globalClient
}

// NewHTTPClient создаёт клиент с заданной конфигурацией
func NewHTTPClient(config HTTPClientConfig) *HTTPClient {
	dialer := &net.Dialer{
		Timeout:   config.ConnectTimeout,
		KeepAlive: config.KeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return dialer.DialContext(ctx, network, addr)
		},
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConnsPerHost: config.MaxIdleConnsPerHost,
		IdleConnTimeout:     config.IdleConnTimeout,
		TLSHandshakeTimeout: config.TLSHandshakeTimeout,
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		ForceAttemptHTTP2:     true,
		ResponseHeaderTimeout: config.ReadTimeout,
	}

	return &HTTPClient{
		client: &http.Client{
			Transport: transport,
			Timeout:   config.TotalTimeout,
		},
		config: config,
	}
}

// WrapHTTPClient оборачивает готовый http.Client (например, из httptest)
func WrapHTTPClient(c *http.Client) *HTTPClient {
	return &HTTPClient{client: c, config: DefaultHTTPClientConfig()}
}

func (hc *HTTPClient) Do(req *http.Request) (*http.Response, error) {
	return hc.client.Do(req)
}

// GetClient возвращает базовый http.Client
func (hc *HTTPClient) GetClient() *http.Client {
	return hc.client
}

// Close закрывает все idle соединения
func (hc *HTTPClient) Close() {
	hc.client.CloseIdleConnections()
}

// CloseGlobalClient закрывает общий клиент при завершении приложения
func CloseGlobalClient() {
	if globalClient != nil {
		globalClient.Close()
	}
}
