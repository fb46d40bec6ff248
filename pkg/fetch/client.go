package fetch

import (
	"fmt"
	"net"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/prdigest/pr-digest/pkg/config"
)

const maxRedirects = 10

// NewClient builds the shared HTTP client used for GitHub and LLM calls.
// Settings are expected to be defaulted by AppConfig.Validate.
func NewClient(cfg config.HTTPClientConfig, log *logrus.Entry) *http.Client {
	forceHTTP2 := true
	if cfg.ForceAttemptHTTP2 != nil {
		forceHTTP2 = *cfg.ForceAttemptHTTP2
	}
	log.WithFields(logrus.Fields{
		"timeout":         cfg.Timeout,
		"max_idle":        cfg.MaxIdleConns,
		"max_idle_per_host": cfg.MaxIdleConnsPerHost,
		"http2":           forceHTTP2,
	}).Debug("Initializing HTTP client")

	dialer := &net.Dialer{Timeout: cfg.DialerTimeout, KeepAlive: cfg.DialerKeepAlive}
	return &http.Client{
		Timeout: cfg.Timeout,
		Transport: &http.Transport{
			Proxy:                  http.ProxyFromEnvironment,
			DialContext:            dialer.DialContext,
			ForceAttemptHTTP2:      forceHTTP2,
			MaxIdleConns:           cfg.MaxIdleConns,
			MaxIdleConnsPerHost:    cfg.MaxIdleConnsPerHost,
			IdleConnTimeout:        cfg.IdleConnTimeout,
			TLSHandshakeTimeout:    cfg.TLSHandshakeTimeout,
			ExpectContinueTimeout:  cfg.ExpectContinueTimeout,
			MaxResponseHeaderBytes: 1 << 20,
		},
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("stopped after %d redirects", maxRedirects)
			}
			log.Debugf("Redirect %s -> %s", via[len(via)-1].URL, req.URL)
			return nil
		},
	}
}
