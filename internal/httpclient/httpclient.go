// Package httpclient reconstructs the upstream codebase's httpclients.NewClient
// factory (absent from the retrieved pack but required by every adapter that
// calls it), giving each upstream target its own pooled resty.Client with
// request logging and a connection cap.
package httpclient

import (
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"resty.dev/v3"

	"github.com/opskb/ragd/internal/logging"
)

// MaxConnsPerTarget is P_conn from spec §5: the shared pool cap per upstream
// target.
const MaxConnsPerTarget = 32

// NewClient builds a resty.Client scoped to one named upstream target
// (embedding provider, vector store, or LLM provider), logging every
// request's method/URL/status/latency the way the upstream codebase's
// LoggerMiddleware does for inbound requests.
func NewClient(name string) *resty.Client {
	transport := &http.Transport{
		MaxConnsPerHost:     MaxConnsPerTarget,
		MaxIdleConnsPerHost: MaxConnsPerTarget,
	}

	client := resty.New().
		SetTransport(transport).
		SetTimeout(30 * time.Second).
		SetRetryCount(0) // adapters own their own retry policy per spec §4.3

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		req.SetHeader("User-Agent", "ragd/"+name)
		return nil
	})
	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logging.GetLogger().WithFields(logrus.Fields{
			"client":  name,
			"method":  resp.Request.Method,
			"url":     resp.Request.URL,
			"status":  resp.StatusCode(),
			"latency": resp.Duration().String(),
		}).Debug("upstream request")
		return nil
	})
	return client
}
