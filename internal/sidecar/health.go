package sidecar

import (
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
)

var healthClient = resty.New().
	SetTimeout(2 * time.Second).
	SetRetryCount(0)

// probeHealth reports whether the health endpoint answered with a
// non-server-error status. Connection failures simply mean "not yet".
func probeHealth(url string) bool {
	resp, err := healthClient.R().Get(url)
	if err != nil {
		return false
	}
	return resp.StatusCode() < http.StatusInternalServerError
}
