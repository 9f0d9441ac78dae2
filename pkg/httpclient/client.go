package httpclient

import (
	"net"
	"net/http"
	"time"
)

// Controller embeds an http.Client
// and uses it internally
type Controller struct {
	*http.Client
}

var Client Controller

func init() {
	client := &http.Client{
		Transport: &http.Transport{
			// TCP connect timeout
			DialContext: (&net.Dialer{
				Timeout: time.Second * 3,
			}).DialContext,
			MaxIdleConnsPerHost: 50,

			// time to wait for response headers
			ResponseHeaderTimeout: time.Second * 5,
		},
		// total per-request timeout
		Timeout: 10 * time.Second,
	}
	Client = Controller{Client: client}
}
