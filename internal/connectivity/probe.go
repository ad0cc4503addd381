package connectivity

import (
	"context"
	"log"
	"net/http"
	"time"
)

// Probe answers the boolean "currently connected" question.
type Probe interface {
	// Online reports whether the network is reachable right now.
	Online(ctx context.Context) bool
}

// HTTPProbe checks reachability by issuing a HEAD request against a known
// endpoint (typically the platform API's health route). Any HTTP response
// counts as online; only transport-level failure counts as offline.
type HTTPProbe struct {
	// URL is the endpoint to probe.
	URL string

	// Timeout bounds each probe (default 5s).
	Timeout time.Duration

	// Client is the HTTP client to probe with (default http.DefaultClient).
	Client *http.Client
}

// Online implements Probe.
func (p *HTTPProbe) Online(ctx context.Context) bool {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	client := p.Client
	if client == nil {
		client = http.DefaultClient
	}

	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.URL, nil)
	if err != nil {
		return false
	}

	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return true
}

// Notifier is the optional passive notification surface, fired when the
// visible status becomes offline and notifications are enabled.
type Notifier interface {
	Notify(title, message string)
}

// LogNotifier writes notifications to a logger. It is the default surface
// for headless deployments.
type LogNotifier struct {
	Logger *log.Logger
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(title, message string) {
	if n.Logger == nil {
		log.Printf("NOTICE: %s: %s", title, message)
		return
	}
	n.Logger.Printf("NOTICE: %s: %s", title, message)
}
