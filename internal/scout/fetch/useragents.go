package fetch

import "sync/atomic"

// defaultUserAgents is the built-in rotation pool. Store fronts throttle
// obvious bot traffic harder, so requests carry current desktop browser
// identities.
var defaultUserAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/125.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.5 Safari/605.1.15",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:127.0) Gecko/20100101 Firefox/127.0",
}

// userAgentPool rotates user agent strings round-robin across requests.
type userAgentPool struct {
	agents []string
	next   atomic.Uint64
}

func newUserAgentPool(agents []string) *userAgentPool {
	if len(agents) == 0 {
		agents = defaultUserAgents
	}
	return &userAgentPool{agents: agents}
}

func (p *userAgentPool) Next() string {
	n := p.next.Add(1) - 1
	return p.agents[n%uint64(len(p.agents))]
}
