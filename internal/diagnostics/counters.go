package diagnostics

import (
	"net/url"
	"sort"
	"sync"
	"time"
)

const counterWindow = time.Hour

// Counters holds the rolling in-memory failure tallies the storefront's
// serving path bumps. Stamps older than an hour fall out of every read.
type Counters struct {
	mu             sync.Mutex
	cartAddFails   []time.Time
	renderFails    []time.Time
	notFound       []time.Time
	image404ByHost map[string][]time.Time
	now            func() time.Time
}

func NewCounters() *Counters {
	return &Counters{
		image404ByHost: map[string][]time.Time{},
		now:            time.Now,
	}
}

func (c *Counters) CartAddFailed()   { c.bump(&c.cartAddFails) }
func (c *Counters) RenderFailed()    { c.bump(&c.renderFails) }
func (c *Counters) ProductNotFound() { c.bump(&c.notFound) }

func (c *Counters) Image404(imageURL string) {
	host := "unknown"
	if u, err := url.Parse(imageURL); err == nil && u.Host != "" {
		host = u.Host
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.image404ByHost[host] = append(c.image404ByHost[host], c.now())
}

func (c *Counters) bump(dst *[]time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	*dst = append(*dst, c.now())
}

type HostCount struct {
	Host  string `json:"host"`
	Count int    `json:"count"`
}

// CounterSnapshot is the point-in-time view Collect embeds.
type CounterSnapshot struct {
	CartAddFailures  int         `json:"cart_add_failures"`
	RenderFailures   int         `json:"render_failures"`
	ProductNotFound  int         `json:"product_not_found"`
	Image404ByDomain []HostCount `json:"image_404_by_domain"` // top 10
}

func (c *Counters) Snapshot() CounterSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-counterWindow)
	c.cartAddFails = trim(c.cartAddFails, cutoff)
	c.renderFails = trim(c.renderFails, cutoff)
	c.notFound = trim(c.notFound, cutoff)

	hosts := make([]HostCount, 0, len(c.image404ByHost))
	for host, stamps := range c.image404ByHost {
		stamps = trim(stamps, cutoff)
		if len(stamps) == 0 {
			delete(c.image404ByHost, host)
			continue
		}
		c.image404ByHost[host] = stamps
		hosts = append(hosts, HostCount{Host: host, Count: len(stamps)})
	}
	sort.Slice(hosts, func(i, j int) bool {
		if hosts[i].Count != hosts[j].Count {
			return hosts[i].Count > hosts[j].Count
		}
		return hosts[i].Host < hosts[j].Host
	})
	if len(hosts) > 10 {
		hosts = hosts[:10]
	}

	return CounterSnapshot{
		CartAddFailures:  len(c.cartAddFails),
		RenderFailures:   len(c.renderFails),
		ProductNotFound:  len(c.notFound),
		Image404ByDomain: hosts,
	}
}

func trim(stamps []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(stamps) && !stamps[i].After(cutoff) {
		i++
	}
	return stamps[i:]
}
